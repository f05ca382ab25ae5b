package router

import (
	"fmt"
	"strings"
)

// Route describes one registration.
type Route struct {
	Method   string
	Template string
}

// Router keeps one Tree per method. Registration is not synchronized: all
// Map calls must complete, typically followed by Seal, before the router is
// shared with serving goroutines.
type Router[H any] struct {
	trees  map[string]*Tree[H]
	routes []Route
	sealed bool
}

// New returns an empty router.
func New[H any]() *Router[H] {
	return &Router[H]{trees: make(map[string]*Tree[H])}
}

// Map registers h for method and template. Templates look like
// /literal/{param}/{*rest}.
func (r *Router[H]) Map(method, template string, h H) error {
	if r.sealed {
		return fmt.Errorf("%w: %s %s", ErrSealed, method, template)
	}
	method = strings.ToUpper(method)
	if method == "" {
		return fmt.Errorf("%w %q: empty method", ErrInvalidTemplate, template)
	}
	t, ok := r.trees[method]
	if !ok {
		t = &Tree[H]{}
		r.trees[method] = t
	}
	if err := t.Map(template, h); err != nil {
		return err
	}
	r.routes = append(r.routes, Route{Method: method, Template: template})
	return nil
}

// Match looks path up in the tree for method, appending captured
// parameters to ps.
func (r *Router[H]) Match(method, path string, ps *Params) (H, bool) {
	t, ok := r.trees[method]
	if !ok {
		var zero H
		return zero, false
	}
	return t.Match(path, ps)
}

// Seal rejects further registrations.
func (r *Router[H]) Seal() { r.sealed = true }

// Sealed reports whether Seal was called.
func (r *Router[H]) Sealed() bool { return r.sealed }

// Routes lists registrations in the order they were made.
func (r *Router[H]) Routes() []Route {
	return append([]Route(nil), r.routes...)
}
