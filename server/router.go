package server

import (
	"github.com/codetesla51/raw-http/http1"
	"github.com/codetesla51/raw-http/router"
)

// Router dispatches requests to handlers registered by method and path
// template. HEAD requests fall back to GET routes.
type Router struct {
	routes *router.Router[Handler]
}

func NewRouter() *Router {
	return &Router{routes: router.New[Handler]()}
}

// Register adds a handler. Templates look like /users/{id}/{*rest}.
func (r *Router) Register(method, path string, h Handler) error {
	return r.routes.Map(method, path, h)
}

// RegisterFunc adds a handler function.
func (r *Router) RegisterFunc(method, path string, f func(*http1.Request) *http1.Response) error {
	return r.Register(method, path, HandlerFunc(f))
}

// Seal freezes the route table; later registrations fail.
func (r *Router) Seal() { r.routes.Seal() }

// Routes lists the registrations in order.
func (r *Router) Routes() []router.Route { return r.routes.Routes() }

// Handle implements Handler. Unmatched requests return nil.
func (r *Router) Handle(req *http1.Request) *http1.Response {
	if req.Target.Form != http1.OriginForm && req.Target.Form != http1.AbsoluteForm {
		return nil
	}
	var ps router.Params
	h, ok := r.routes.Match(req.Method.String(), req.Target.Path, &ps)
	if !ok && req.Method == http1.MethodHead {
		ps = ps[:0]
		h, ok = r.routes.Match(http1.MethodGet.String(), req.Target.Path, &ps)
	}
	if !ok {
		return nil
	}
	if len(ps) > 0 {
		req.Set(ParamsKey, ps)
	}
	return h.Handle(req)
}
