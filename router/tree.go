package router

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidTemplate reports a template that cannot be parsed.
	ErrInvalidTemplate = errors.New("router: invalid template")
	// ErrParamConflict reports two templates naming the parameter or
	// catch-all at the same position differently.
	ErrParamConflict = errors.New("router: conflicting parameter names")
	// ErrDuplicateRoute reports a template registered twice.
	ErrDuplicateRoute = errors.New("router: duplicate route")
	// ErrSealed reports a registration after Seal.
	ErrSealed = errors.New("router: routes are sealed")
)

type kind uint8

const (
	kindLiteral kind = iota
	kindParam
	kindCatchAll
)

type node[H any] struct {
	value string // literal value, or the parameter name

	// print holds the first four bytes of a literal of at least four bytes,
	// compared before the full value.
	print    uint32
	hasPrint bool

	literals []*node[H]
	param    *node[H]
	catchAll *node[H]

	depth      int
	handler    H
	hasHandler bool
	template   string
}

func fingerprint(s string) uint32 {
	return uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24
}

func (n *node[H]) literal(seg string) *node[H] {
	long := len(seg) >= 4
	var fp uint32
	if long {
		fp = fingerprint(seg)
	}
	for _, c := range n.literals {
		if c.hasPrint && (!long || c.print != fp) {
			continue
		}
		if c.value == seg {
			return c
		}
	}
	return nil
}

// Tree matches paths for a single method. Every Map must happen before the
// first Match; afterwards the tree is read-only and safe for concurrent
// matching.
type Tree[H any] struct {
	root node[H]
}

type segment struct {
	kind  kind
	value string
}

func parseTemplate(template string) ([]segment, error) {
	if template == "" || template[0] != '/' {
		return nil, fmt.Errorf("%w %q: must start with /", ErrInvalidTemplate, template)
	}
	if template == "/" {
		return nil, nil
	}
	parts := strings.Split(template[1:], "/")
	segs := make([]segment, 0, len(parts))
	names := make(map[string]struct{})
	for i, p := range parts {
		opens, closes := strings.Count(p, "{"), strings.Count(p, "}")
		if opens == 0 && closes == 0 {
			segs = append(segs, segment{kind: kindLiteral, value: p})
			continue
		}
		if opens != 1 || closes != 1 || p[0] != '{' || p[len(p)-1] != '}' {
			return nil, fmt.Errorf("%w %q: malformed segment %q", ErrInvalidTemplate, template, p)
		}
		s := segment{kind: kindParam, value: p[1 : len(p)-1]}
		if strings.HasPrefix(s.value, "*") {
			s.kind, s.value = kindCatchAll, s.value[1:]
			if i != len(parts)-1 {
				return nil, fmt.Errorf("%w %q: catch-all must be the last segment", ErrInvalidTemplate, template)
			}
		}
		if s.value == "" || strings.ContainsAny(s.value, "*") {
			return nil, fmt.Errorf("%w %q: invalid parameter name in %q", ErrInvalidTemplate, template, p)
		}
		if _, dup := names[s.value]; dup {
			return nil, fmt.Errorf("%w %q: parameter %q used twice", ErrParamConflict, template, s.value)
		}
		names[s.value] = struct{}{}
		segs = append(segs, s)
	}
	return segs, nil
}

// Map registers h for template.
func (t *Tree[H]) Map(template string, h H) error {
	segs, err := parseTemplate(template)
	if err != nil {
		return err
	}

	n := &t.root
	for _, s := range segs {
		switch s.kind {
		case kindLiteral:
			child := n.literal(s.value)
			if child == nil {
				child = &node[H]{value: s.value, depth: n.depth + 1}
				if len(s.value) >= 4 {
					child.print, child.hasPrint = fingerprint(s.value), true
				}
				n.literals = append(n.literals, child)
			}
			n = child

		case kindParam:
			if n.param == nil {
				n.param = &node[H]{value: s.value, depth: n.depth + 1}
			} else if n.param.value != s.value {
				return fmt.Errorf("%w: %q names {%s} where %q uses {%s}",
					ErrParamConflict, template, s.value, n.param.firstTemplate(), n.param.value)
			}
			n = n.param

		case kindCatchAll:
			if n.catchAll == nil {
				n.catchAll = &node[H]{value: s.value, depth: n.depth + 1}
			} else if n.catchAll.value != s.value {
				return fmt.Errorf("%w: %q names {*%s} where %q uses {*%s}",
					ErrParamConflict, template, s.value, n.catchAll.template, n.catchAll.value)
			}
			n = n.catchAll
		}
	}

	if n.hasHandler {
		return fmt.Errorf("%w: %q", ErrDuplicateRoute, template)
	}
	n.handler, n.hasHandler, n.template = h, true, template
	return nil
}

// firstTemplate returns a template registered at or below n, for error
// messages.
func (n *node[H]) firstTemplate() string {
	if n.hasHandler {
		return n.template
	}
	for _, c := range n.literals {
		if t := c.firstTemplate(); t != "" {
			return t
		}
	}
	for _, c := range []*node[H]{n.param, n.catchAll} {
		if c != nil {
			if t := c.firstTemplate(); t != "" {
				return t
			}
		}
	}
	return ""
}

// frame is a choice point: the node reached, the offset of the segment
// its children consume, the next alternative to try and the parameter count
// to restore before trying it.
type frame[H any] struct {
	n    *node[H]
	off  int
	alt  kind
	done bool
	mark int
}

const maxInlineFrames = 16

// Match finds the handler for path and appends the captured parameters to
// ps. At every node the literal child is tried first, then the parametric
// child, then the catch-all; a branch that ends without a handler is
// abandoned for the next alternative of the closest choice point. On
// failure ps is left unchanged.
func (t *Tree[H]) Match(path string, ps *Params) (H, bool) {
	var zero H
	if path == "" {
		path = "/"
	}
	if path[0] != '/' {
		return zero, false
	}
	segs := 0
	if path != "/" {
		segs = strings.Count(path, "/")
	}

	start := len(*ps)
	var inline [maxInlineFrames]frame[H]
	stack := append(inline[:0], frame[H]{n: &t.root, off: 1, mark: start})

	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		n := f.n
		if !f.done && f.alt == kindLiteral && n.depth == segs && n.hasHandler {
			return n.handler, true
		}
		if !f.done && n.depth == segs && f.off == len(path) {
			// Only "/" ends here with an empty remainder; a catch-all still takes it.
			f.alt = kindCatchAll
		} else if f.done || n.depth >= segs {
			*ps = (*ps)[:f.mark]
			stack = stack[:len(stack)-1]
			continue
		}

		end := len(path)
		if i := strings.IndexByte(path[f.off:], '/'); i >= 0 {
			end = f.off + i
		}
		seg := path[f.off:end]

		switch f.alt {
		case kindLiteral:
			f.alt = kindParam
			if c := n.literal(seg); c != nil {
				stack = append(stack, frame[H]{n: c, off: end + 1, mark: len(*ps)})
			}

		case kindParam:
			f.alt = kindCatchAll
			if c := n.param; c != nil {
				*ps = append((*ps)[:f.mark], Param{Name: c.value, Value: unescape(seg)})
				stack = append(stack, frame[H]{n: c, off: end + 1, mark: len(*ps)})
			}

		case kindCatchAll:
			f.done = true
			if c := n.catchAll; c != nil && c.hasHandler {
				*ps = append((*ps)[:f.mark], Param{Name: c.value, Value: unescape(path[f.off:])})
				return c.handler, true
			}
		}
	}
	*ps = (*ps)[:start]
	return zero, false
}

func unescape(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}
