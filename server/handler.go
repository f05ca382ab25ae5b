package server

import "github.com/codetesla51/raw-http/http1"

// Handler answers a request. A nil response means the request was not
// handled and the next handler in a pipeline gets a chance.
type Handler interface {
	Handle(req *http1.Request) *http1.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *http1.Request) *http1.Response

func (f HandlerFunc) Handle(req *http1.Request) *http1.Response { return f(req) }

// Pipeline chains handlers; the first non-nil response wins.
func Pipeline(handlers ...Handler) Handler {
	return HandlerFunc(func(req *http1.Request) *http1.Response {
		for _, h := range handlers {
			if resp := h.Handle(req); resp != nil {
				return resp
			}
		}
		return nil
	})
}
