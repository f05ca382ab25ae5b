package server

import (
	"path/filepath"

	"github.com/codetesla51/raw-http/http1"
)

// CreateResponse builds a response with a fixed body. An empty reason
// uses the standard reason phrase for status.
func CreateResponse(status int, contentType, reason string, body []byte) *http1.Response {
	resp := http1.NewResponse(status).WithBytes(body)
	resp.Reason = reason
	if contentType != "" {
		resp.Header.Set(http1.HeaderContentType, contentType)
	}
	return resp
}

// Text builds a text/plain response.
func Text(status int, body string) *http1.Response {
	return CreateResponse(status, "text/plain; charset=utf-8", "", []byte(body))
}

// notFound returns a 404 response, using the custom page in dir if available
func notFound(dir string) *http1.Response {
	if dir != "" {
		if content, ok := readFileContent(filepath.Join(dir, "404.html")); ok {
			return CreateResponse(404, "text/html", "", content)
		}
	}
	return Text(404, "Route Not Found")
}

// errorResponse is the minimal response sent for protocol errors and
// handler failures.
func errorResponse(status int) *http1.Response {
	text := http1.StatusText(status)
	if text == "" {
		text = "Error"
	}
	return Text(status, text)
}
