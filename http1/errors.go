package http1

import (
	"errors"
	"fmt"
)

// Kind classifies wire-level failures.
type Kind uint8

const (
	KindMalformedStartLine Kind = iota + 1
	KindMalformedVersion
	KindUnsupportedMethod
	KindHeaderSyntax
	KindHeaderBlockTooLarge
	KindBodyTooLarge
	KindFramingMismatch
	KindChunkedSyntax
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindMalformedStartLine:
		return "malformed start line"
	case KindMalformedVersion:
		return "unsupported protocol version"
	case KindUnsupportedMethod:
		return "unsupported method"
	case KindHeaderSyntax:
		return "header syntax error"
	case KindHeaderBlockTooLarge:
		return "header block too large"
	case KindBodyTooLarge:
		return "body too large"
	case KindFramingMismatch:
		return "framing mismatch"
	case KindChunkedSyntax:
		return "chunked syntax error"
	case KindTransport:
		return "transport failure"
	default:
		return fmt.Sprintf("unknown error kind %d", uint8(k))
	}
}

// Status returns the response status suggested for the kind, or 0 when no
// response should be attempted.
func (k Kind) Status() int {
	switch k {
	case KindMalformedStartLine, KindHeaderSyntax:
		return 400
	case KindMalformedVersion:
		return 505
	case KindUnsupportedMethod:
		return 405
	case KindHeaderBlockTooLarge:
		return 431
	case KindBodyTooLarge:
		return 413
	default:
		return 0
	}
}

// Fatal reports whether the wire can no longer be trusted after an error of
// this kind.
func (k Kind) Fatal() bool {
	switch k {
	case KindFramingMismatch, KindChunkedSyntax, KindTransport:
		return true
	}
	return false
}

// Error is a wire-level failure carrying the status a server should answer
// with.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return "http1: " + msg + ": " + e.Err.Error()
	}
	return "http1: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrMalformedStartLine  = &Error{Kind: KindMalformedStartLine, Status: 400}
	ErrMalformedVersion    = &Error{Kind: KindMalformedVersion, Status: 505}
	ErrUnsupportedMethod   = &Error{Kind: KindUnsupportedMethod, Status: 405}
	ErrHeaderSyntax        = &Error{Kind: KindHeaderSyntax, Status: 400}
	ErrHeaderBlockTooLarge = &Error{Kind: KindHeaderBlockTooLarge, Status: 431}
	ErrBodyTooLarge        = &Error{Kind: KindBodyTooLarge, Status: 413}
	ErrFramingMismatch     = &Error{Kind: KindFramingMismatch}
	ErrChunkedSyntax       = &Error{Kind: KindChunkedSyntax}
	ErrTransport           = &Error{Kind: KindTransport}
)

func newError(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Status: k.Status(), Msg: fmt.Sprintf(format, args...)}
}

func transportError(op string, err error) *Error {
	return &Error{Kind: KindTransport, Msg: op, Err: err}
}

// StatusOf returns the status suggested by err, or 0 when err carries none.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsFatal reports whether err leaves the connection unusable.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Fatal()
	}
	return err != nil
}
