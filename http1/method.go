package http1

// Method is one of the request methods the engine recognizes.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodGet
	MethodPost
	MethodPut
	MethodDelete
	MethodHead
	MethodOptions
	MethodConnect
)

var methodNames = [...]string{
	MethodUnknown: "",
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodHead:    "HEAD",
	MethodOptions: "OPTIONS",
	MethodConnect: "CONNECT",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return ""
}

// ParseMethod matches a request-line method token. Methods are case
// sensitive.
func ParseMethod(b []byte) (Method, bool) {
	switch string(b) {
	case "GET":
		return MethodGet, true
	case "POST":
		return MethodPost, true
	case "PUT":
		return MethodPut, true
	case "DELETE":
		return MethodDelete, true
	case "HEAD":
		return MethodHead, true
	case "OPTIONS":
		return MethodOptions, true
	case "CONNECT":
		return MethodConnect, true
	}
	return MethodUnknown, false
}

// Version is the HTTP protocol version of a message.
type Version uint8

const (
	VersionUnknown Version = iota
	Version10
	Version11
)

func (v Version) String() string {
	switch v {
	case Version10:
		return "HTTP/1.0"
	case Version11:
		return "HTTP/1.1"
	}
	return ""
}

// ParseVersion accepts exactly the tokens HTTP/1.1 and HTTP/1.0.
func ParseVersion(b []byte) (Version, bool) {
	switch string(b) {
	case "HTTP/1.1":
		return Version11, true
	case "HTTP/1.0":
		return Version10, true
	}
	return VersionUnknown, false
}
