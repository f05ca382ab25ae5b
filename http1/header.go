package http1

import (
	"strconv"
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Lookups ignore case and
// duplicates are kept in arrival order.
type Header []Field

// Get returns the first value for name.
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether at least one field is named name.
func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Values returns every value for name in order.
func (h Header) Values(name string) []string {
	var vv []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			vv = append(vv, f.Value)
		}
	}
	return vv
}

// Add appends a field.
func (h *Header) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// Set replaces every field named name with a single one.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	kept := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	for i := len(kept); i < len(*h); i++ {
		(*h)[i] = Field{}
	}
	*h = kept
}

// HasToken reports whether any comma-separated element of the name fields
// equals token, ignoring case.
func (h Header) HasToken(name, token string) bool {
	for _, f := range h {
		if !strings.EqualFold(f.Name, name) {
			continue
		}
		for _, t := range strings.Split(f.Value, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

// lastToken returns the final comma-separated element across all name
// fields.
func (h Header) lastToken(name string) (string, bool) {
	var last string
	found := false
	for _, f := range h {
		if !strings.EqualFold(f.Name, name) {
			continue
		}
		for _, t := range strings.Split(f.Value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				last, found = t, true
			}
		}
	}
	return last, found
}

// contentLength reads the declared body length. Repeated fields and list
// values are accepted only when they all agree.
func (h Header) contentLength() (n int64, present bool, err error) {
	n = -1
	for _, f := range h {
		if !strings.EqualFold(f.Name, HeaderContentLength) {
			continue
		}
		for _, v := range strings.Split(f.Value, ",") {
			v = strings.TrimSpace(v)
			m, ok := parseDecimal(v)
			if !ok {
				return 0, true, newError(KindHeaderSyntax, "invalid Content-Length %q", f.Value)
			}
			if n >= 0 && m != n {
				return 0, true, newError(KindHeaderSyntax, "conflicting Content-Length values")
			}
			n = m
		}
		present = true
	}
	if !present {
		return 0, false, nil
	}
	return n, true, nil
}

func parseDecimal(s string) (int64, bool) {
	if s == "" || len(s) > 18 {
		return 0, false
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

// Canonical names of the headers the engine interprets or sees often.
const (
	HeaderHost             = "Host"
	HeaderConnection       = "Connection"
	HeaderContentLength    = "Content-Length"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderContentType      = "Content-Type"
	HeaderExpect           = "Expect"
	HeaderUserAgent        = "User-Agent"
	HeaderTrailer          = "Trailer"
)

var knownHeaders = []string{
	"Accept",
	"Accept-Charset",
	"Accept-Encoding",
	"Accept-Language",
	"Accept-Ranges",
	"Age",
	"Allow",
	"Authorization",
	"Cache-Control",
	HeaderConnection,
	"Content-Encoding",
	"Content-Language",
	HeaderContentLength,
	"Content-Location",
	"Content-Range",
	HeaderContentType,
	"Cookie",
	"Date",
	"ETag",
	HeaderExpect,
	"Expires",
	"Forwarded",
	"From",
	HeaderHost,
	"If-Match",
	"If-Modified-Since",
	"If-None-Match",
	"If-Range",
	"If-Unmodified-Since",
	"Keep-Alive",
	"Last-Modified",
	"Location",
	"Max-Forwards",
	"Origin",
	"Pragma",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Range",
	"Referer",
	"Retry-After",
	"Server",
	"Set-Cookie",
	"TE",
	HeaderTrailer,
	HeaderTransferEncoding,
	"Upgrade",
	HeaderUserAgent,
	"Vary",
	"Via",
	"WWW-Authenticate",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Request-Id",
}

// knownByLen indexes knownHeaders by name length.
var knownByLen [32][]string

var tchar [256]bool

func init() {
	for _, name := range knownHeaders {
		knownByLen[len(name)] = append(knownByLen[len(name)], name)
	}
	for c := 'a'; c <= 'z'; c++ {
		tchar[c] = true
		tchar[c-'a'+'A'] = true
	}
	for c := '0'; c <= '9'; c++ {
		tchar[c] = true
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		tchar[c] = true
	}
}

// headerName returns the canonical constant for recognized names, so they
// cost no allocation, and a copy of b otherwise.
func headerName(b []byte) string {
	if len(b) < len(knownByLen) {
		for _, name := range knownByLen[len(b)] {
			if equalFoldBytes(b, name) {
				return name
			}
		}
	}
	return string(b)
}

func equalFoldBytes(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		x, y := b[i], s[i]
		if x == y {
			continue
		}
		if 'A' <= x && x <= 'Z' {
			x += 'a' - 'A'
		}
		if 'A' <= y && y <= 'Z' {
			y += 'a' - 'A'
		}
		if x != y {
			return false
		}
	}
	return true
}

func validToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if !tchar[c] {
			return false
		}
	}
	return true
}

func validTokenString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !tchar[s[i]] {
			return false
		}
	}
	return true
}

// headerValue validates a raw field value and trims surrounding whitespace.
func headerValue(b []byte) (string, bool) {
	for _, c := range b {
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return "", false
		}
	}
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t') {
		j--
	}
	return string(b[i:j]), true
}

// sanitizeHeaderValue removes CR, LF and other control bytes except HTAB,
// and leading whitespace the parser would reject.
func sanitizeHeaderValue(v string) string {
	v = strings.TrimLeft(v, " \t")
	clean := true
	for i := 0; i < len(v); i++ {
		if c := v[i]; (c < 0x20 && c != '\t') || c == 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func formatLength(n int64) string {
	return strconv.FormatInt(n, 10)
}
