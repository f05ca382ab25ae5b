package http1

import "strings"

// TargetForm is the shape of a request target.
type TargetForm uint8

const (
	OriginForm TargetForm = iota
	AbsoluteForm
	AuthorityForm
	AsteriskForm
)

// Target is a request target split into its components. Percent-encoding
// is kept as received.
type Target struct {
	Raw       string
	Form      TargetForm
	Scheme    string
	Authority string
	Path      string
	Query     string
	Fragment  string
}

// RequestURI returns the target as it goes on a request line.
func (t Target) RequestURI() string {
	if t.Raw != "" {
		return t.Raw
	}
	switch t.Form {
	case AsteriskForm:
		return "*"
	case AuthorityForm:
		return t.Authority
	}
	var b strings.Builder
	if t.Form == AbsoluteForm {
		b.WriteString(t.Scheme)
		b.WriteString("://")
		b.WriteString(t.Authority)
	}
	if t.Path == "" {
		b.WriteByte('/')
	} else {
		b.WriteString(t.Path)
	}
	if t.Query != "" {
		b.WriteByte('?')
		b.WriteString(t.Query)
	}
	return b.String()
}

// ParseTarget classifies and splits raw according to the method it came
// with.
func ParseTarget(m Method, raw string) (Target, error) {
	t := Target{Raw: raw}
	if raw == "" {
		return t, newError(KindMalformedStartLine, "empty request target")
	}
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c <= ' ' || c == 0x7f {
			return t, newError(KindMalformedStartLine, "invalid byte in request target")
		}
	}

	switch {
	case m == MethodConnect:
		if !validAuthority(raw, false) {
			return t, newError(KindMalformedStartLine, "CONNECT target %q is not host[:port]", raw)
		}
		t.Form, t.Authority = AuthorityForm, raw
		return t, nil
	case raw == "*":
		if m != MethodOptions {
			return t, newError(KindMalformedStartLine, "asterisk target is only valid for OPTIONS")
		}
		t.Form = AsteriskForm
		return t, nil
	case raw[0] == '/':
		t.Form = OriginForm
		t.Path, t.Query, t.Fragment = splitPath(raw)
		return t, nil
	}

	i := strings.Index(raw, "://")
	if i <= 0 || !validScheme(raw[:i]) {
		return t, newError(KindMalformedStartLine, "invalid request target %q", raw)
	}
	t.Form, t.Scheme = AbsoluteForm, strings.ToLower(raw[:i])
	rest := raw[i+3:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	t.Authority = rest[:end]
	if t.Authority == "" || !validAuthority(t.Authority, true) {
		return t, newError(KindMalformedStartLine, "invalid authority in %q", raw)
	}
	t.Path, t.Query, t.Fragment = splitPath(rest[end:])
	if t.Path == "" {
		t.Path = "/"
	}
	return t, nil
}

// splitPath splits at the first '#' and then at the first '?' before it.
func splitPath(s string) (path, query, fragment string) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s, fragment = s[:i], s[i+1:]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s, query = s[:i], s[i+1:]
	}
	return s, query, fragment
}

func validScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return s != ""
}

// validAuthority checks host[:port], with an optional userinfo prefix when
// userinfo is set.
func validAuthority(s string, userinfo bool) bool {
	if strings.ContainsAny(s, "/?#") {
		return false
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		if !userinfo {
			return false
		}
		s = s[i+1:]
	}
	host, port := s, ""
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return false
		}
		host, s = s[:end+1], s[end+1:]
		if s != "" {
			if s[0] != ':' {
				return false
			}
			port = s[1:]
			if port == "" {
				return false
			}
		}
	} else if i := strings.LastIndexByte(s, ':'); i >= 0 {
		host, port = s[:i], s[i+1:]
		if port == "" {
			return false
		}
	}
	if host == "" {
		return false
	}
	for i := 0; i < len(port); i++ {
		if port[i] < '0' || port[i] > '9' {
			return false
		}
	}
	return len(port) <= 5
}
