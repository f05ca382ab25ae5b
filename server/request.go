package server

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/codetesla51/raw-http/http1"
	"github.com/codetesla51/raw-http/router"
)

// Request property keys set by the server before a handler runs.
const (
	ParamsKey = "router.params"
	ConnKey   = "server.conn"
	TLSKey    = "server.tls"
)

// Params returns the parameters captured by the route that matched req.
func Params(req *http1.Request) router.Params {
	v, _ := req.Get(ParamsKey)
	ps, _ := v.(router.Params)
	return ps
}

// Param returns one captured route parameter, or "".
func Param(req *http1.Request, name string) string {
	return Params(req).ByName(name)
}

// Conn returns the connection req arrived on.
func Conn(req *http1.Request) net.Conn {
	v, _ := req.Get(ConnKey)
	c, _ := v.(net.Conn)
	return c
}

// TLS returns the TLS state of the connection, or nil for plain TCP.
func TLS(req *http1.Request) *tls.ConnectionState {
	v, _ := req.Get(TLSKey)
	s, _ := v.(*tls.ConnectionState)
	return s
}

// Query decodes the query string of the request target.
func Query(req *http1.Request) map[string]string {
	return parseKeyValuePairs(req.Target.Query)
}

// Form reads the request body and decodes it as JSON or as a urlencoded
// form, depending on its content type.
func Form(req *http1.Request) (map[string]string, error) {
	if req.Body == nil {
		return map[string]string{}, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(req.Header.Get(http1.HeaderContentType), "application/json") {
		return parseJSONBody(data)
	}
	return parseKeyValuePairs(string(data)), nil
}

// Browser names the browser family in the User-Agent header.
func Browser(req *http1.Request) string {
	return detectBrowser(req.Header.Get(http1.HeaderUserAgent))
}

func parseKeyValuePairs(data string) map[string]string {
	resultMap := make(map[string]string, 8)
	if data == "" {
		return resultMap
	}
	for _, pair := range strings.Split(data, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		resultMap[safeURLDecode(key)] = safeURLDecode(value)
	}
	return resultMap
}

func parseJSONBody(bodyData []byte) (map[string]string, error) {
	result := make(map[string]string, 8)
	if len(bytes.TrimSpace(bodyData)) == 0 {
		return result, nil
	}

	var jsonData map[string]any
	if err := json.Unmarshal(bodyData, &jsonData); err != nil {
		return nil, fmt.Errorf("decoding JSON form: %w", err)
	}
	for key, value := range jsonData {
		result[key] = fmt.Sprintf("%v", value)
	}
	return result, nil
}

func safeURLDecode(encoded string) string {
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return encoded
	}
	return decoded
}

func detectBrowser(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Firefox"):
		return "Firefox"
	case strings.Contains(userAgent, "Edg/"):
		return "Edge"
	case strings.Contains(userAgent, "Chrome"):
		return "Chrome"
	case strings.Contains(userAgent, "Safari"):
		return "Safari"
	default:
		return "Unknown Browser"
	}
}
