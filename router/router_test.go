package router

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMap(t *testing.T, r *Router[string], method, template string) {
	t.Helper()
	require.NoError(t, r.Map(method, template, template))
}

func TestRouterPrecedence(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = New[string]()
	)
	require.NoError(t, r.Map("GET", "/a/{x}/b", "H1"))
	require.NoError(t, r.Map("GET", "/a/c/b", "H2"))

	var ps Params
	h, ok := r.Match("GET", "/a/c/b", &ps)
	assert.True(ok)
	assert.Equal("H2", h)
	assert.Empty(ps)

	h, ok = r.Match("GET", "/a/z/b", &ps)
	assert.True(ok)
	assert.Equal("H1", h)
	assert.Equal(Params{{Name: "x", Value: "z"}}, ps)
}

func TestRouterCatchAll(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = New[string]()
	)
	require.NoError(t, r.Map("GET", "/files/{*path}", "H3"))

	var ps Params
	h, ok := r.Match("GET", "/files/a/b/c", &ps)
	assert.True(ok)
	assert.Equal("H3", h)
	assert.Equal("a/b/c", ps.ByName("path"))

	ps = ps[:0]
	_, ok = r.Match("GET", "/files/", &ps)
	assert.True(ok)
	assert.Equal(Params{{Name: "path", Value: ""}}, ps)

	ps = ps[:0]
	_, ok = r.Match("GET", "/files", &ps)
	assert.False(ok, "a catch-all needs a segment to capture")
	assert.Empty(ps)
}

func TestRouterRootCatchAll(t *testing.T) {
	r := New[string]()
	mustMap(t, r, "GET", "/{*rest}")
	mustMap(t, r, "GET", "/files/{*p}")

	tests := []struct {
		path string
		want string
		ps   Params
	}{
		{"/", "/{*rest}", Params{{Name: "rest", Value: ""}}},
		{"", "/{*rest}", Params{{Name: "rest", Value: ""}}},
		{"/x", "/{*rest}", Params{{Name: "rest", Value: "x"}}},
		{"/x/y/", "/{*rest}", Params{{Name: "rest", Value: "x/y/"}}},
		{"/files/", "/files/{*p}", Params{{Name: "p", Value: ""}}},
		{"/files", "/{*rest}", Params{{Name: "rest", Value: "files"}}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var ps Params
			h, ok := r.Match("GET", tt.path, &ps)
			require.True(t, ok)
			assert.Equal(t, tt.want, h)
			assert.Equal(t, tt.ps, ps)
		})
	}

	mustMap(t, r, "GET", "/")
	var ps Params
	h, ok := r.Match("GET", "/", &ps)
	require.True(t, ok)
	assert.Equal(t, "/", h, "a root handler wins over the catch-all")
	assert.Empty(t, ps)
}

func TestRouterBacktracking(t *testing.T) {
	r := New[string]()
	for _, tmpl := range []string{
		"/",
		"/users",
		"/users/new/edit",
		"/users/{id}",
		"/users/{id}/posts/{post}",
		"/users/{id}/{*rest}",
		"/static/{*path}",
		"/static/css/site.css",
	} {
		mustMap(t, r, "GET", tmpl)
	}

	tests := []struct {
		path   string
		want   string
		params Params
	}{
		{"/", "/", Params{}},
		{"/users", "/users", Params{}},
		{"/users/new", "/users/{id}", Params{{"id", "new"}}},
		{"/users/new/edit", "/users/new/edit", Params{}},
		{"/users/new/posts/7", "/users/{id}/posts/{post}", Params{{"id", "new"}, {"post", "7"}}},
		{"/users/42/posts", "/users/{id}/{*rest}", Params{{"id", "42"}, {"rest", "posts"}}},
		{"/users/42/x/y/z", "/users/{id}/{*rest}", Params{{"id", "42"}, {"rest", "x/y/z"}}},
		{"/static/css/site.css", "/static/css/site.css", Params{}},
		{"/static/css/other.css", "/static/{*path}", Params{{"path", "css/other.css"}}},
		{"/missing", "", nil},
		{"/users/", "/users/{id}", Params{{"id", ""}}},
		{"relative", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ps := Params{}
			h, ok := r.Match("GET", tt.path, &ps)
			if tt.want == "" {
				assert.False(t, ok)
				assert.Empty(t, ps)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, h)
			assert.Equal(t, tt.params, ps)
		})
	}
}

func TestRouterDecoding(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = New[string]()
	)
	mustMap(t, r, "GET", "/tags/{tag}")
	mustMap(t, r, "GET", "/raw/{*rest}")

	var ps Params
	_, ok := r.Match("GET", "/tags/a%2Fb%20c", &ps)
	assert.True(ok)
	assert.Equal("a/b c", ps.ByName("tag"))

	ps = nil
	_, ok = r.Match("GET", "/tags/100%", &ps)
	assert.True(ok)
	assert.Equal("100%", ps.ByName("tag"), "invalid escapes keep the raw value")

	ps = nil
	_, ok = r.Match("GET", "/raw/x%20y/z", &ps)
	assert.True(ok)
	assert.Equal("x y/z", ps.ByName("rest"))
}

func TestRouterFingerprint(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = New[string]()
	)
	mustMap(t, r, "GET", "/abcdef")
	mustMap(t, r, "GET", "/abcdxx")
	mustMap(t, r, "GET", "/abc")

	for _, path := range []string{"/abcdef", "/abcdxx", "/abc"} {
		h, ok := r.Match("GET", path, new(Params))
		assert.True(ok, path)
		assert.Equal(path, h)
	}
	for _, path := range []string{"/abcd", "/abcdeg", "/xbcdef", "/ab"} {
		_, ok := r.Match("GET", path, new(Params))
		assert.False(ok, path)
	}
}

func TestRouterMethods(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = New[string]()
	)
	require.NoError(t, r.Map("get", "/items", "list"))
	require.NoError(t, r.Map("POST", "/items", "create"))

	h, ok := r.Match("GET", "/items", new(Params))
	assert.True(ok)
	assert.Equal("list", h)
	h, ok = r.Match("POST", "/items", new(Params))
	assert.True(ok)
	assert.Equal("create", h)
	_, ok = r.Match("DELETE", "/items", new(Params))
	assert.False(ok)

	assert.Equal([]Route{{Method: "GET", Template: "/items"}, {Method: "POST", Template: "/items"}}, r.Routes())
}

func TestRouterConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		template string
		want     error
	}{
		{"no leading slash", nil, "users", ErrInvalidTemplate},
		{"empty", nil, "", ErrInvalidTemplate},
		{"unclosed brace", nil, "/users/{id", ErrInvalidTemplate},
		{"brace inside literal", nil, "/users/x{id}", ErrInvalidTemplate},
		{"empty name", nil, "/users/{}", ErrInvalidTemplate},
		{"catch-all not last", nil, "/files/{*path}/meta", ErrInvalidTemplate},
		{"repeated name", nil, "/a/{id}/b/{id}", ErrParamConflict},
		{"param name conflict", []string{"/users/{id}"}, "/users/{name}/posts", ErrParamConflict},
		{"catch-all name conflict", []string{"/files/{*path}"}, "/files/{*rest}", ErrParamConflict},
		{"duplicate", []string{"/users/{id}"}, "/users/{id}", ErrDuplicateRoute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New[string]()
			for _, tmpl := range tt.existing {
				mustMap(t, r, "GET", tmpl)
			}
			assert.ErrorIs(t, r.Map("GET", tt.template, "h"), tt.want)
		})
	}
}

func TestRouterSealed(t *testing.T) {
	r := New[string]()
	mustMap(t, r, "GET", "/")
	r.Seal()
	assert.True(t, r.Sealed())
	assert.ErrorIs(t, r.Map("GET", "/late", "h"), ErrSealed)
}

func TestRouterConcurrentMatch(t *testing.T) {
	r := New[string]()
	for i := 0; i < 50; i++ {
		mustMap(t, r, "GET", fmt.Sprintf("/n%d/{id}", i))
	}
	r.Seal()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				var ps Params
				path := fmt.Sprintf("/n%d/%d", i%50, g)
				h, ok := r.Match("GET", path, &ps)
				if !assert.True(t, ok, path) {
					return
				}
				assert.Equal(t, fmt.Sprintf("/n%d/{id}", i%50), h)
				assert.Equal(t, fmt.Sprint(g), ps.ByName("id"))
			}
		}(g)
	}
	wg.Wait()
}
