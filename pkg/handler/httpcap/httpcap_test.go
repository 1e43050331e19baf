package httpcap

import (
	"testing"

	"github.com/cuemby/theater/pkg/types"
)

func TestMatchHostExactAndWildcard(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"", "anything", true},
		{"example.com", "example.com", true},
		{"example.com", "example.com:8080", true},
		{"example.com", "other.com", false},
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "example.com", false},
	}
	for _, c := range cases {
		if got := matchHost(c.pattern, c.host); got != c.want {
			t.Errorf("matchHost(%q, %q) = %v, want %v", c.pattern, c.host, got, c.want)
		}
	}
}

func TestMatchPathPrefixAndExact(t *testing.T) {
	cases := []struct {
		pathType        PathType
		pattern, path   string
		want            bool
	}{
		{PathTypePrefix, "/", "/anything", true},
		{PathTypePrefix, "/api", "/api/v1", true},
		{PathTypePrefix, "/api", "/apiextra", false},
		{PathTypePrefix, "/api", "/api", true},
		{PathTypeExact, "/api", "/api", true},
		{PathTypeExact, "/api", "/api/v1", false},
	}
	for _, c := range cases {
		if got := matchPath(c.pathType, c.pattern, c.path); got != c.want {
			t.Errorf("matchPath(%v, %q, %q) = %v, want %v", c.pathType, c.pattern, c.path, got, c.want)
		}
	}
}

func TestOutboundRequestDeniedWithoutPermission(t *testing.T) {
	tmpl := New()
	inst, err := tmpl.CreateInstance(types.HandlerConfig{}, types.Permissions{AllowNetwork: nil})
	if err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}
	h := inst.(*Handler)

	args := []byte(`{"method":"GET","path":"http://example.com/","headers":{},"body":null}`)
	if _, err := h.outboundRequest(nil, args); err == nil {
		t.Fatal("outboundRequest() with no allowed network = nil error, want PermissionDenied")
	}
}
