package gateway

import (
	"strings"
	"testing"

	"github.com/tjfontaine/llm-governor/internal/config"
)

func TestRouteFirstPrefixWins(t *testing.T) {
	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}
	cfg := config.GatewayConfig{
		Routes: []config.RouteConfig{
			{ModelPrefix: "claude-3-haiku", Provider: "a"},
			{ModelPrefix: "claude-", Provider: "b"},
		},
	}
	r, err := NewRouter(map[string]Provider{"a": a, "b": b}, cfg)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	tests := []struct {
		model string
		want  string
	}{
		{"claude-3-haiku-20240307", "a"},
		{"claude-3-opus", "b"},
	}
	for _, tt := range tests {
		p, err := r.Route(tt.model)
		if err != nil {
			t.Fatalf("Route(%s) error = %v", tt.model, err)
		}
		if p.Name() != tt.want {
			t.Errorf("Route(%s) = %q, want %q", tt.model, p.Name(), tt.want)
		}
	}
}

func TestRouteNoProvider(t *testing.T) {
	r, err := NewRouter(map[string]Provider{}, config.GatewayConfig{})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	_, err = r.Route("gpt-4")
	if err == nil || !strings.Contains(err.Error(), "no provider configured") {
		t.Errorf("Route() error = %v, want no provider configured", err)
	}
}

func TestNewRouterUnknownDefault(t *testing.T) {
	_, err := NewRouter(map[string]Provider{}, config.GatewayConfig{DefaultProvider: "missing"})
	if err == nil {
		t.Fatal("expected error for unknown default provider")
	}
}

func TestNewRouterUnknownRouteProvider(t *testing.T) {
	_, err := NewRouter(map[string]Provider{}, config.GatewayConfig{
		Routes: []config.RouteConfig{{ModelPrefix: "gpt-", Provider: "missing"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown route provider")
	}
}
