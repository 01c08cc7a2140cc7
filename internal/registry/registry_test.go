package registry

import (
	"context"
	"testing"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/pkg/inventory"
)

type stubCollector struct{ name string }

func (s stubCollector) Identify() string { return s.name }

func (s stubCollector) Collect(context.Context, collector.Connection, collector.Options) (*inventory.EntityInventory, error) {
	return &inventory.EntityInventory{Platform: s.name}, nil
}

var _ collector.Collector = stubCollector{}

func restoreBuiltins(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		Clear()
		RegisterBuiltins()
	})
}

func TestRegister(t *testing.T) {
	restoreBuiltins(t)
	Clear()

	called := false
	Register(Platform{
		Name:        "marketo",
		DisplayName: "Marketo",
		New: func(collector.Settings) collector.Collector {
			called = true
			return stubCollector{name: "Marketo"}
		},
	})

	p, ok := Get("marketo")
	if !ok {
		t.Fatal("expected platform, got none")
	}
	if got := p.New(collector.DefaultSettings()).Identify(); got != "Marketo" {
		t.Errorf("Identify() = %q, want Marketo", got)
	}
	if !called {
		t.Error("constructor was not called")
	}
	if p.Fallback() {
		t.Error("platform without signature must not participate in fallback")
	}
}

func TestRegister_Overwrites(t *testing.T) {
	restoreBuiltins(t)
	Clear()

	Register(Platform{Name: "x", DisplayName: "First"})
	Register(Platform{Name: "x", DisplayName: "Second"})

	p, _ := Get("x")
	if p.DisplayName != "Second" {
		t.Errorf("DisplayName = %q, want Second", p.DisplayName)
	}
	if len(List()) != 1 {
		t.Errorf("List() length = %d, want 1", len(List()))
	}
}

func TestGet_Unknown(t *testing.T) {
	if _, ok := Get("zendesk"); ok {
		t.Error("Get() of an unknown platform must fail")
	}
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		name     string
		display  string
		fallback bool
	}{
		{SalesforceName, "Salesforce", false},
		{HubSpotName, "HubSpot", true},
		{GoogleAnalyticsName, "Google Analytics", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Get(tt.name)
			if !ok {
				t.Fatalf("builtin %q is not registered", tt.name)
			}
			if p.DisplayName != tt.display {
				t.Errorf("DisplayName = %q, want %q", p.DisplayName, tt.display)
			}
			if p.Fallback() != tt.fallback {
				t.Errorf("Fallback() = %v, want %v", p.Fallback(), tt.fallback)
			}
			if got := p.New(collector.DefaultSettings()).Identify(); got != tt.display {
				t.Errorf("Identify() = %q, want %q", got, tt.display)
			}
		})
	}
}

func TestList_Sorted(t *testing.T) {
	list := List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Fatalf("List() is not sorted: %v", list)
		}
	}
}

func TestFallbackPlatforms(t *testing.T) {
	got := FallbackPlatforms()
	if len(got) != 2 || got[0].Name != GoogleAnalyticsName || got[1].Name != HubSpotName {
		t.Errorf("FallbackPlatforms() = %v, want google_analytics and hubspot", got)
	}
}

func TestBuiltin_Unknown(t *testing.T) {
	if _, ok := builtin("marketo"); ok {
		t.Error("builtin() must only know the built-in platforms")
	}
}
