// Package registry provides the platform table used to resolve collectors.
//
// # Overview
//
// Each platform registers a constructor under the name callers put in the
// "name" field of a connection descriptor. Platforms that may be detected
// without an explicit name also register a fallback signature: an expr
// boolean expression evaluated against the descriptor, e.g.
//
//	descriptor.api_key != nil && descriptor.instance endsWith ".example.com"
//
// # Adding a New Platform
//
//  1. Implement collector.Collector
//  2. Register it, typically from an init() function:
//
//	func init() {
//	    registry.Register(registry.Platform{
//	        Name:        "marketo",
//	        DisplayName: "Marketo",
//	        New:         func(s collector.Settings) collector.Collector { return marketo.New(s) },
//	    })
//	}
//
// # Built-in Platforms
//
// Salesforce, HubSpot and Google Analytics are registered at startup. Only
// HubSpot and Google Analytics participate in fallback detection.
package registry

import (
	"sort"
	"sync"

	"github.com/canectors/cdp-inventory/internal/collector"
)

// Constructor creates a collector with the given transport settings.
type Constructor func(settings collector.Settings) collector.Collector

// Platform is one entry of the platform table.
type Platform struct {
	// Name is the value of the descriptor "name" field selecting this platform.
	Name string

	// DisplayName is the name returned by the collector's Identify.
	DisplayName string

	// Signature is an expr boolean expression that detects the platform when
	// "name" is absent. The descriptor fields are available as "descriptor".
	// Empty disables fallback detection.
	Signature string

	// New creates the collector.
	New Constructor
}

// Fallback reports whether the platform participates in fallback detection.
func (p Platform) Fallback() bool {
	return p.Signature != ""
}

var (
	mu        sync.RWMutex
	platforms = make(map[string]Platform)
)

// Register adds a platform to the table. Registering an existing name
// replaces the previous entry.
//
// This function is safe for concurrent use.
func Register(p Platform) {
	mu.Lock()
	defer mu.Unlock()
	platforms[p.Name] = p
}

// Get returns the platform registered under name.
func Get(name string) (Platform, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := platforms[name]
	return p, ok
}

// List returns all registered platforms sorted by name.
func List() []Platform {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Platform, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FallbackPlatforms returns the platforms with a fallback signature, sorted by name.
func FallbackPlatforms() []Platform {
	all := List()
	out := all[:0]
	for _, p := range all {
		if p.Fallback() {
			out = append(out, p)
		}
	}
	return out
}

// Clear removes all registered platforms.
// This is intended for testing purposes only.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	platforms = make(map[string]Platform)
}
