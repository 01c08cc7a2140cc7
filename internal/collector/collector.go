// Package collector defines the capability shared by every platform collector.
//
// A collector authenticates against one upstream platform, fetches the schema
// of one entity and then fetches volume metrics for that schema. Each Collect
// call is self-contained: nothing is cached between calls.
package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/pkg/inventory"
)

// Collector gathers the field inventory of one entity on one platform.
type Collector interface {
	// Identify returns the stable display name of the platform
	// (e.g. "Salesforce"). It prefixes result keys.
	Identify() string

	// Collect authenticates, fetches the schema and then the metrics of the
	// entity selected by opts. Failures are *errhandling.ClassifiedError values
	// whose category tells validation-class and unexpected failures apart.
	Collect(ctx context.Context, conn Connection, opts Options) (*inventory.EntityInventory, error)
}

// Settings configures the transport shared by collectors of a run.
type Settings struct {
	// HTTPClient is used for every upstream call. A client with Timeout is
	// built when nil.
	HTTPClient *http.Client

	// Timeout bounds each upstream HTTP request.
	Timeout time.Duration

	// Retry is the retry policy for transient upstream failures.
	Retry errhandling.RetryConfig

	// RequestsPerSecond limits the upstream call rate per collector instance.
	// Zero disables limiting.
	RequestsPerSecond float64

	// BaseURLs overrides upstream endpoints by platform name. Used by tests
	// and by deployments behind a proxy.
	BaseURLs map[string]string
}

// DefaultTimeout is the per-request timeout applied when none is configured.
const DefaultTimeout = 30 * time.Second

// DefaultSettings returns the settings used when none are provided.
func DefaultSettings() Settings {
	return Settings{
		Timeout:           DefaultTimeout,
		Retry:             errhandling.DefaultRetryConfig(),
		RequestsPerSecond: 10,
	}
}

// Client returns the configured HTTP client or a new one honouring Timeout.
func (s Settings) Client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// BaseURL returns the override for platform, or fallback.
func (s Settings) BaseURL(platform, fallback string) string {
	if u, ok := s.BaseURLs[platform]; ok && u != "" {
		return u
	}
	return fallback
}

// Connection is a caller-supplied connection descriptor: a platform name and
// credential fields. Values are kept as decoded so that nested credential
// bundles survive unchanged.
type Connection map[string]interface{}

// Name returns the explicit platform name, or "" when absent.
func (c Connection) Name() string {
	name, _ := c["name"].(string)
	return name
}

// String returns the string value of key. Non-string scalars are formatted.
func (c Connection) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Has reports whether key is present with a non-nil value.
func (c Connection) Has(key string) bool {
	v, ok := c[key]
	return ok && v != nil
}

// Clone returns a deep copy of the descriptor.
func (c Connection) Clone() Connection {
	if c == nil {
		return nil
	}
	out := make(Connection, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = cloneValue(item)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	default:
		return v
	}
}
