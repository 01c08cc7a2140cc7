package registry

import (
	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/collector/analytics"
	"github.com/canectors/cdp-inventory/internal/collector/hubspot"
	"github.com/canectors/cdp-inventory/internal/collector/salesforce"
)

// Built-in platform names, as sent in the descriptor "name" field.
const (
	SalesforceName      = "salesforce"
	HubSpotName         = "hubspot"
	GoogleAnalyticsName = "google_analytics"
)

// BuiltinNames lists the built-in platforms in registration order.
var BuiltinNames = []string{SalesforceName, HubSpotName, GoogleAnalyticsName}

// Fallback signatures of the built-in platforms. Salesforce descriptors always
// carry an explicit name and have none.
const (
	// A service-account key: type marker plus a Google service account email.
	googleAnalyticsSignature = `descriptor.type == "service_account" && descriptor.client_email != nil && descriptor.client_email endsWith ".iam.gserviceaccount.com"`

	// A private app or OAuth access token, in either key spelling.
	hubSpotSignature = `descriptor.access_token != nil || descriptor.accessToken != nil`
)

func init() {
	RegisterBuiltins()
}

// RegisterBuiltins (re)registers the built-in platforms.
func RegisterBuiltins() {
	for _, name := range BuiltinNames {
		if p, ok := builtin(name); ok {
			Register(p)
		}
	}
}

// builtin returns the built-in platform for name.
func builtin(name string) (Platform, bool) {
	switch name {
	case SalesforceName:
		return Platform{
			Name:        SalesforceName,
			DisplayName: salesforce.DisplayName,
			New: func(s collector.Settings) collector.Collector {
				return salesforce.New(s)
			},
		}, true
	case HubSpotName:
		return Platform{
			Name:        HubSpotName,
			DisplayName: hubspot.DisplayName,
			Signature:   hubSpotSignature,
			New: func(s collector.Settings) collector.Collector {
				return hubspot.New(s)
			},
		}, true
	case GoogleAnalyticsName:
		return Platform{
			Name:        GoogleAnalyticsName,
			DisplayName: analytics.DisplayName,
			Signature:   googleAnalyticsSignature,
			New: func(s collector.Settings) collector.Collector {
				return analytics.New(s)
			},
		}, true
	default:
		return Platform{}, false
	}
}
