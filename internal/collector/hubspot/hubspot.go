// Package hubspot collects field inventories of HubSpot CRM object types.
//
// The schema comes from the properties API. Volumes are computed by walking
// every record of the object type with the cursor-paginated objects API and
// counting populated property values.
package hubspot

import (
	"context"
	"strings"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/httpclient"
	"github.com/canectors/cdp-inventory/internal/logger"
	"github.com/canectors/cdp-inventory/pkg/inventory"
)

// DisplayName is the platform name used in reports and result keys.
const DisplayName = "HubSpot"

// Platform is the settings key of the collector (BaseURLs).
const Platform = "hubspot"

const defaultBaseURL = "https://api.hubapi.com"

// Collector implements collector.Collector for HubSpot.
type Collector struct {
	settings collector.Settings
}

// New creates a HubSpot collector.
func New(settings collector.Settings) *Collector {
	return &Collector{settings: settings}
}

// Identify implements collector.Collector.
func (c *Collector) Identify() string {
	return DisplayName
}

// Collect implements collector.Collector.
func (c *Collector) Collect(ctx context.Context, conn collector.Connection, opts collector.Options) (*inventory.EntityInventory, error) {
	token := conn.String("access_token")
	if token == "" {
		return nil, errhandling.Validationf("HubSpot access token is required.")
	}

	objectType := opts.ObjectTypeOrDefault()
	if strings.ContainsAny(objectType, "/?#") {
		return nil, errhandling.Validationf("invalid HubSpot object type %q", objectType)
	}

	api := httpclient.New(DisplayName, c.settings.BaseURL(Platform, defaultBaseURL), c.settings,
		httpclient.WithBearerToken(token), httpclient.WithLogger(logger.FromContext(ctx)))

	schema, err := fetchSchema(ctx, api, objectType, opts)
	if err != nil {
		return nil, err
	}
	return fetchMetrics(ctx, api, objectType, schema, opts)
}

type propertiesResponse struct {
	Results []struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Label string `json:"label"`
	} `json:"results"`
}

func fetchSchema(ctx context.Context, api *httpclient.Client, objectType string, opts collector.Options) ([]inventory.FieldDefinition, error) {
	var props propertiesResponse
	if err := api.GetJSON(ctx, "crm/v3/properties/"+objectType, nil, &props); err != nil {
		return nil, err
	}
	schema := make([]inventory.FieldDefinition, 0, len(props.Results))
	for _, p := range props.Results {
		schema = append(schema, inventory.FieldDefinition{
			Name:       p.Name,
			DataType:   p.Type,
			Label:      p.Label,
			MappedName: opts.MappedName(p.Name),
		})
	}
	return schema, nil
}

// fetchMetrics walks all records once. Only requested fields present in the
// schema are reported, in schema order.
func fetchMetrics(ctx context.Context, api *httpclient.Client, objectType string, schema []inventory.FieldDefinition, opts collector.Options) (*inventory.EntityInventory, error) {
	profiled := opts.Fields
	if len(profiled) == 0 {
		profiled = make([]string, 0, len(schema))
		for _, def := range schema {
			profiled = append(profiled, def.Name)
		}
	}

	pager := newPager(api, objectType, profiled, opts.PageSizeOrDefault())
	total, counts, err := pager.count(ctx)
	if err != nil {
		return nil, err
	}

	wanted := opts.FieldSet()
	fields := make([]inventory.FieldMetrics, 0, len(profiled))
	for _, def := range schema {
		if wanted != nil {
			if _, ok := wanted[def.Name]; !ok {
				continue
			}
		}
		fields = append(fields, inventory.NewFieldMetrics(def, counts[def.Name], &total))
	}

	return &inventory.EntityInventory{
		Platform:     DisplayName,
		Entity:       objectType,
		TotalRecords: &total,
		Fields:       fields,
		Metadata:     map[string]interface{}{},
	}, nil
}
