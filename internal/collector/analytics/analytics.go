// Package analytics collects field inventories of Google Analytics 4
// properties through the Analytics Data API.
//
// Dimensions and metrics of the property metadata are the fields. The entity
// total is the first requested metric over the reporting window. A metric
// field reports its own total; a dimension field reports the completeness
// metric restricted to rows where the dimension is not "(not set)".
package analytics

import (
	"context"
	"regexp"
	"strings"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/httpclient"
	"github.com/canectors/cdp-inventory/internal/logger"
	"github.com/canectors/cdp-inventory/pkg/inventory"
)

// DisplayName is the platform name used in reports and result keys.
const DisplayName = "Google Analytics"

// Platform is the settings key of the collector (BaseURLs).
const Platform = "google_analytics"

// Entity is the entity name reported for every GA4 inventory.
const Entity = "users"

// Field types of the property metadata.
const (
	TypeDimension = "dimension"
	TypeMetric    = "metric"
)

const (
	defaultBaseURL   = "https://analyticsdata.googleapis.com/v1beta"
	defaultStartDate = "30daysAgo"
	defaultEndDate   = "today"
)

var propertyIDPattern = regexp.MustCompile(`^[0-9]+$`)

// Collector implements collector.Collector for Google Analytics 4.
type Collector struct {
	settings collector.Settings
}

// New creates a Google Analytics collector.
func New(settings collector.Settings) *Collector {
	return &Collector{settings: settings}
}

// Identify implements collector.Collector.
func (c *Collector) Identify() string {
	return DisplayName
}

// Collect implements collector.Collector.
func (c *Collector) Collect(ctx context.Context, conn collector.Connection, opts collector.Options) (*inventory.EntityInventory, error) {
	key, err := serviceAccountKey(conn)
	if err != nil {
		return nil, err
	}
	property, err := propertyName(conn, opts)
	if err != nil {
		return nil, err
	}

	token, err := accessToken(ctx, c.settings, key)
	if err != nil {
		return nil, err
	}
	api := httpclient.New(DisplayName, c.settings.BaseURL(Platform, defaultBaseURL), c.settings,
		httpclient.WithBearerToken(token), httpclient.WithLogger(logger.FromContext(ctx)))

	schema, err := fetchSchema(ctx, api, property, opts)
	if err != nil {
		return nil, err
	}
	return fetchMetrics(ctx, api, property, schema, opts)
}

// propertyName returns "properties/{id}". The id comes from the options and
// falls back to the connection descriptor.
func propertyName(conn collector.Connection, opts collector.Options) (string, error) {
	id := strings.TrimSpace(opts.PropertyID.String())
	if id == "" {
		id = strings.TrimSpace(conn.String("property_id"))
	}
	id = strings.TrimPrefix(id, "properties/")
	if id == "" {
		return "", errhandling.Validationf("property_id is required for Google Analytics connector.")
	}
	if !propertyIDPattern.MatchString(id) {
		return "", errhandling.Validationf("invalid Google Analytics property_id %q", id)
	}
	return "properties/" + id, nil
}

type metadataResponse struct {
	Dimensions []metadataField `json:"dimensions"`
	Metrics    []metadataField `json:"metrics"`
}

type metadataField struct {
	APIName string `json:"apiName"`
	UIName  string `json:"uiName"`
}

// fetchSchema returns the requested dimensions followed by the requested
// metrics, in metadata order.
func fetchSchema(ctx context.Context, api *httpclient.Client, property string, opts collector.Options) ([]inventory.FieldDefinition, error) {
	var meta metadataResponse
	if err := api.GetJSON(ctx, property+"/metadata", nil, &meta); err != nil {
		return nil, err
	}

	wanted := opts.FieldSet()
	schema := make([]inventory.FieldDefinition, 0, len(opts.Fields))
	add := func(fields []metadataField, dataType string) {
		for _, f := range fields {
			if wanted != nil {
				if _, ok := wanted[f.APIName]; !ok {
					continue
				}
			}
			schema = append(schema, inventory.FieldDefinition{
				Name:       f.APIName,
				DataType:   dataType,
				Label:      f.UIName,
				MappedName: opts.MappedName(f.APIName),
			})
		}
	}
	add(meta.Dimensions, TypeDimension)
	add(meta.Metrics, TypeMetric)
	return schema, nil
}

func fetchMetrics(ctx context.Context, api *httpclient.Client, property string, schema []inventory.FieldDefinition, opts collector.Options) (*inventory.EntityInventory, error) {
	ranges := dateRanges(opts)

	total, err := runTotal(ctx, api, property, reportRequest{
		DateRanges: ranges,
		Metrics:    metricList(opts.MetricsOrDefault()...),
	})
	if err != nil {
		return nil, err
	}

	completeness := opts.CompletenessMetricOrDefault()
	fields := make([]inventory.FieldMetrics, 0, len(schema))
	for _, def := range schema {
		req := reportRequest{DateRanges: ranges}
		if def.DataType == TypeMetric {
			req.Metrics = metricList(def.Name)
		} else {
			req.Dimensions = []namedRef{{Name: def.Name}}
			req.Metrics = metricList(completeness)
			req.DimensionFilter = notSet(def.Name)
		}
		nonNull, err := runTotal(ctx, api, property, req)
		if err != nil {
			return nil, err
		}
		fields = append(fields, inventory.NewFieldMetrics(def, nonNull, &total))
	}

	return &inventory.EntityInventory{
		Platform:     DisplayName,
		Entity:       Entity,
		TotalRecords: &total,
		Fields:       fields,
		Metadata:     map[string]interface{}{},
	}, nil
}

func dateRanges(opts collector.Options) []dateRange {
	if len(opts.DateRanges) == 0 {
		return []dateRange{{StartDate: defaultStartDate, EndDate: defaultEndDate}}
	}
	out := make([]dateRange, 0, len(opts.DateRanges))
	for _, r := range opts.DateRanges {
		out = append(out, dateRange{StartDate: r.StartDate, EndDate: r.EndDate, Name: r.Name})
	}
	return out
}
