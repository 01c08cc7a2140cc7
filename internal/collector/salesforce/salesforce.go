// Package salesforce collects field inventories of Salesforce sObjects.
//
// A session is opened with the SOAP partner login (username, password and
// security token). The object schema comes from the REST describe resource
// and volumes from SOQL COUNT() queries: one for the object, one per profiled
// field with a "!= null" filter.
package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/httpclient"
	"github.com/canectors/cdp-inventory/internal/logger"
	"github.com/canectors/cdp-inventory/pkg/inventory"
)

// DisplayName is the platform name used in reports and result keys.
const DisplayName = "Salesforce"

// Platform is the settings key of the collector (BaseURLs).
const Platform = "salesforce"

// APIVersion is the Salesforce API version used for login and REST calls.
const APIVersion = "59.0"

// identifierPattern matches sObject and field API names.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Collector implements collector.Collector for Salesforce.
type Collector struct {
	settings collector.Settings
}

// New creates a Salesforce collector.
func New(settings collector.Settings) *Collector {
	return &Collector{settings: settings}
}

// Identify implements collector.Collector.
func (c *Collector) Identify() string {
	return DisplayName
}

// Collect implements collector.Collector.
func (c *Collector) Collect(ctx context.Context, conn collector.Connection, opts collector.Options) (*inventory.EntityInventory, error) {
	username := conn.String("username")
	password := conn.String("password")
	token := conn.String("security_token")
	if username == "" || password == "" || token == "" {
		return nil, errhandling.Validationf("Salesforce credentials are incomplete.")
	}

	object := opts.ObjectNameOrDefault()
	if !identifierPattern.MatchString(object) {
		return nil, errhandling.Validationf("invalid Salesforce object name %q", object)
	}

	sess, err := c.login(ctx, username, password, token, opts.DomainOrDefault())
	if err != nil {
		return nil, err
	}
	api := httpclient.New(DisplayName, sess.instanceURL+"/services/data/v"+APIVersion, c.settings,
		httpclient.WithBearerToken(sess.sessionID), httpclient.WithLogger(logger.FromContext(ctx)))

	schema, err := fetchSchema(ctx, api, object, opts)
	if err != nil {
		return nil, err
	}
	return fetchMetrics(ctx, api, object, schema, opts)
}

type describeResponse struct {
	Fields []struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		Label      string `json:"label"`
		Filterable *bool  `json:"filterable"`
	} `json:"fields"`
}

// describedField is a schema field and whether SOQL can filter on it.
type describedField struct {
	def        inventory.FieldDefinition
	filterable bool
}

// fetchSchema returns the object fields in describe order. A field without a
// filterable flag is assumed filterable.
func fetchSchema(ctx context.Context, api *httpclient.Client, object string, opts collector.Options) ([]describedField, error) {
	var desc describeResponse
	if err := api.GetJSON(ctx, "sobjects/"+object+"/describe", nil, &desc); err != nil {
		return nil, err
	}
	schema := make([]describedField, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		schema = append(schema, describedField{
			def: inventory.FieldDefinition{
				Name:       f.Name,
				DataType:   f.Type,
				Label:      f.Label,
				MappedName: opts.MappedName(f.Name),
			},
			filterable: f.Filterable == nil || *f.Filterable,
		})
	}
	return schema, nil
}

// fetchMetrics counts the object records and the non-null values of each
// profiled field. Fields keep schema order. Fields SOQL cannot filter on
// (long text areas) are reported with an unknown count.
func fetchMetrics(ctx context.Context, api *httpclient.Client, object string, schema []describedField, opts collector.Options) (*inventory.EntityInventory, error) {
	total, err := count(ctx, api, "SELECT COUNT() FROM "+object)
	if err != nil {
		return nil, err
	}

	wanted := opts.FieldSet()
	fields := make([]inventory.FieldMetrics, 0, len(schema))
	for _, f := range schema {
		def := f.def
		if wanted != nil {
			if _, ok := wanted[def.Name]; !ok {
				continue
			}
		}
		if !identifierPattern.MatchString(def.Name) {
			continue
		}
		if !f.filterable {
			logger.FromContext(ctx).Debug("salesforce field not filterable, count skipped",
				slog.String("object", object),
				slog.String("field", def.Name),
			)
			fields = append(fields, inventory.FieldMetrics{Definition: def})
			continue
		}
		nonNull, err := count(ctx, api, fmt.Sprintf("SELECT COUNT() FROM %s WHERE %s != null", object, def.Name))
		if err != nil {
			return nil, err
		}
		fields = append(fields, inventory.NewFieldMetrics(def, nonNull, &total))
	}

	return &inventory.EntityInventory{
		Platform:     DisplayName,
		Entity:       object,
		TotalRecords: &total,
		Fields:       fields,
		Metadata:     map[string]interface{}{},
	}, nil
}

type queryResponse struct {
	TotalSize int                          `json:"totalSize"`
	Records   []map[string]json.RawMessage `json:"records"`
}

// count runs a COUNT() query. Aggregate rows (expr0) win over totalSize.
func count(ctx context.Context, api *httpclient.Client, soql string) (int, error) {
	var resp queryResponse
	if err := api.GetJSON(ctx, "query", url.Values{"q": {soql}}, &resp); err != nil {
		return 0, err
	}
	if len(resp.Records) > 0 {
		if n, ok := aggregateValue(resp.Records[0]); ok {
			return n, nil
		}
	}
	return resp.TotalSize, nil
}

// aggregateValue returns the first numeric column of an aggregate row.
func aggregateValue(row map[string]json.RawMessage) (int, bool) {
	if raw, ok := row["expr0"]; ok {
		if n, ok := parseCount(raw); ok {
			return n, true
		}
	}
	for k, raw := range row {
		if k == "attributes" {
			continue
		}
		if n, ok := parseCount(raw); ok {
			return n, true
		}
	}
	return 0, false
}

func parseCount(raw json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}
