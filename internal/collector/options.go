package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults applied when an option is omitted.
const (
	DefaultSalesforceObject   = "Contact"
	DefaultSalesforceDomain   = "login"
	DefaultHubSpotObjectType  = "contacts"
	DefaultPageSize           = 100
	MaxPageSize               = 100
	DefaultCompletenessMetric = "totalUsers"
)

// Options is the parsed option set of one request or one job.
//
// Plural directives (ObjectNames, ObjectTypes, MetricViews) are kept as nil
// when absent, so that an explicitly empty list can be told apart.
type Options struct {
	// Salesforce
	ObjectName  string   `json:"object_name,omitempty" yaml:"object_name,omitempty"`
	ObjectNames []string `json:"object_names,omitempty" yaml:"object_names,omitempty"`
	Domain      string   `json:"domain,omitempty" yaml:"domain,omitempty"`

	// HubSpot
	ObjectType  string   `json:"object_type,omitempty" yaml:"object_type,omitempty"`
	ObjectTypes []string `json:"object_types,omitempty" yaml:"object_types,omitempty"`
	PageSize    int      `json:"page_size,omitempty" yaml:"page_size,omitempty"`

	// Google Analytics
	PropertyID         FlexString   `json:"property_id,omitempty" yaml:"property_id,omitempty"`
	Metrics            []string     `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	CompletenessMetric string       `json:"completeness_metric,omitempty" yaml:"completeness_metric,omitempty"`
	DateRanges         []DateRange  `json:"date_ranges,omitempty" yaml:"date_ranges,omitempty"`
	MetricViews        []MetricView `json:"metric_views,omitempty" yaml:"metric_views,omitempty"`

	// Shared
	Fields        []string          `json:"fields,omitempty" yaml:"fields,omitempty"`
	FieldMappings map[string]string `json:"field_mappings,omitempty" yaml:"field_mappings,omitempty"`

	// DisplayName is the presentation tag of a metric view job. It is set by
	// the planner and copied into the inventory metadata.
	DisplayName string `json:"-" yaml:"-"`
}

// MetricView is one GA4 metric to profile as its own entity.
type MetricView struct {
	Metric      string   `json:"metric" yaml:"metric"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	DisplayName string   `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Fields      []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// MetricOrDefault returns the view metric, or the default completeness metric.
func (v MetricView) MetricOrDefault() string {
	if v.Metric == "" {
		return DefaultCompletenessMetric
	}
	return v.Metric
}

// Identifier is the result-key suffix of the view: its name, else its metric.
func (v MetricView) Identifier() string {
	if v.Name != "" {
		return v.Name
	}
	return v.MetricOrDefault()
}

// DateRange is a GA4 reporting window. Dates accept the Data API forms
// (YYYY-MM-DD, "today", "yesterday", "NdaysAgo").
type DateRange struct {
	StartDate string `json:"start_date" yaml:"start_date"`
	EndDate   string `json:"end_date" yaml:"end_date"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
}

// FlexString accepts both JSON strings and numbers. GA4 property ids are
// commonly sent either way.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FlexString) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	*f = FlexString(node.Value)
	return nil
}

// String returns the value as a plain string.
func (f FlexString) String() string {
	return string(f)
}

// ObjectNameOrDefault returns the Salesforce object to profile.
func (o Options) ObjectNameOrDefault() string {
	if o.ObjectName == "" {
		return DefaultSalesforceObject
	}
	return o.ObjectName
}

// DomainOrDefault returns the Salesforce login domain.
func (o Options) DomainOrDefault() string {
	if o.Domain == "" {
		return DefaultSalesforceDomain
	}
	return o.Domain
}

// ObjectTypeOrDefault returns the HubSpot object type to profile.
func (o Options) ObjectTypeOrDefault() string {
	if o.ObjectType == "" {
		return DefaultHubSpotObjectType
	}
	return o.ObjectType
}

// PageSizeOrDefault returns the HubSpot page size, capped at MaxPageSize.
func (o Options) PageSizeOrDefault() int {
	switch {
	case o.PageSize <= 0:
		return DefaultPageSize
	case o.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return o.PageSize
	}
}

// MetricsOrDefault returns the GA4 metrics used for the entity total.
func (o Options) MetricsOrDefault() []string {
	if len(o.Metrics) == 0 {
		return []string{DefaultCompletenessMetric}
	}
	return o.Metrics
}

// CompletenessMetricOrDefault returns the GA4 metric used to count dimension values.
func (o Options) CompletenessMetricOrDefault() string {
	if o.CompletenessMetric == "" {
		return DefaultCompletenessMetric
	}
	return o.CompletenessMetric
}

// MappedName returns the display alias of field, or "".
func (o Options) MappedName(field string) string {
	return o.FieldMappings[field]
}

// Clone returns a deep copy so that jobs never share slices or maps.
func (o Options) Clone() Options {
	out := o
	out.ObjectNames = cloneStrings(o.ObjectNames)
	out.ObjectTypes = cloneStrings(o.ObjectTypes)
	out.Metrics = cloneStrings(o.Metrics)
	out.Fields = cloneStrings(o.Fields)
	if o.DateRanges != nil {
		out.DateRanges = append([]DateRange(nil), o.DateRanges...)
	}
	if o.MetricViews != nil {
		out.MetricViews = make([]MetricView, len(o.MetricViews))
		for i, v := range o.MetricViews {
			v.Fields = cloneStrings(v.Fields)
			out.MetricViews[i] = v
		}
	}
	if o.FieldMappings != nil {
		out.FieldMappings = make(map[string]string, len(o.FieldMappings))
		for k, v := range o.FieldMappings {
			out.FieldMappings[k] = v
		}
	}
	return out
}

// Validate checks values that are invalid for every platform.
func (o Options) Validate() error {
	if o.PageSize < 0 {
		return fmt.Errorf("page_size must be >= 0, got %d", o.PageSize)
	}
	for i, r := range o.DateRanges {
		if r.StartDate == "" || r.EndDate == "" {
			return fmt.Errorf("date_ranges[%d] requires start_date and end_date", i)
		}
	}
	return nil
}

// FieldSet returns the requested fields as a set, or nil when all fields of
// the schema are profiled.
func (o Options) FieldSet() map[string]struct{} {
	if len(o.Fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(o.Fields))
	for _, f := range o.Fields {
		set[f] = struct{}{}
	}
	return set
}

// Summary renders the job-relevant options in a compact form for logs.
func (o Options) Summary() string {
	var b bytes.Buffer
	write := func(k, v string) {
		if v == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	write("object_name", o.ObjectName)
	write("object_type", o.ObjectType)
	write("property_id", o.PropertyID.String())
	write("completeness_metric", o.CompletenessMetric)
	if len(o.Fields) > 0 {
		write("fields", strconv.Itoa(len(o.Fields)))
	}
	return b.String()
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
