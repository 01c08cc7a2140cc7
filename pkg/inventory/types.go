// Package inventory provides public types for field inventory reports.
// This package is intended to be importable by external projects that need
// to build requests for, or consume reports from, the inventory runtime.
package inventory

import (
	"encoding/json"
	"math"
)

// completenessPrecision is the number of decimals kept when a completeness
// ratio is serialized.
const completenessPrecision = 4

// FieldDefinition identifies one upstream field.
type FieldDefinition struct {
	// Name is the upstream API name of the field
	Name string

	// DataType is the upstream type (e.g. "string", "email", "dimension")
	DataType string

	// Label is the upstream human-readable label
	Label string

	// MappedName is a caller-supplied display alias. It never affects lookups.
	MappedName string
}

// FieldMetrics holds volume statistics for a single field.
type FieldMetrics struct {
	Definition FieldDefinition

	// NonNullCount is the number of records where the field is populated.
	// Nil when the collector could not count it.
	NonNullCount *int

	// CompletenessPct is NonNullCount / TotalRecords at full precision.
	// Nil means undefined (unknown or zero total), never zero completeness.
	CompletenessPct *float64
}

type fieldMetricsJSON struct {
	Name            string   `json:"name"`
	Type            *string  `json:"type"`
	Label           *string  `json:"label"`
	MappedName      *string  `json:"mapped_name"`
	NonNullCount    *int     `json:"non_null_count"`
	CompletenessPct *float64 `json:"completeness_pct,omitempty"`
}

// MarshalJSON renders the field in the report wire format. Empty optional
// strings are rendered as null and completeness is rounded here only.
func (m FieldMetrics) MarshalJSON() ([]byte, error) {
	out := fieldMetricsJSON{
		Name:         m.Definition.Name,
		Type:         optionalString(m.Definition.DataType),
		Label:        optionalString(m.Definition.Label),
		MappedName:   optionalString(m.Definition.MappedName),
		NonNullCount: m.NonNullCount,
	}
	if m.CompletenessPct != nil {
		rounded := RoundCompleteness(*m.CompletenessPct)
		out.CompletenessPct = &rounded
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the report wire format back into a FieldMetrics.
func (m *FieldMetrics) UnmarshalJSON(data []byte) error {
	var in fieldMetricsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Definition = FieldDefinition{
		Name:       in.Name,
		DataType:   derefString(in.Type),
		Label:      derefString(in.Label),
		MappedName: derefString(in.MappedName),
	}
	m.NonNullCount = in.NonNullCount
	m.CompletenessPct = in.CompletenessPct
	return nil
}

// EntityInventory is the aggregated inventory of one entity on one platform.
// It is created once per successful job and must not be modified afterwards.
type EntityInventory struct {
	// Platform is the collector display name (e.g. "Salesforce")
	Platform string `json:"platform"`

	// Entity is the profiled object, object type, or metric view
	Entity string `json:"entity"`

	// TotalRecords is nil when the count could not be determined.
	// Zero is a legitimately empty entity.
	TotalRecords *int `json:"total_records"`

	// Fields is the ordered list of profiled fields
	Fields []FieldMetrics `json:"fields"`

	// Metadata carries presentation details such as the display name tag
	Metadata map[string]interface{} `json:"metadata"`
}

// MarshalJSON guarantees that fields and metadata are never rendered as null.
func (e EntityInventory) MarshalJSON() ([]byte, error) {
	type alias EntityInventory
	out := alias(e)
	if out.Fields == nil {
		out.Fields = []FieldMetrics{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]interface{}{}
	}
	return json.Marshal(out)
}

// Completeness returns nonNull/total when total is known and positive.
// It returns nil otherwise: an unknown or empty total has no defined ratio.
func Completeness(nonNull int, total *int) *float64 {
	if total == nil || *total <= 0 {
		return nil
	}
	ratio := float64(nonNull) / float64(*total)
	return &ratio
}

// RoundCompleteness rounds a ratio to the serialized precision.
func RoundCompleteness(ratio float64) float64 {
	scale := math.Pow10(completenessPrecision)
	return math.Round(ratio*scale) / scale
}

// NewFieldMetrics builds the metrics of a field from its non-null count and
// the entity total.
func NewFieldMetrics(def FieldDefinition, nonNull int, total *int) FieldMetrics {
	count := nonNull
	return FieldMetrics{
		Definition:      def,
		NonNullCount:    &count,
		CompletenessPct: Completeness(nonNull, total),
	}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
