package analytics

import (
	"context"
	"strconv"
	"strings"

	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/httpclient"
)

// notSetValue is the placeholder GA4 reports for a missing dimension value.
const notSetValue = "(not set)"

type reportRequest struct {
	DateRanges         []dateRange       `json:"dateRanges"`
	Dimensions         []namedRef        `json:"dimensions,omitempty"`
	Metrics            []namedRef        `json:"metrics"`
	DimensionFilter    *filterExpression `json:"dimensionFilter,omitempty"`
	MetricAggregations []string          `json:"metricAggregations,omitempty"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Name      string `json:"name,omitempty"`
}

type namedRef struct {
	Name string `json:"name"`
}

type filterExpression struct {
	NotExpression *filterExpression `json:"notExpression,omitempty"`
	Filter        *filter           `json:"filter,omitempty"`
}

type filter struct {
	FieldName    string        `json:"fieldName"`
	StringFilter *stringFilter `json:"stringFilter,omitempty"`
}

type stringFilter struct {
	MatchType string `json:"matchType"`
	Value     string `json:"value"`
}

type reportResponse struct {
	Rows   []reportRow `json:"rows"`
	Totals []reportRow `json:"totals"`
}

type reportRow struct {
	MetricValues []struct {
		Value string `json:"value"`
	} `json:"metricValues"`
}

func metricList(names ...string) []namedRef {
	refs := make([]namedRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, namedRef{Name: n})
	}
	return refs
}

// notSet excludes rows where dimension equals "(not set)".
func notSet(dimension string) *filterExpression {
	return &filterExpression{
		NotExpression: &filterExpression{
			Filter: &filter{
				FieldName:    dimension,
				StringFilter: &stringFilter{MatchType: "EXACT", Value: notSetValue},
			},
		},
	}
}

// runTotal runs a report and returns the total of its first metric. Reports
// without a totals row are summed row by row.
func runTotal(ctx context.Context, api *httpclient.Client, property string, req reportRequest) (int, error) {
	req.MetricAggregations = []string{"TOTAL"}

	var resp reportResponse
	if err := api.PostJSON(ctx, property+":runReport", req, &resp); err != nil {
		return 0, err
	}

	if len(resp.Totals) > 0 {
		return firstMetric(resp.Totals[0])
	}
	sum := 0
	for _, row := range resp.Rows {
		n, err := firstMetric(row)
		if err != nil {
			return 0, err
		}
		sum += n
	}
	return sum, nil
}

// firstMetric parses the first metric value of row. Values are decimal
// strings and are truncated to integers.
func firstMetric(row reportRow) (int, error) {
	if len(row.MetricValues) == 0 {
		return 0, nil
	}
	raw := strings.TrimSpace(row.MetricValues[0].Value)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errhandling.NewUnexpectedError("Google Analytics returned a non-numeric metric value "+strconv.Quote(raw), err)
	}
	return int(f), nil
}
