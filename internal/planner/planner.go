// Package planner expands resolved connections into inventory jobs.
//
// A connection without a multi-entity directive yields one job keyed by the
// collector display name. Salesforce object_names, HubSpot object_types and
// Google Analytics metric_views each fan out into one job per entry, keyed
// "{display name}-{identifier}". A key already produced by an earlier
// connection gets a "#<connection index>" suffix. Planning is deterministic and never touches
// the network.
package planner

import (
	"fmt"
	"log/slog"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/logger"
	"github.com/canectors/cdp-inventory/internal/registry"
	"github.com/canectors/cdp-inventory/internal/resolver"
)

// Job is one unit of collection work.
type Job struct {
	// Key is the unique result key of the job.
	Key string

	// Platform is the platform table name (e.g. "salesforce").
	Platform string

	// Collector runs the job. Nil when Err is set.
	Collector collector.Collector

	// Connection is the normalized descriptor, private to this job.
	Connection collector.Connection

	// Options is the per-job option set, private to this job.
	Options collector.Options

	// Err is a failure known before execution (e.g. a malformed credential).
	// The engine reports it under Key without invoking the collector.
	Err error
}

// Entity returns the entity the job profiles, for logging.
func (j Job) Entity() string {
	switch j.Platform {
	case registry.SalesforceName:
		return j.Options.ObjectNameOrDefault()
	case registry.HubSpotName:
		return j.Options.ObjectTypeOrDefault()
	case registry.GoogleAnalyticsName:
		return "users"
	default:
		return ""
	}
}

// Default field lists used by fan-out jobs when the caller gave none.
var (
	salesforceCaseFields    = []string{"Subject", "Description", "Status", "Priority", "Origin", "Type"}
	salesforceDefaultFields = []string{"Email", "Phone", "FirstName", "LastName"}

	hubSpotDealFields    = []string{"dealname", "amount", "dealstage", "closedate", "pipeline"}
	hubSpotTicketFields  = []string{"subject", "content", "hs_pipeline_stage", "hs_ticket_priority", "createdate"}
	hubSpotDefaultFields = []string{"email", "phone", "firstname", "lastname"}

	analyticsDefaultFields = []string{"userPseudoId", "sessionSource", "eventName"}
)

// Planner builds job lists.
type Planner struct {
	logger *slog.Logger
}

// New creates a planner. A nil logger uses the package logger.
func New(l *slog.Logger) *Planner {
	if l == nil {
		l = logger.Logger
	}
	return &Planner{logger: l}
}

// Plan returns the jobs of a run, in resolution order then directive order.
// Invalid options, an empty directive or a duplicate identifier within a
// directive fail the whole plan with a validation error. A result key already
// produced by an earlier connection is suffixed with "#<connection index>".
func (p *Planner) Plan(resolutions []resolver.Resolution, opts collector.Options) ([]Job, error) {
	if err := opts.Validate(); err != nil {
		return nil, errhandling.NewValidationError(err.Error(), err)
	}

	var jobs []Job
	seen := make(map[string]int)

	for _, res := range resolutions {
		planned, err := p.planResolution(res, opts)
		if err != nil {
			return nil, err
		}
		for _, job := range planned {
			if prev, dup := seen[job.Key]; dup {
				key := disambiguate(job.Key, res.Index, seen)
				p.logger.Warn("result key renamed: produced by an earlier connection",
					slog.String("key", job.Key),
					slog.String("renamed", key),
					slog.Int("first_connection_index", prev),
					slog.Int("connection_index", res.Index),
				)
				job.Key = key
			}
			seen[job.Key] = res.Index
			jobs = append(jobs, job)
		}
	}

	p.logger.Debug("plan built",
		slog.Int("connections", len(resolutions)),
		slog.Int("jobs", len(jobs)),
	)
	return jobs, nil
}

// disambiguate returns key suffixed with the connection index, unique in seen.
func disambiguate(key string, index int, seen map[string]int) string {
	candidate := fmt.Sprintf("%s#%d", key, index)
	for n := 2; ; n++ {
		if _, taken := seen[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s#%d.%d", key, index, n)
	}
}

func (p *Planner) planResolution(res resolver.Resolution, opts collector.Options) ([]Job, error) {
	display := res.DisplayName()
	base := Job{
		Key:        display,
		Platform:   res.Platform.Name,
		Collector:  res.Collector,
		Connection: res.Connection,
	}

	if res.Err != nil {
		base.Collector = nil
		base.Options = jobOptions(opts)
		base.Err = res.Err
		return []Job{base}, nil
	}

	switch res.Platform.Name {
	case registry.SalesforceName:
		if opts.ObjectNames != nil {
			return fanOut(base, display, "object_names", opts.ObjectNames, func(o *collector.Options, name string) {
				o.ObjectName = name
				if len(o.Fields) == 0 {
					o.Fields = salesforceFields(name)
				}
			}, opts)
		}
	case registry.HubSpotName:
		if opts.ObjectTypes != nil {
			return fanOut(base, display, "object_types", opts.ObjectTypes, func(o *collector.Options, objectType string) {
				o.ObjectType = objectType
				if len(o.Fields) == 0 {
					o.Fields = hubSpotFields(objectType)
				}
			}, opts)
		}
	case registry.GoogleAnalyticsName:
		if opts.MetricViews != nil {
			return planMetricViews(base, display, opts)
		}
	}

	base.Options = jobOptions(opts)
	return []Job{base}, nil
}

// fanOut creates one job per identifier of a string directive.
func fanOut(base Job, display, directive string, ids []string, apply func(*collector.Options, string), opts collector.Options) ([]Job, error) {
	if len(ids) == 0 {
		return nil, errhandling.Validationf("%s must list at least one entry", directive)
	}
	seen := make(map[string]struct{}, len(ids))
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, errhandling.Validationf("%s entries must not be empty", directive)
		}
		if _, dup := seen[id]; dup {
			return nil, errhandling.Validationf("duplicate %s entry %q", directive, id)
		}
		seen[id] = struct{}{}

		job := base
		job.Key = display + "-" + id
		job.Connection = base.Connection.Clone()
		job.Options = jobOptions(opts)
		apply(&job.Options, id)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func planMetricViews(base Job, display string, opts collector.Options) ([]Job, error) {
	if len(opts.MetricViews) == 0 {
		return nil, errhandling.Validationf("metric_views must list at least one view")
	}
	seen := make(map[string]struct{}, len(opts.MetricViews))
	jobs := make([]Job, 0, len(opts.MetricViews))
	for _, view := range opts.MetricViews {
		id := view.Identifier()
		if _, dup := seen[id]; dup {
			return nil, errhandling.Validationf("duplicate metric_views identifier %q", id)
		}
		seen[id] = struct{}{}

		metric := view.MetricOrDefault()
		job := base
		job.Key = display + "-" + id
		job.Connection = base.Connection.Clone()
		job.Options = jobOptions(opts)
		job.Options.Metrics = []string{metric}
		job.Options.CompletenessMetric = metric
		job.Options.DisplayName = view.DisplayName
		switch {
		case len(view.Fields) > 0:
			job.Options.Fields = append([]string(nil), view.Fields...)
		case len(opts.Fields) > 0:
		default:
			job.Options.Fields = append([]string(nil), analyticsDefaultFields...)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// jobOptions copies the request options without the plural directives.
func jobOptions(opts collector.Options) collector.Options {
	o := opts.Clone()
	o.ObjectNames = nil
	o.ObjectTypes = nil
	o.MetricViews = nil
	return o
}

func salesforceFields(object string) []string {
	if object == "Case" {
		return append([]string(nil), salesforceCaseFields...)
	}
	return append([]string(nil), salesforceDefaultFields...)
}

func hubSpotFields(objectType string) []string {
	switch objectType {
	case "deals":
		return append([]string(nil), hubSpotDealFields...)
	case "tickets":
		return append([]string(nil), hubSpotTicketFields...)
	default:
		return append([]string(nil), hubSpotDefaultFields...)
	}
}
