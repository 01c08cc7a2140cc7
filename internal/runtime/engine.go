// Package runtime provides the inventory aggregation engine.
// It resolves connections, plans jobs and runs them with failure isolation.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/logger"
	"github.com/canectors/cdp-inventory/internal/planner"
	"github.com/canectors/cdp-inventory/internal/resolver"
	"github.com/canectors/cdp-inventory/pkg/inventory"
)

// MetadataDisplayName is the inventory metadata key of a metric view tag.
const MetadataDisplayName = "display_name"

// Config configures an Engine.
type Config struct {
	// Workers bounds the number of jobs running at once. Values below 2 run
	// jobs sequentially, in plan order.
	Workers int

	// Settings is the transport shared by the collectors of a run.
	Settings collector.Settings

	// Logger receives run and job events. Nil uses the package logger.
	Logger *slog.Logger

	// Source tags run logs with the caller (cli, http).
	Source string
}

// Engine runs inventory requests. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	workers  int
	logger   *slog.Logger
	source   string
	resolver *resolver.Resolver
	planner  *planner.Planner

	// newRunID is replaced in tests.
	newRunID func() string
}

// New creates an engine for the platforms currently registered.
func New(cfg Config) (*Engine, error) {
	l := cfg.Logger
	if l == nil {
		l = logger.Logger
	}
	r, err := resolver.New(l, cfg.Settings)
	if err != nil {
		return nil, err
	}
	return &Engine{
		workers:  cfg.Workers,
		logger:   l,
		source:   cfg.Source,
		resolver: r,
		planner:  planner.New(l),
		newRunID: uuid.NewString,
	}, nil
}

// Plan resolves connections and expands them into jobs without running them.
func (e *Engine) Plan(conns []collector.Connection, opts collector.Options) ([]planner.Job, error) {
	return e.planner.Plan(e.resolver.Resolve(conns), opts)
}

// Aggregate resolves, plans and runs one inventory request.
// A plan rejected as a whole yields a validation failure report and no job runs.
func (e *Engine) Aggregate(ctx context.Context, conns []collector.Connection, opts collector.Options) *Report {
	jobs, err := e.Plan(conns, opts)
	if err != nil {
		return e.rejected(len(conns), err)
	}
	return e.Run(ctx, jobs)
}

// Run executes jobs and merges their outcomes. A failing job never discards
// the result of another one.
func (e *Engine) Run(ctx context.Context, jobs []planner.Job) *Report {
	report := newReport(e.newRunID(), time.Now())
	rc := logger.RunContext{RunID: report.RunID, Source: e.source}
	logger.LogRunStart(e.logger, rc, len(jobs))

	var mu sync.Mutex
	merge := func(key string, inv *inventory.EntityInventory, desc *inventory.ErrorDescriptor) {
		mu.Lock()
		defer mu.Unlock()
		if desc != nil {
			report.Errors[key] = *desc
			return
		}
		report.Results[key] = inv
	}

	for _, job := range jobs {
		report.Keys = append(report.Keys, job.Key)
	}

	rl := logger.WithRun(e.logger, rc)
	if e.workers < 2 || len(jobs) < 2 {
		for _, job := range jobs {
			e.runJob(ctx, rl, job, merge)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.workers)
		for _, job := range jobs {
			g.Go(func() error {
				e.runJob(ctx, rl, job, merge)
				return nil
			})
		}
		_ = g.Wait()
	}

	report.Outcome = classify(report.Results, report.Errors)
	report.Duration = time.Since(report.StartedAt)
	logger.LogRunEnd(e.logger, rc, logger.RunSummary{
		Outcome:   string(report.Outcome),
		Jobs:      len(jobs),
		Succeeded: len(report.Results),
		Failed:    len(report.Errors),
		Duration:  report.Duration,
	})
	return report
}

// runJob executes one job and merges its outcome. rl carries the run
// attributes; the collector logs through a logger carrying the job ones.
func (e *Engine) runJob(ctx context.Context, rl *slog.Logger, job planner.Job,
	merge func(string, *inventory.EntityInventory, *inventory.ErrorDescriptor)) {
	l := rl
	jc := logger.JobContext{Key: job.Key, Platform: job.Platform, Entity: job.Entity()}
	logger.LogJobStart(l, jc)
	startedAt := time.Now()

	inv, err := collect(logger.NewContext(ctx, logger.WithJob(rl, jc)), job)
	duration := time.Since(startedAt)
	if err != nil {
		desc := errhandling.Describe(err)
		logger.LogJobFailure(l, jc, string(desc.Kind), desc.Message, err, duration)
		merge(job.Key, nil, &desc)
		return
	}

	if job.Options.DisplayName != "" {
		if inv.Metadata == nil {
			inv.Metadata = make(map[string]interface{})
		}
		inv.Metadata[MetadataDisplayName] = job.Options.DisplayName
	}
	logger.LogJobSuccess(l, jc, len(inv.Fields), inv.TotalRecords, duration)
	merge(job.Key, inv, nil)
}

// collect invokes the job collector, turning panics and empty results into
// unexpected errors.
func collect(ctx context.Context, job planner.Job) (inv *inventory.EntityInventory, err error) {
	if job.Err != nil {
		return nil, job.Err
	}
	if job.Collector == nil {
		return nil, errhandling.NewUnexpectedError("no collector for job "+job.Key, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			inv = nil
			err = errhandling.NewUnexpectedError(fmt.Sprintf("collector panicked: %v", r), nil)
		}
	}()

	inv, err = job.Collector.Collect(ctx, job.Connection, job.Options)
	if err == nil && inv == nil {
		err = errhandling.NewUnexpectedError("collector returned no inventory", nil)
	}
	return inv, err
}

// rejected builds the report of a request refused at planning time.
func (e *Engine) rejected(connections int, err error) *Report {
	report := newReport(e.newRunID(), time.Now())
	rc := logger.RunContext{RunID: report.RunID, Source: e.source}
	logger.LogRunStart(e.logger, rc, connections)

	desc := errhandling.Describe(err)
	report.Failure = &desc
	report.Outcome = OutcomeUnexpectedFailure
	if desc.Kind == inventory.KindValidation {
		report.Outcome = OutcomeValidationFailure
	}
	logger.LogError(e.logger, "request rejected", logger.ErrorContext{
		RunID:        report.RunID,
		ErrorKind:    string(desc.Kind),
		ErrorMessage: desc.Message,
		Err:          err,
	})

	report.Duration = time.Since(report.StartedAt)
	logger.LogRunEnd(e.logger, rc, logger.RunSummary{Outcome: string(report.Outcome), Duration: report.Duration})
	return report
}
