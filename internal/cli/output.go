package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/canectors/cdp-inventory/internal/planner"
	"github.com/canectors/cdp-inventory/internal/registry"
	"github.com/canectors/cdp-inventory/internal/runtime"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
	Pretty  bool
}

// WriteJSON writes v as JSON followed by a newline.
func WriteJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// WriteReport writes the response document of a run.
func WriteReport(w io.Writer, report *runtime.Report, opts OutputOptions) error {
	return WriteJSON(w, report.Payload(), opts.Pretty)
}

// PrintRunSummary prints a one-screen summary of a run.
func PrintRunSummary(w io.Writer, report *runtime.Report, opts OutputOptions) {
	if opts.Quiet {
		return
	}

	if report.Outcome.Failed() {
		fmt.Fprintf(w, "✗ Inventory failed (%s)\n", report.Outcome)
	} else {
		fmt.Fprintf(w, "✓ Inventory completed (%s)\n", report.Outcome)
	}
	fmt.Fprintf(w, "  Results: %d\n", len(report.Results))
	if len(report.Errors) > 0 {
		fmt.Fprintf(w, "  Errors: %d\n", len(report.Errors))
		for _, key := range sortedKeys(report.ErrorMessages()) {
			fmt.Fprintf(w, "    %s: %s\n", key, report.Errors[key].Message)
		}
	}
	if report.Failure != nil {
		fmt.Fprintf(w, "  Rejected: %s\n", report.Failure.Message)
	}
	if opts.Verbose {
		fmt.Fprintf(w, "  Run ID: %s\n", report.RunID)
		fmt.Fprintf(w, "  Duration: %v\n", report.Duration)
	}
}

// PlannedJob is the printable form of a planned job.
type PlannedJob struct {
	Key      string      `json:"key"`
	Platform string      `json:"platform"`
	Entity   string      `json:"entity,omitempty"`
	Options  interface{} `json:"options,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// PlannedJobs converts jobs into their printable form. Connections are never
// included: they carry credentials.
func PlannedJobs(jobs []planner.Job) []PlannedJob {
	out := make([]PlannedJob, 0, len(jobs))
	for _, job := range jobs {
		p := PlannedJob{Key: job.Key, Platform: job.Platform, Entity: job.Entity()}
		if job.Err != nil {
			p.Error = job.Err.Error()
		} else {
			p.Options = job.Options
		}
		out = append(out, p)
	}
	return out
}

// PrintPlan prints planned jobs as a table.
func PrintPlan(w io.Writer, jobs []planner.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No job planned: no connection matched a supported platform.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tPLATFORM\tENTITY\tDETAILS")
	for _, job := range jobs {
		details := job.Options.Summary()
		if job.Err != nil {
			details = "error: " + job.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", job.Key, job.Platform, job.Entity(), details)
	}
	_ = tw.Flush()
}

// PrintPlatforms prints the platform table.
func PrintPlatforms(w io.Writer, platforms []registry.Platform) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tFALLBACK")
	for _, p := range platforms {
		fallback := "no"
		if p.Fallback() {
			fallback = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.DisplayName, fallback)
	}
	_ = tw.Flush()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
