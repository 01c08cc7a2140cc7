// Package main provides the CLI entry point of the CDP field inventory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/canectors/cdp-inventory/internal/cli"
	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/config"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/logger"
	"github.com/canectors/cdp-inventory/internal/registry"
	"github.com/canectors/cdp-inventory/internal/runtime"
	"github.com/canectors/cdp-inventory/internal/server"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// exitError carries an exit code out of a command. Its message, if any, has
// already been printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitWith(code int) error {
	if code == ExitSuccess {
		return nil
	}
	return &exitError{code: code}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	defer logger.CloseLogFile()

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitValidationError
}

// app holds the flag values and writers of one CLI invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Global flags
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string

	// Execution flags
	workers  int
	timeout  time.Duration
	retries  int
	rps      float64
	baseURLs map[string]string

	// Output flags
	pretty  bool
	output  string
	asJSON  bool
	summary bool

	// Serve flags
	listen       string
	clientRate   float64
	clientBurst  int
	maxBodyBytes int64
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "cdp-inventory",
		Short: "CDP field inventory - field completeness across customer data platforms",
		Long: `cdp-inventory connects to customer data platforms (Salesforce, HubSpot,
Google Analytics 4) and reports, for every field of an entity, how many
records carry a value.

A request file (JSON or YAML) lists the platform connections and the
inventory options. Connections without a "name" are matched against the
platform signatures.

Examples:
  # Validate a request file
  cdp-inventory validate request.json

  # Show the jobs a request expands into
  cdp-inventory plan request.yaml

  # Run an inventory
  cdp-inventory run --pretty request.json

  # Serve the inventory API
  cdp-inventory serve --listen 127.0.0.1:8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setupLogging()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-error output")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "json", "Log format: json or human")
	root.PersistentFlags().StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this file")

	root.AddCommand(
		a.newRunCmd(),
		a.newValidateCmd(),
		a.newPlanCmd(),
		a.newServeCmd(),
		a.newPlatformsCmd(),
		a.newVersionCmd(),
	)
	return root
}

// addExecutionFlags registers the flags shared by commands building an engine.
func (a *app) addExecutionFlags(cmd *cobra.Command) {
	defaults := collector.DefaultSettings()
	cmd.Flags().IntVarP(&a.workers, "workers", "w", 1, "Maximum jobs running at once (1 runs jobs sequentially)")
	cmd.Flags().DurationVar(&a.timeout, "timeout", defaults.Timeout, "Timeout of each upstream request")
	cmd.Flags().IntVar(&a.retries, "retries", defaults.Retry.MaxAttempts, "Retries of transient upstream failures (0 disables)")
	cmd.Flags().Float64Var(&a.rps, "upstream-rps", defaults.RequestsPerSecond, "Upstream requests per second per job (0 disables limiting)")
	cmd.Flags().StringToStringVar(&a.baseURLs, "base-url", nil, "Override a platform endpoint, e.g. hubspot=https://proxy.internal")
}

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <request-file>",
		Short: "Run an inventory request",
		Long: `Run the inventory request defined in the request file and print the
report as JSON.

The request file is validated first. If validation fails, no platform is
contacted.

Exit codes:
  0 - All jobs succeeded, or some did (partial report)
  1 - Invalid request, or every job failed on a validation error
  2 - Parse errors
  3 - Every job failed unexpectedly

Examples:
  cdp-inventory run request.json
  cdp-inventory run --workers 4 --pretty request.yaml
  cdp-inventory run --output report.json request.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitWith(a.runInventory(cmd.Context(), args[0]))
		},
	}
	a.addExecutionFlags(cmd)
	cmd.Flags().BoolVar(&a.pretty, "pretty", false, "Indent the JSON report")
	cmd.Flags().StringVarP(&a.output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&a.summary, "summary", false, "Print a run summary to stderr")
	return cmd
}

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <request-file>",
		Short: "Validate a request file",
		Long: `Validate a request file against the request schema.

Supports both JSON and YAML formats. The format is auto-detected
based on file extension (.json, .yaml, .yml) or content. "env:" credential
references must resolve.

Exit codes:
  0 - Request is valid
  1 - Validation errors (schema violations, unset variables)
  2 - Parse errors (invalid JSON/YAML syntax)`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return exitWith(a.validate(args[0]))
		},
	}
}

func (a *app) newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <request-file>",
		Short: "Show the jobs a request expands into",
		Long: `Resolve the connections of a request and print the planned jobs
without contacting any platform.

Exit codes:
  0 - Plan printed
  1 - Invalid request or rejected plan
  2 - Parse errors`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return exitWith(a.plan(args[0]))
		},
	}
	cmd.Flags().BoolVar(&a.asJSON, "json", false, "Print the plan as JSON")
	cmd.Flags().BoolVar(&a.pretty, "pretty", false, "Indent the JSON plan")
	return cmd
}

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inventory API over HTTP",
		Long: `Serve the inventory API:

  POST /inventory  run the request in the body (JSON, or YAML with a yaml content type)
  GET  /healthz    liveness probe

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitWith(a.serve(cmd.Context()))
		},
	}
	a.addExecutionFlags(cmd)
	cmd.Flags().StringVar(&a.listen, "listen", server.DefaultListenAddress, "Listen address")
	cmd.Flags().Float64Var(&a.clientRate, "rate", 0, "Requests per second per client (0 disables limiting)")
	cmd.Flags().IntVar(&a.clientBurst, "burst", 0, "Request burst per client (defaults to the rate)")
	cmd.Flags().Int64Var(&a.maxBodyBytes, "max-body-bytes", config.MaxRequestBytes, "Maximum request body size")
	return cmd
}

func (a *app) newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List the supported platforms",
		Long:  "List the registered platforms and whether they are detected from unnamed connections.",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			cli.PrintPlatforms(a.stdout, registry.List())
		},
	}
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "Version: %s\n", version)
			fmt.Fprintf(a.stdout, "Commit: %s\n", commit)
			fmt.Fprintf(a.stdout, "Build Date: %s\n", buildDate)
		},
	}
}

func (a *app) setupLogging() error {
	format, err := logger.ParseFormat(a.logFormat)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	} else if a.quiet {
		level = slog.LevelError
	}
	logger.SetOutput(a.stderr, level, format)
	if a.logFile != "" {
		if err := logger.SetLogFile(a.logFile, level, format); err != nil {
			return err
		}
	}
	return nil
}

// settings builds the collector settings from the execution flags.
func (a *app) settings() collector.Settings {
	s := collector.DefaultSettings()
	s.Timeout = a.timeout
	s.RequestsPerSecond = a.rps
	s.BaseURLs = a.baseURLs
	switch {
	case a.retries <= 0:
		s.Retry = errhandling.NoRetry()
	case a.retries > errhandling.MaxRetryAttempts:
		s.Retry.MaxAttempts = errhandling.MaxRetryAttempts
	default:
		s.Retry.MaxAttempts = a.retries
	}
	return s
}

func (a *app) newEngine(source string) (*runtime.Engine, error) {
	return runtime.New(runtime.Config{
		Workers:  a.workers,
		Settings: a.settings(),
		Logger:   logger.Logger,
		Source:   source,
	})
}

// loadRequest loads a request file, printing its errors. It returns the exit
// code to use when the request is unusable.
func (a *app) loadRequest(path string) (*config.Request, int) {
	result := config.LoadFile(path)
	if len(result.ParseErrors) > 0 {
		cli.PrintRequestErrors(a.stderr, result, a.verbose, a.quiet)
		return nil, ExitParseError
	}
	if len(result.ValidationErrors) > 0 {
		cli.PrintRequestErrors(a.stderr, result, a.verbose, a.quiet)
		return nil, ExitValidationError
	}
	return result.Request, ExitSuccess
}

func (a *app) validate(path string) int {
	if !a.quiet {
		fmt.Fprintf(a.stdout, "Validating request: %s\n", path)
	}
	result := config.LoadFile(path)
	if len(result.ParseErrors) > 0 {
		cli.PrintRequestErrors(a.stderr, result, a.verbose, a.quiet)
		return ExitParseError
	}
	if len(result.ValidationErrors) > 0 {
		cli.PrintRequestErrors(a.stderr, result, a.verbose, a.quiet)
		return ExitValidationError
	}
	if !a.quiet {
		fmt.Fprintf(a.stdout, "✓ Request is valid (format: %s)\n", result.Format)
		if a.verbose {
			fmt.Fprintf(a.stdout, "  Connections: %d\n", len(result.Request.Connections))
			if summary := result.Request.Options.Summary(); summary != "" {
				fmt.Fprintf(a.stdout, "  Options: %s\n", summary)
			}
		}
	}
	return ExitSuccess
}

func (a *app) plan(path string) int {
	req, code := a.loadRequest(path)
	if req == nil {
		return code
	}
	engine, err := a.newEngine("cli")
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to create engine: %v\n", err)
		return ExitRuntimeError
	}
	jobs, err := engine.Plan(req.Connections, req.Options)
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Plan rejected: %v\n", err)
		return ExitValidationError
	}
	if a.asJSON {
		if err := cli.WriteJSON(a.stdout, cli.PlannedJobs(jobs), a.pretty); err != nil {
			fmt.Fprintf(a.stderr, "✗ Failed to write plan: %v\n", err)
			return ExitRuntimeError
		}
		return ExitSuccess
	}
	cli.PrintPlan(a.stdout, jobs)
	return ExitSuccess
}

func (a *app) runInventory(ctx context.Context, path string) int {
	req, code := a.loadRequest(path)
	if req == nil {
		return code
	}
	engine, err := a.newEngine("cli")
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to create engine: %v\n", err)
		return ExitRuntimeError
	}

	ctx, stop := signalContext(ctx)
	defer stop()
	report := engine.Aggregate(ctx, req.Connections, req.Options)

	if err := a.writeReport(report); err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to write report: %v\n", err)
		return ExitRuntimeError
	}
	if a.summary || a.verbose {
		cli.PrintRunSummary(a.stderr, report, cli.OutputOptions{Verbose: a.verbose, Quiet: a.quiet})
	}
	return exitCodeFor(report.Outcome)
}

func (a *app) writeReport(report *runtime.Report) error {
	opts := cli.OutputOptions{Pretty: a.pretty}
	if a.output == "" {
		return cli.WriteReport(a.stdout, report, opts)
	}
	f, err := os.Create(a.output)
	if err != nil {
		return err
	}
	if err := cli.WriteReport(f, report, opts); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (a *app) serve(ctx context.Context) int {
	engine, err := a.newEngine("http")
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to create engine: %v\n", err)
		return ExitRuntimeError
	}
	srv := server.New(engine, server.Config{
		ListenAddress:     a.listen,
		MaxBodyBytes:      a.maxBodyBytes,
		RequestsPerSecond: a.clientRate,
		Burst:             a.clientBurst,
		Logger:            logger.Logger,
	})
	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(a.stderr, "✗ Server error: %v\n", err)
		return ExitRuntimeError
	}
	return ExitSuccess
}

// exitCodeFor maps a run outcome to the process exit code.
func exitCodeFor(outcome runtime.Outcome) int {
	switch outcome {
	case runtime.OutcomeSuccess, runtime.OutcomePartial:
		return ExitSuccess
	case runtime.OutcomeValidationFailure, runtime.OutcomeNoPlatforms:
		return ExitValidationError
	default:
		return ExitRuntimeError
	}
}

// signalContext cancels ctx on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
