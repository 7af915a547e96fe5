package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/feichai0017/migration-orchestrator/config"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/internal/registry"
	"github.com/feichai0017/migration-orchestrator/internal/service/migration"
	"github.com/feichai0017/migration-orchestrator/pkg/converters"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

// Process exit codes.
const (
	exitOK       = 0
	exitFailures = 1
	exitPlanner  = 2
	exitInternal = 3
)

// exitError carries an explicit exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit status. Planner errors
// exit 2, anything unrecognised exits 3.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if code, ok := errors.CodeOf(err); ok {
		switch code {
		case errors.CodePlannerUnknownObject, errors.CodePlannerBadOptions, errors.CodeGraphCycle:
			return exitPlanner
		}
	}
	return exitInternal
}

type cliOptions struct {
	configPath     string
	objects        []string
	includeModules []string
	excludeModules []string
	excludeObjects []string
	noConfig       bool
	noInterfaces   bool
	serial         bool
	maxParallel    int
	strict         bool
	jsonOutput     bool
	events         bool
	verbose        bool
}

func (o *cliOptions) request() models.RunRequest {
	req := models.RunRequest{
		ObjectIDs:      splitList(o.objects),
		IncludeModules: splitList(o.includeModules),
		ExcludeModules: splitList(o.excludeModules),
		ExcludeObjects: splitList(o.excludeObjects),
		MaxParallel:    o.maxParallel,
	}
	if o.noConfig {
		req.IncludeConfig = models.Bool(false)
	}
	if o.noInterfaces {
		req.IncludeInterfaces = models.Bool(false)
	}
	if o.serial {
		req.Parallel = models.Bool(false)
	}
	return req
}

// splitList accepts repeated flags as well as comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// session is everything one command invocation needs.
type session struct {
	cfg    *config.Config
	log    logger.Logger
	bus    *progress.Bus
	engine *migration.Engine
}

func (o *cliOptions) open() (*session, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, &exitError{code: exitInternal, err: err}
	}
	log := logger.NewNop()
	if o.verbose {
		if log, err = cfg.Logger(); err != nil {
			return nil, &exitError{code: exitInternal, err: err}
		}
	}
	bus := progress.NewBus(cfg.Bus, log)
	engine, err := migration.NewEngine(cfg.Run, cfg.Gateway, bus, log)
	if err != nil {
		bus.Close()
		return nil, &exitError{code: exitInternal, err: err}
	}
	return &session{cfg: cfg, log: log, bus: bus, engine: engine}, nil
}

func (s *session) close() {
	s.bus.Close()
	_ = s.log.Sync()
}

func (o *cliOptions) registryOptions(cfg *config.Config) registry.Options {
	opts := registry.Options{RunRequest: o.request(), Strict: o.strict || cfg.Run.Strict}
	if opts.Parallel == nil {
		opts.Parallel = models.Bool(cfg.Run.Parallel)
	}
	if opts.MaxParallel == 0 {
		opts.MaxParallel = cfg.Run.MaxParallel
	}
	return opts
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Plan and run ERP data migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	pf.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of tables")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log to the configured outputs")

	selection := func(cmd *cobra.Command) {
		f := cmd.Flags()
		f.StringSliceVar(&opts.objects, "objects", nil, "object ids to migrate (default: all)")
		f.StringSliceVar(&opts.includeModules, "include-modules", nil, "keep only objects of these modules")
		f.StringSliceVar(&opts.excludeModules, "exclude-modules", nil, "drop objects of these modules")
		f.StringSliceVar(&opts.excludeObjects, "exclude-objects", nil, "drop these object ids")
		f.BoolVar(&opts.noConfig, "no-config", false, "skip configuration objects")
		f.BoolVar(&opts.noInterfaces, "no-interfaces", false, "skip interface objects")
		f.BoolVar(&opts.strict, "strict", false, "fail planning when the graph has cycles")
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the objects and waves a run would execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd.OutOrStdout(), opts)
		},
	}
	selection(planCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a migration run and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runMigration(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	selection(runCmd)
	runCmd.Flags().BoolVar(&opts.serial, "serial", false, "run one object at a time")
	runCmd.Flags().IntVar(&opts.maxParallel, "max-parallel", 0, "cap concurrent objects per wave (0: wave width)")
	runCmd.Flags().BoolVar(&opts.events, "events", false, "stream progress events to stderr as JSON lines")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the dependency graph for missing prerequisites and cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.OutOrStdout(), opts)
		},
	}

	objectsCmd := &cobra.Command{
		Use:   "objects",
		Short: "List registered migration objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runObjects(cmd.OutOrStdout(), opts)
		},
	}

	root.AddCommand(planCmd, runCmd, validateCmd, objectsCmd)
	return root
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPlan(w io.Writer, opts *cliOptions) error {
	s, err := opts.open()
	if err != nil {
		return err
	}
	defer s.close()

	plan, err := s.engine.Registry.Plan(opts.registryOptions(s.cfg))
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return writeJSON(w, plan)
	}
	for i, wave := range plan.Waves {
		fmt.Fprintf(w, "wave %d: %s\n", i+1, strings.Join(wave, ", "))
	}
	if len(plan.Added) > 0 {
		fmt.Fprintf(w, "added prerequisites: %s\n", strings.Join(plan.Added, ", "))
	}
	if plan.CircularFallback {
		fmt.Fprintln(w, "warning: last wave holds objects in a dependency cycle")
	}
	fmt.Fprintf(w, "%d objects in %d waves\n", len(plan.ObjectIDs), len(plan.Waves))
	return nil
}

func runMigration(ctx context.Context, stdout, stderr io.Writer, opts *cliOptions) error {
	s, err := opts.open()
	if err != nil {
		return err
	}
	defer s.close()

	if opts.events {
		sub, err := s.bus.Subscribe(progress.SinkFunc(func(ev progress.Event) error {
			return json.NewEncoder(stderr).Encode(ev)
		}), progress.WithReplay(0))
		if err != nil {
			return &exitError{code: exitInternal, err: err}
		}
		defer sub.Close()
	}

	ropts := opts.registryOptions(s.cfg)
	ropts.RunID = uuid.New().String()
	if !opts.jsonOutput {
		ropts.OnProgress = func(objectID string, res models.ObjectResult) {
			fmt.Fprintf(stderr, "%-24s %s\n", objectID, res.Status)
		}
	}

	result, err := s.engine.Registry.RunAll(ctx, s.engine.Gateway, ropts)
	if err != nil {
		return err
	}
	s.bus.Flush()

	report, err := converters.NewReportConverter(0).Convert(result)
	if err != nil {
		return &exitError{code: exitInternal, err: err}
	}
	if opts.jsonOutput {
		if err := converters.Encode(stdout, report); err != nil {
			return &exitError{code: exitInternal, err: err}
		}
	} else {
		printReport(stdout, report)
	}

	if result.Stats.Failed > 0 || result.Stats.Cancelled {
		return &exitError{code: exitFailures, err: errors.Newf("run %s: %d of %d objects failed", report.Summary.Outcome, result.Stats.Failed, result.Stats.Total)}
	}
	return nil
}

func printReport(w io.Writer, report *converters.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tMODULE\tWAVE\tSTATUS\tEXTRACTED\tLOADED\tERRORS\tMS")
	for _, row := range report.Objects {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%d\t%d\t%d\n",
			row.ObjectID, row.Module, row.Wave, row.Status, row.Extracted, row.Loaded, row.Errors, row.DurationMs)
	}
	_ = tw.Flush()

	sum := report.Summary
	fmt.Fprintf(w, "\n%s: %d total, %d completed, %d failed, %d skipped in %d waves (%dms)\n",
		sum.Outcome, sum.Total, sum.Completed, sum.Failed, sum.Skipped, sum.Waves, sum.DurationMs)
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  %s %s", f.ObjectID, f.Status)
		if f.Phase != "" {
			fmt.Fprintf(w, " in %s", f.Phase)
		}
		fmt.Fprintln(w)
		for _, d := range f.Diagnostics {
			fmt.Fprintf(w, "    - %s\n", d.Message)
		}
	}
}

func runValidate(w io.Writer, opts *cliOptions) error {
	s, err := opts.open()
	if err != nil {
		return err
	}
	defer s.close()

	report := s.engine.Registry.Validate()
	if opts.jsonOutput {
		if err := writeJSON(w, report); err != nil {
			return &exitError{code: exitInternal, err: err}
		}
	} else {
		for _, issue := range report.Issues {
			fmt.Fprintf(w, "%-20s %-24s %s\n", issue.Kind, issue.ObjectID, issue.Message)
		}
		if report.Valid {
			fmt.Fprintf(w, "graph valid: %d objects\n", s.engine.Registry.Len())
		}
	}
	if !report.Valid {
		return &exitError{code: exitPlanner, err: errors.Newf("graph invalid: %d issues", len(report.Issues))}
	}
	return nil
}

func runObjects(w io.Writer, opts *cliOptions) error {
	s, err := opts.open()
	if err != nil {
		return err
	}
	defer s.close()

	objects := s.engine.Registry.Objects()
	if opts.jsonOutput {
		return writeJSON(w, objects)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tMODULE\tNAME\tDEPENDS ON")
	for _, obj := range objects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", obj.ObjectID, obj.Module, obj.Name, strings.Join(obj.Dependencies, ","))
	}
	return tw.Flush()
}
