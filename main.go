package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/process-otu-data/logger"
	"github.com/yumyai/process-otu-data/pkg/config"
	"github.com/yumyai/process-otu-data/pkg/model"
	"github.com/yumyai/process-otu-data/pkg/pipeline"
	"github.com/yumyai/process-otu-data/pkg/taxonomy"
)

const VERSION = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if ctx.Err() != nil && code == 0 {
		code = 130
	}

	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {

	cmd, _ := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	logger.Sync() // Make sure that the buffered is flushed.

	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "Interrupted")
		return 130
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
}

type flags struct {
	configPath       string
	pruningValue     float64
	ledger           string
	unresolvedReport string
	skipTaxonomy     bool
	verbose          bool
	maxConcurrency   int
	maxRetries       int
	tnrsURL          string
	approximate      bool
	contextName      string
}

func newRootCmd() (*cobra.Command, *flags) {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "process-otu-data INPUT-FILE OUTPUT-FILE",
		Short: "Prune, normalize and taxonomy-resolve an OTU abundance table",
		Long: `Reads an OTU abundance table with an "OTU" column and a "control" column,
zeroes site counts below pruning-value times the control count, converts the
surviving counts into per-site proportions and replaces each OTU identifier
with its taxonomic lineage from the Open Tree of Life.`,
		Version:       VERSION,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, f, args[0], args[1])
		},
	}

	fl := cmd.Flags()
	fl.Float64Var(&f.pruningValue, "pruning-value", model.DEFAULT_PRUNING_VALUE, "Keep a site count only if it is at least this many times the control count")
	fl.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fl.StringVar(&f.ledger, "ledger", "", "Append run provenance to this SQLite file")
	fl.StringVar(&f.unresolvedReport, "unresolved-report", "", "Write OTUs without a resolved taxonomy to this CSV file")
	fl.BoolVar(&f.skipTaxonomy, "skip-taxonomy", false, "Do not contact the taxonomy service, every lineage is unknown")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	fl.IntVar(&f.maxConcurrency, "max-concurrency", taxonomy.DEFAULT_MAX_CONCURRENCY, "Maximum concurrent taxonomy lookups")
	fl.IntVar(&f.maxRetries, "max-retries", taxonomy.DEFAULT_MAX_RETRIES, "Retries per taxonomy lookup after a service failure")
	fl.StringVar(&f.tnrsURL, "tnrs-url", taxonomy.DEFAULT_BASE_URL, "Base URL of the Open Tree of Life API")
	fl.BoolVar(&f.approximate, "approximate-matching", false, "Allow fuzzy taxonomic name matches")
	fl.StringVar(&f.contextName, "context-name", "", "Restrict name matching to a taxonomic context (e.g. Fungi)")

	return cmd, f
}

// loadConfig layers explicitly set flags over the file and environment config.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	fl := cmd.Flags()
	if fl.Changed("pruning-value") {
		cfg.PruningValue = f.pruningValue
	}
	if fl.Changed("ledger") {
		cfg.Ledger = f.ledger
	}
	if fl.Changed("unresolved-report") {
		cfg.UnresolvedReport = f.unresolvedReport
	}
	if fl.Changed("max-concurrency") {
		cfg.TNRS.MaxConcurrency = f.maxConcurrency
	}
	if fl.Changed("max-retries") {
		cfg.TNRS.MaxRetries = f.maxRetries
	}
	if fl.Changed("tnrs-url") {
		cfg.TNRS.URL = f.tnrsURL
	}
	if fl.Changed("approximate-matching") {
		cfg.TNRS.ApproximateMatching = f.approximate
	}
	if fl.Changed("context-name") {
		cfg.TNRS.ContextName = f.contextName
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runProcess(cmd *cobra.Command, f *flags, input, output string) error {

	// Try load env
	dotenvErr := godotenv.Load()

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	if err := logger.InitLogger(level); err != nil {
		return err
	}
	if dotenvErr != nil {
		logger.Debug("No .env found, using local environment")
	}
	logger.Info("Start:", zap.String("Version", VERSION), zap.Stringer("log_level", level))

	var resolver *taxonomy.Resolver
	if !f.skipTaxonomy {
		client := taxonomy.NewClient(cfg.ClientOptions())
		resolver = taxonomy.NewResolver(client, cfg.ResolverOptions())
		logger.Debug("Taxonomy service", zap.String("url", cfg.TNRS.URL), zap.Int("max_concurrency", cfg.TNRS.MaxConcurrency))
	}

	summary, err := pipeline.New(resolver).Run(cmd.Context(), pipeline.Options{
		Input:            input,
		Output:           output,
		PruningValue:     cfg.PruningValue,
		SkipTaxonomy:     f.skipTaxonomy,
		UnresolvedReport: cfg.UnresolvedReport,
		Ledger:           cfg.Ledger,
	})
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary, f.skipTaxonomy)
	return nil
}

func printSummary(w io.Writer, s *pipeline.Summary, skipped bool) {

	fmt.Fprintf(w, "Run %s: %d OTUs, %d sites\n", s.RunID, s.OtuCount, s.SiteCount)
	if skipped {
		fmt.Fprintln(w, "Taxonomy skipped, every lineage is unknown")
		return
	}

	fmt.Fprintf(w, "Taxonomy resolved for %d OTUs, unresolved for %d\n", s.Resolved, len(s.Unresolved))
	for _, u := range s.Unresolved {
		fmt.Fprintf(w, "  %s\t%s\n", u.OTU, u.Reason)
	}
}
