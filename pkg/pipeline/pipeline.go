// Package pipeline runs one conversion: read the abundance table, prune and
// normalize it while taxonomy is resolved, then write the assembled table.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yumyai/process-otu-data/internal/util"
	"github.com/yumyai/process-otu-data/logger"
	"github.com/yumyai/process-otu-data/pkg/db"
	"github.com/yumyai/process-otu-data/pkg/model"
	"github.com/yumyai/process-otu-data/pkg/output"
	"github.com/yumyai/process-otu-data/pkg/taxonomy"
)

type Options struct {
	Input        string
	Output       string
	PruningValue float64

	// Every lineage is unknown and the service is never contacted.
	SkipTaxonomy bool

	UnresolvedReport string // optional CSV of unresolved OTUs
	Ledger           string // optional SQLite run ledger
}

type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	OtuCount   int
	SiteCount  int
	Resolved   int
	Unresolved []taxonomy.LookupJob // failed lookups in input order
}

type Pipeline struct {
	resolver *taxonomy.Resolver
}

// New returns a pipeline resolving taxonomy with resolver. resolver may be nil
// when every run uses SkipTaxonomy.
func New(resolver *taxonomy.Resolver) *Pipeline {
	return &Pipeline{resolver: resolver}
}

// Run executes the whole conversion. Schema, format, read and write errors are
// returned and leave nothing at opts.Output. Per-OTU lookup failures are listed
// in the summary and never fail the run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {

	summary := &Summary{RunID: uuid.NewString(), StartedAt: time.Now()}
	log := logger.L().With(zap.String("run_id", summary.RunID))

	if err := model.CheckPruningValue(opts.PruningValue); err != nil {
		return nil, err
	}
	if !opts.SkipTaxonomy && p.resolver == nil {
		return nil, fmt.Errorf("no taxonomy resolver configured")
	}

	table, err := readInput(opts.Input)
	if err != nil {
		return nil, err
	}
	summary.OtuCount = len(table.Rows)
	summary.SiteCount = len(table.Sites)
	log.Info("Read abundance table",
		zap.String("input", opts.Input),
		zap.Int("otus", summary.OtuCount),
		zap.Int("sites", summary.SiteCount),
	)

	var (
		props    []model.OutputProportions
		lineages []model.Lineage
	)

	// Pruning and taxonomy resolution are independent.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		props, err = model.PruneAndNormalize(table, opts.PruningValue)
		return err
	})
	g.Go(func() error {
		if opts.SkipTaxonomy {
			lineages = unknownLineages(table.OtuIDs())
			return nil
		}
		var err error
		lineages, _, err = p.resolver.ResolveAll(gctx, table.OtuIDs())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !opts.SkipTaxonomy {
		tracker := p.resolver.Tracker
		summary.Resolved = tracker.Counts()[taxonomy.LookupResolved]
		summary.Unresolved = tracker.Jobs(taxonomy.LookupFailed)
	}

	rows := output.Assemble(props, lineages, table.Sites)
	if err := output.WriteFile(ctx, opts.Output, rows, table.Sites); err != nil {
		return nil, err
	}
	log.Info("Wrote output table", zap.String("output", opts.Output), zap.Int("rows", len(rows)))

	if opts.UnresolvedReport != "" {
		if err := output.WriteUnresolvedReport(ctx, opts.UnresolvedReport, reportRows(summary.Unresolved)); err != nil {
			return nil, err
		}
		log.Info("Wrote unresolved report", zap.String("path", opts.UnresolvedReport), zap.Int("otus", len(summary.Unresolved)))
	}

	summary.FinishedAt = time.Now()

	if opts.Ledger != "" {
		if err := recordRun(ctx, opts, summary); err != nil {
			return nil, err
		}
		log.Debug("Recorded run in ledger", zap.String("ledger", opts.Ledger))
	}

	return summary, nil
}

func readInput(path string) (*model.AbundanceTable, error) {

	if !util.FileExists(path) {
		return nil, fmt.Errorf("input file %s does not exist", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	return model.ReadTable(f)
}

func unknownLineages(ids []string) []model.Lineage {
	lineages := make([]model.Lineage, len(ids))
	for i, id := range ids {
		lineages[i] = model.UnknownLineage(id)
	}
	return lineages
}

func reportRows(failed []taxonomy.LookupJob) []output.UnresolvedRow {
	rows := make([]output.UnresolvedRow, 0, len(failed))
	for _, job := range failed {
		rows = append(rows, output.UnresolvedRow{
			OTU:      job.OTU,
			Query:    job.Query,
			Attempts: job.Attempts,
			Reason:   job.Reason,
			LookupID: job.ID,
		})
	}
	return rows
}

func recordRun(ctx context.Context, opts Options, s *Summary) error {

	ledger, err := db.OpenLedger(ctx, opts.Ledger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	unresolved := make([]db.UnresolvedRecord, 0, len(s.Unresolved))
	for _, job := range s.Unresolved {
		unresolved = append(unresolved, db.UnresolvedRecord{
			OTU:      job.OTU,
			Query:    job.Query,
			Reason:   job.Reason,
			Attempts: job.Attempts,
			LookupID: job.ID,
		})
	}

	return ledger.RecordRun(ctx, db.RunRecord{
		RunID:           s.RunID,
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
		Input:           opts.Input,
		Output:          opts.Output,
		PruningValue:    opts.PruningValue,
		OtuCount:        s.OtuCount,
		SiteCount:       s.SiteCount,
		UnresolvedCount: len(s.Unresolved),
		SkippedTaxonomy: opts.SkipTaxonomy,
	}, unresolved)
}
