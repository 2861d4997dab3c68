package taxonomy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yumyai/process-otu-data/logger"
	"github.com/yumyai/process-otu-data/pkg/model"
)

const (
	DEFAULT_MAX_RETRIES     = 3
	DEFAULT_RETRY_WAIT      = 2 * time.Second
	DEFAULT_MAX_RETRY_WAIT  = 30 * time.Second
	DEFAULT_MAX_CONCURRENCY = 4
)

// ResolverOptions bounds the retries, backoff and concurrency of a Resolver.
type ResolverOptions struct {
	MaxRetries     int           // retries after the first attempt, per query
	RetryWait      time.Duration // first backoff interval
	MaxRetryWait   time.Duration // backoff ceiling
	MaxConcurrency int           // lookups in flight at once
}

func (o ResolverOptions) withDefaults() ResolverOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryWait <= 0 {
		o.RetryWait = DEFAULT_RETRY_WAIT
	}
	if o.MaxRetryWait < o.RetryWait {
		o.MaxRetryWait = o.RetryWait
	}
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	return o
}

// Resolver turns OTU identifiers into lineages. Failures never abort a run:
// the OTU gets an unknown lineage and a LookupError.
type Resolver struct {
	lookup  Lookup
	opts    ResolverOptions
	slots   *semaphore.Weighted
	Tracker *LookupTracker
}

func NewResolver(lookup Lookup, opts ResolverOptions) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		lookup:  lookup,
		opts:    opts,
		slots:   semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		Tracker: NewLookupTracker(),
	}
}

// Resolve looks up one OTU. The normalized query is tried first; while the
// service reports no match, trailing words are dropped and the shorter name
// is tried. The returned lineage is always usable; err is a *LookupError.
func (r *Resolver) Resolve(ctx context.Context, otuID string) (model.Lineage, error) {
	query := NormalizeQuery(otuID)
	r.Tracker.NewJob(otuID, query)
	return r.resolve(ctx, otuID, query)
}

// resolve runs the lookup of an OTU already registered with the tracker.
func (r *Resolver) resolve(ctx context.Context, otuID, query string) (model.Lineage, error) {

	r.Tracker.SetRunning(otuID)

	attempts := 0
	lastErr := error(ErrNoMatch)

	for _, name := range Truncations(query) {
		lineage, n, err := r.lookupWithRetry(ctx, otuID, name)
		attempts += n
		if err == nil {
			lineage.OtuID = otuID
			if lineage.MatchedName == "" {
				lineage.MatchedName = name
			}
			r.Tracker.Complete(otuID, lineage.MatchedName)
			logger.Debug("Resolved OTU",
				zap.String("otu", otuID),
				zap.String("matched", lineage.MatchedName),
				zap.Int64("ott_id", lineage.OttID),
			)
			return lineage, nil
		}
		lastErr = err
		if !isNotFound(err) {
			break
		}
	}

	lerr := &LookupError{OTU: otuID, Query: query, Attempts: attempts, Err: lastErr}
	r.Tracker.Fail(otuID, lerr.Reason())
	logger.Warn("Taxonomy unresolved", zap.String("otu", otuID), zap.String("reason", lerr.Reason()))

	return model.UnknownLineage(otuID), lerr
}

// lookupWithRetry calls the service for one name, retrying transient failures
// with exponential backoff. It returns the number of calls made.
func (r *Resolver) lookupWithRetry(ctx context.Context, otuID, name string) (model.Lineage, int, error) {

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.RetryWait
	b.MaxInterval = r.opts.MaxRetryWait
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxRetries)), ctx)

	var (
		lineage  model.Lineage
		attempts int
	)

	op := func() error {
		attempts++
		r.Tracker.AddAttempt(otuID)

		l, err := r.lookup.Lookup(ctx, name)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		lineage = l
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Taxonomy service call failed, retrying",
			zap.String("otu", otuID),
			zap.String("query", name),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return model.Lineage{}, attempts, err
	}
	return lineage, attempts, nil
}

// ResolveAll resolves every OTU with at most MaxConcurrency lookups in flight.
// Lineages come back in the order of otuIDs, one per id, and per-OTU failures
// are listed in the same order. The only error returned is cancellation.
//
// The tracker is reset and then holds exactly this batch, registered in input
// order, so ResolveAll must not run concurrently on one Resolver.
func (r *Resolver) ResolveAll(ctx context.Context, otuIDs []string) ([]model.Lineage, []*LookupError, error) {

	lineages := make([]model.Lineage, len(otuIDs))
	failures := make([]*LookupError, len(otuIDs))

	r.Tracker.Reset()
	queries := make([]string, len(otuIDs))
	for i, id := range otuIDs {
		queries[i] = NormalizeQuery(id)
		r.Tracker.NewJob(id, queries[i])
	}

	g, gctx := errgroup.WithContext(ctx)

	for i, id := range otuIDs {
		if err := r.slots.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer r.slots.Release(1)

			lineage, err := r.resolve(gctx, id, queries[i])
			lineages[i] = lineage
			var lerr *LookupError
			if errors.As(err, &lerr) {
				failures[i] = lerr
			}
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	counts := r.Tracker.Counts()
	logger.Info("Taxonomy lookups finished",
		zap.Int("resolved", counts[LookupResolved]),
		zap.Int("unresolved", counts[LookupFailed]),
	)

	var failed []*LookupError
	for _, f := range failures {
		if f != nil {
			failed = append(failed, f)
		}
	}
	return lineages, failed, nil
}
