package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/process-otu-data/pkg/model"
)

// memLookup is an in-memory Lookup. Names listed in flaky fail transiently
// that many times before answering.
type memLookup struct {
	mu      sync.Mutex
	known   map[string]model.Lineage
	flaky   map[string]int
	calls   map[string]int
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newMemLookup() *memLookup {
	return &memLookup{
		known: make(map[string]model.Lineage),
		flaky: make(map[string]int),
		calls: make(map[string]int),
	}
}

func (m *memLookup) add(name, genus, species string) {
	l := model.UnknownLineage("")
	l.Names[model.RankIndex("genus")] = genus
	l.Names[model.RankIndex("species")] = species
	l.Resolved = true
	l.OttID = int64(len(m.known) + 1)
	m.known[name] = l
}

func (m *memLookup) Lookup(ctx context.Context, name string) (model.Lineage, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return model.Lineage{}, ctx.Err()
		}
	}

	m.mu.Lock()
	m.calls[name]++
	call := m.calls[name]
	failures := m.flaky[name]
	l, ok := m.known[name]
	m.mu.Unlock()

	if call <= failures {
		return model.Lineage{}, errors.New("connection reset by peer")
	}
	if !ok {
		return model.Lineage{}, fmt.Errorf("%w: %q", ErrNoMatch, name)
	}
	return l, nil
}

func (m *memLookup) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func fastOptions() ResolverOptions {
	return ResolverOptions{
		MaxRetries:     2,
		RetryWait:      time.Millisecond,
		MaxRetryWait:   5 * time.Millisecond,
		MaxConcurrency: 2,
	}
}

func TestResolve(t *testing.T) {
	lk := newMemLookup()
	lk.add("Pythium insidiosum", "Pythium", "Pythium insidiosum")
	r := NewResolver(lk, fastOptions())

	l, err := r.Resolve(context.Background(), "Pythium_insidiosum")
	require.NoError(t, err)
	assert.Equal(t, "Pythium_insidiosum", l.OtuID)
	assert.Equal(t, "Pythium insidiosum", l.Name(model.RankSpecies))
	assert.Equal(t, "Pythium insidiosum", l.MatchedName)

	job, ok := r.Tracker.GetJob("Pythium_insidiosum")
	require.True(t, ok)
	assert.Equal(t, LookupResolved, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestResolve_RetriesTransientFailures(t *testing.T) {
	lk := newMemLookup()
	lk.add("Pythium", "Pythium", model.UNKNOWN_TAXON)
	lk.flaky["Pythium"] = 2
	r := NewResolver(lk, fastOptions())

	l, err := r.Resolve(context.Background(), "Pythium")
	require.NoError(t, err)
	assert.Equal(t, "Pythium", l.Name(model.RankGenus))
	assert.Equal(t, 3, lk.callCount("Pythium"))
}

func TestResolve_ExhaustedRetriesGiveUnknownLineage(t *testing.T) {
	lk := newMemLookup()
	lk.add("Pythium", "Pythium", model.UNKNOWN_TAXON)
	lk.flaky["Pythium"] = 100
	r := NewResolver(lk, fastOptions())

	l, err := r.Resolve(context.Background(), "Pythium")
	require.Error(t, err)

	var lerr *LookupError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 3, lerr.Attempts, "first attempt plus MaxRetries")
	assert.Equal(t, "Pythium", lerr.OTU)
	assert.Contains(t, lerr.Reason(), "connection reset")

	assert.False(t, l.Resolved)
	assert.Equal(t, "Pythium", l.OtuID)
	for i, name := range l.Names {
		assert.Equal(t, model.UNKNOWN_TAXON, name, "rank %s", model.RANKS[i])
	}

	// Transient failure on the full name does not fall back to shorter names.
	assert.Equal(t, 3, lk.callCount("Pythium"))

	job, _ := r.Tracker.GetJob("Pythium")
	assert.Equal(t, LookupFailed, job.Status)
}

func TestResolve_TruncationFallback(t *testing.T) {
	lk := newMemLookup()
	lk.add("Pythium insidiosum", "Pythium", "Pythium insidiosum")
	r := NewResolver(lk, fastOptions())

	l, err := r.Resolve(context.Background(), "Pythium insidiosum strain CBS101555")
	require.NoError(t, err)
	assert.Equal(t, "Pythium insidiosum", l.MatchedName)
	assert.Equal(t, "Pythium insidiosum strain CBS101555", l.OtuID)

	// No-match answers are not retried.
	assert.Equal(t, 1, lk.callCount("Pythium insidiosum strain CBS101555"))
	assert.Equal(t, 1, lk.callCount("Pythium insidiosum strain"))
}

func TestResolve_TruncationToGenusLeavesSpeciesUnknown(t *testing.T) {
	lk := newMemLookup()
	lk.add("Pythium", "Pythium", model.UNKNOWN_TAXON)
	r := NewResolver(lk, fastOptions())

	l, err := r.Resolve(context.Background(), "Pythium_novel")
	require.NoError(t, err)
	assert.Equal(t, "Pythium", l.MatchedName)
	assert.Equal(t, "Pythium", l.Name(model.RankGenus))
	assert.Equal(t, model.UNKNOWN_TAXON, l.Name(model.RankSpecies), "dropped words are not re-appended")
}

func TestResolve_NoMatchAnywhere(t *testing.T) {
	lk := newMemLookup()
	r := NewResolver(lk, fastOptions())

	l, err := r.Resolve(context.Background(), "uncultured eukaryote")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMatch))

	var lerr *LookupError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "no match", lerr.Reason())
	assert.Equal(t, 2, lerr.Attempts)
	assert.Equal(t, model.UnknownLineage("uncultured eukaryote"), l)
}

func TestResolveAll(t *testing.T) {
	lk := newMemLookup()
	lk.delay = 5 * time.Millisecond
	lk.add("Pythium insidiosum", "Pythium", "Pythium insidiosum")
	lk.add("Homo sapiens", "Homo", "Homo sapiens")

	opts := fastOptions()
	opts.MaxConcurrency = 3
	r := NewResolver(lk, opts)

	ids := []string{
		"Pythium_insidiosum", "mystery", "Homo sapiens", "Pythium insidiosum",
		"Homo_sapiens", "unknown thing", "Homo sapiens neanderthalensis", "Pythium_insidiosum_A",
	}

	lineages, failures, err := r.ResolveAll(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, lineages, len(ids))

	for i, id := range ids {
		assert.Equal(t, id, lineages[i].OtuID, "order must follow input")
	}

	require.Len(t, failures, 2)
	assert.Equal(t, "mystery", failures[0].OTU)
	assert.Equal(t, "unknown thing", failures[1].OTU)

	assert.LessOrEqual(t, lk.maxSeen.Load(), int32(3), "concurrency ceiling exceeded")

	// Same taxon, independent values.
	lineages[0].Names[0] = "changed"
	assert.NotEqual(t, "changed", lineages[3].Names[0])

	counts := r.Tracker.Counts()
	assert.Equal(t, 6, counts[LookupResolved])
	assert.Equal(t, 2, counts[LookupFailed])

	failed := r.Tracker.Jobs(LookupFailed)
	require.Len(t, failed, 2)
	assert.Equal(t, "mystery", failed[0].OTU, "tracker order must follow input")
	assert.Equal(t, "unknown thing", failed[1].OTU)
	assert.Equal(t, "no match", failed[0].Reason)
}

func TestResolveAll_TrackerHoldsLatestBatch(t *testing.T) {
	lk := newMemLookup()
	lk.add("Homo sapiens", "Homo", "Homo sapiens")
	r := NewResolver(lk, fastOptions())

	_, _, err := r.ResolveAll(context.Background(), []string{"Homo_sapiens", "mystery"})
	require.NoError(t, err)

	_, _, err = r.ResolveAll(context.Background(), []string{"nobody"})
	require.NoError(t, err)

	counts := r.Tracker.Counts()
	assert.Equal(t, 0, counts[LookupResolved])
	assert.Equal(t, 1, counts[LookupFailed])

	_, ok := r.Tracker.GetJob("mystery")
	assert.False(t, ok, "jobs from an earlier batch must be gone")
}

func TestResolveAll_Cancelled(t *testing.T) {
	lk := newMemLookup()
	lk.delay = 50 * time.Millisecond
	lk.add("a", "a", "a")
	r := NewResolver(lk, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := r.ResolveAll(ctx, []string{"a", "b", "c", "d", "e", "f"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
