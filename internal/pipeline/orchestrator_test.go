package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registro/internal/aggregate"
	"registro/internal/core"
	"registro/internal/diff"
	"registro/internal/ledger"
	"registro/internal/log"
	"registro/internal/query"
)

// fakeStore serves records from memory. Queries for a month listed in
// block wait until its channel is closed, ignoring cancellation.
type fakeStore struct {
	mu      sync.Mutex
	records []core.Record
	err     error
	block   map[time.Month]chan struct{}
	started chan time.Month
}

func newFakeStore(records ...core.Record) *fakeStore {
	return &fakeStore{
		records: records,
		block:   make(map[time.Month]chan struct{}),
		started: make(chan time.Month, 64),
	}
}

func (s *fakeStore) QueryRange(_ context.Context, _ int64, start, end time.Time) ([]core.Record, error) {
	s.mu.Lock()
	wait := s.block[start.Month()]
	err := s.err
	all := append([]core.Record(nil), s.records...)
	s.mu.Unlock()

	select {
	case s.started <- start.Month():
	default:
	}
	if wait != nil {
		<-wait
	}
	if err != nil {
		return nil, err
	}
	var out []core.Record
	for _, r := range all {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) MinTimestamp(context.Context, int64) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (s *fakeStore) MaxTimestamp(context.Context, int64) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeStore) add(r core.Record) {
	s.mu.Lock()
	s.records = append([]core.Record{r}, s.records...)
	s.mu.Unlock()
}

func rec(id int64, kind core.Kind, amount string, ts time.Time) core.Record {
	r := core.Record{ID: id, OwnerID: 1, Kind: kind, Amount: amount, CategoryName: "Food", Timestamp: ts}
	r.StampDisplay(time.UTC)
	return r
}

var (
	may  = core.MonthWindow(2024, 5)
	june = core.MonthWindow(2024, 6)
)

func setup(t *testing.T, store *fakeStore, cfg Config) (*Orchestrator, context.Context, context.CancelFunc) {
	t.Helper()
	return setupWithQuery(t, store, cfg, query.Config{})
}

func setupWithQuery(t *testing.T, store *fakeStore, cfg Config, qcfg query.Config) (*Orchestrator, context.Context, context.CancelFunc) {
	t.Helper()
	ctrl := query.NewController(store, 1, time.UTC, qcfg)
	_, err := ctrl.SetWindow(may)
	require.NoError(t, err)

	o := New(ctrl, nil, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = o.Stop(stopCtx)
	})
	return o, ctx, cancel
}

func waitFor(t *testing.T, ch <-chan Update, match func(Update) bool) Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-ch:
			if match(u) {
				return u
			}
		case <-timeout:
			t.Fatal("timed out waiting for update")
		}
	}
}

func forWindow(w core.Window) func(Update) bool {
	return func(u Update) bool { return u.Err == nil && u.Snapshot != nil && u.Snapshot.Window == w }
}

func TestOrchestratorPublishesInitialSnapshot(t *testing.T) {
	store := newFakeStore(
		rec(2, core.Expense, "10.50", time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)),
		rec(1, core.Income, "100", time.Date(2024, 5, 5, 9, 0, 0, 0, time.UTC)),
	)
	clock := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	o, ctx, _ := setup(t, store, Config{Clock: func() time.Time { return clock }})

	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()
	require.NoError(t, o.Start(ctx))

	u := waitFor(t, updates, forWindow(may))
	assert.Equal(t, uint64(1), u.Generation)
	assert.Equal(t, 2, u.Snapshot.RecordCount)
	assert.Equal(t, "10.5", u.Snapshot.TotalExpense.String())
	assert.Equal(t, clock, u.Snapshot.ComputedAt)
	assert.Equal(t, diff.Counts{Inserted: 4}, u.Diff.Counts())
	assert.Same(t, u.Snapshot, o.CurrentSnapshot())
	assert.True(t, o.IsRunning())
	assert.ErrorIs(t, o.Start(ctx), ErrAlreadyRunning)
}

func TestOrchestratorSetWindowIsIdempotent(t *testing.T) {
	store := newFakeStore(rec(1, core.Expense, "5", time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)))
	o, ctx, _ := setup(t, store, Config{})
	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()
	require.NoError(t, o.Start(ctx))
	waitFor(t, updates, forWindow(may))

	require.NoError(t, o.SetWindow(may))
	assert.Equal(t, uint64(1), o.Recomputations(), "identical window schedules nothing")

	require.NoError(t, o.SetWindow(june))
	u := waitFor(t, updates, forWindow(june))
	assert.Equal(t, 1, u.Snapshot.RecordCount)

	require.NoError(t, o.SetWindow(june))
	assert.Equal(t, uint64(2), o.Recomputations())
	assert.Error(t, o.SetWindow(core.MonthWindow(2024, 0)))
}

func TestOrchestratorLatestWindowWins(t *testing.T) {
	store := newFakeStore(
		rec(2, core.Expense, "20", time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)),
		rec(1, core.Expense, "10", time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)),
	)
	release := make(chan struct{})
	store.block[time.May] = release

	var (
		mu    sync.Mutex
		built []core.Window
	)
	build := func(records []core.Record, w core.Window, kind core.Kind, loc *time.Location) *core.Snapshot {
		mu.Lock()
		built = append(built, w)
		mu.Unlock()
		return aggregate.Build(records, w, kind, loc)
	}
	o, ctx, _ := setup(t, store, Config{Build: build})
	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()
	require.NoError(t, o.Start(ctx))

	select {
	case m := <-store.started:
		require.Equal(t, time.May, m)
	case <-time.After(2 * time.Second):
		t.Fatal("May query never started")
	}

	// June is requested while May is still in flight; May then completes.
	require.NoError(t, o.SetWindow(june))
	close(release)

	u := waitFor(t, updates, func(Update) bool { return true })
	require.NoError(t, u.Err)
	assert.Equal(t, june, u.Snapshot.Window)
	assert.Equal(t, uint64(2), u.Generation)
	assert.Equal(t, june, o.CurrentSnapshot().Window)

	mu.Lock()
	assert.Equal(t, []core.Window{june}, built, "the superseded May result is never aggregated")
	mu.Unlock()

	st := o.Status()
	assert.Equal(t, uint64(2), st.Published)
	assert.GreaterOrEqual(t, st.Discarded, uint64(1))

	select {
	case extra := <-updates:
		t.Fatalf("unexpected extra update for %s", extra.Snapshot.Window)
	default:
	}
}

func TestOrchestratorStoreErrorKeepsSnapshot(t *testing.T) {
	store := newFakeStore(rec(1, core.Expense, "1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	o, ctx, _ := setup(t, store, Config{})
	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()
	require.NoError(t, o.Start(ctx))
	first := waitFor(t, updates, forWindow(may))

	boom := errors.New("disk on fire")
	store.setErr(boom)
	o.Refresh()

	failed := waitFor(t, updates, func(u Update) bool { return u.Err != nil })
	assert.ErrorIs(t, failed.Err, boom)
	assert.Same(t, first.Snapshot, failed.Snapshot)
	assert.True(t, failed.Diff.Empty())
	assert.Same(t, first.Snapshot, o.CurrentSnapshot())
	assert.Contains(t, o.Status().LastError, "disk on fire")
	assert.Equal(t, failed.Generation, o.Status().Published)
	gen, d := o.CurrentDiff()
	assert.Equal(t, first.Generation, gen, "the diff still belongs to the last good snapshot")
	assert.Equal(t, first.Diff.Counts(), d.Counts())

	store.setErr(nil)
	o.Refresh()
	waitFor(t, updates, func(u Update) bool { return u.Err == nil })
	assert.Empty(t, o.Status().LastError)
}

func TestOrchestratorRefreshBypassesQueryCache(t *testing.T) {
	store := newFakeStore(rec(1, core.Expense, "10", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	o, ctx, _ := setupWithQuery(t, store, Config{}, query.Config{CacheSize: 8, CacheTTL: time.Hour})
	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()
	require.NoError(t, o.Start(ctx))
	first := waitFor(t, updates, forWindow(may))
	require.Equal(t, 1, first.Snapshot.RecordCount)

	// Written behind the service's back, as a lost broker message would leave it.
	store.add(rec(2, core.Expense, "5", time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
	o.Refresh()

	u := waitFor(t, updates, func(u Update) bool { return u.Generation > first.Generation })
	require.NoError(t, u.Err)
	assert.Equal(t, 2, u.Snapshot.RecordCount)
	assert.Equal(t, "15", u.Snapshot.TotalExpense.String())
	assert.Equal(t, 1, u.Diff.Counts().Inserted)
}

func TestOrchestratorLedgerChange(t *testing.T) {
	store := newFakeStore(rec(1, core.Expense, "1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	o, ctx, _ := setup(t, store, Config{})
	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()
	require.NoError(t, o.Start(ctx))
	waitFor(t, updates, forWindow(may))

	o.NotifyLedgerChanged(context.Background(), ledger.Change{OwnerID: 99, RecordID: 5, Op: ledger.OpUpsert})
	assert.Equal(t, uint64(1), o.Recomputations(), "other owners are ignored")

	store.add(rec(2, core.Expense, "2", time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
	o.NotifyLedgerChanged(context.Background(), ledger.Change{OwnerID: 1, RecordID: 2, Op: ledger.OpUpsert})

	u := waitFor(t, updates, func(u Update) bool { return u.Snapshot != nil && u.Snapshot.RecordCount == 2 })
	assert.Equal(t, 1, u.Diff.Counts().Inserted)
	assert.Equal(t, "3", u.Snapshot.TotalExpense.String())
}

func TestOrchestratorChangeActiveKind(t *testing.T) {
	store := newFakeStore(rec(1, core.Income, "40", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	o, ctx, _ := setup(t, store, Config{})
	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()
	require.NoError(t, o.Start(ctx))
	first := waitFor(t, updates, forWindow(may))
	assert.True(t, first.Snapshot.SeriesTotal.IsZero())

	require.NoError(t, o.ChangeActiveKind(core.Income))
	u := waitFor(t, updates, func(u Update) bool { return u.Snapshot != nil && u.Snapshot.Kind == core.Income })
	assert.Equal(t, "40", u.Snapshot.SeriesTotal.String())
	assert.True(t, u.Diff.Empty(), "the display list does not depend on the kind")

	require.NoError(t, o.ChangeActiveKind(core.Income))
	assert.Equal(t, uint64(2), o.Recomputations())
	assert.ErrorIs(t, o.ChangeActiveKind(core.Kind(9)), core.ErrInvalidKind)
}

func TestOrchestratorRecoversAggregationPanic(t *testing.T) {
	store := newFakeStore(rec(1, core.Expense, "1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	build := func(records []core.Record, w core.Window, kind core.Kind, loc *time.Location) *core.Snapshot {
		if kind == core.Income {
			panic("bad bucket")
		}
		return aggregate.Build(records, w, kind, loc)
	}
	o, ctx, _ := setup(t, store, Config{Build: build})
	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()
	require.NoError(t, o.Start(ctx))
	first := waitFor(t, updates, forWindow(may))

	require.NoError(t, o.ChangeActiveKind(core.Income))
	failed := waitFor(t, updates, func(u Update) bool { return u.Err != nil })
	assert.ErrorIs(t, failed.Err, ErrAggregation)
	assert.Contains(t, failed.Err.Error(), "bad bucket")
	assert.Same(t, first.Snapshot, o.CurrentSnapshot())
	assert.Eventually(t, func() bool { return o.Status().State == Idle }, time.Second, 5*time.Millisecond)
}

func TestOrchestratorReplaysLatestToNewSubscribers(t *testing.T) {
	store := newFakeStore()
	o, ctx, _ := setup(t, store, Config{})
	updates, unsubscribe := o.Subscribe()
	require.NoError(t, o.Start(ctx))
	first := waitFor(t, updates, forWindow(may))
	unsubscribe()

	late, cancel := o.Subscribe()
	defer cancel()
	select {
	case u := <-late:
		assert.Equal(t, first.Generation, u.Generation)
		assert.Same(t, first.Snapshot, u.Snapshot)
	default:
		t.Fatal("late subscriber got no replay")
	}
	assert.Equal(t, 1, o.Status().Subscribers)

	latest, ok := o.Latest()
	require.True(t, ok)
	assert.Equal(t, first.Generation, latest.Generation)
}

func TestOrchestratorStopIsIdempotent(t *testing.T) {
	o, ctx, cancel := setup(t, newFakeStore(), Config{})
	require.NoError(t, o.Stop(context.Background()))

	require.NoError(t, o.Start(ctx))
	cancel()
	require.NoError(t, o.Stop(context.Background()))
	assert.False(t, o.IsRunning())
	require.NoError(t, o.Stop(context.Background()))
}

func TestOrchestratorConcurrentStop(t *testing.T) {
	o, ctx, _ := setup(t, newFakeStore(), Config{})
	require.NoError(t, o.Start(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Stop(context.Background()))
		}()
	}
	wg.Wait()
	assert.False(t, o.IsRunning())

	require.NoError(t, o.Start(ctx), "a stopped pipeline can start again")
	assert.True(t, o.IsRunning())
}

func TestHubKeepsOnlyNewestForSlowReaders(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe()
	for gen := uint64(1); gen <= 3; gen++ {
		h.publish(Update{Generation: gen})
	}
	u := <-ch
	assert.Equal(t, uint64(3), u.Generation)
	select {
	case <-ch:
		t.Fatal("stale update left in channel")
	default:
	}

	assert.Equal(t, 1, h.count())
	cancel()
	cancel()
	assert.Zero(t, h.count())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "querying", Querying.String())
	assert.Equal(t, "aggregating", Aggregating.String())
	assert.Equal(t, "diffing", Diffing.String())
	assert.Equal(t, "unknown", State(42).String())
}

// syncBuffer guards a bytes.Buffer written by the loop goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestOrchestratorLogsPublishedWindow(t *testing.T) {
	var out syncBuffer
	logger := log.New(log.Config{Level: slog.LevelDebug, Format: "json", Output: &out})
	ctrl := query.NewController(newFakeStore(), 1, time.UTC, query.Config{})
	_, err := ctrl.SetWindow(may)
	require.NoError(t, err)

	o := New(ctrl, logger, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(context.Background())

	assert.Eventually(t, func() bool {
		logs := out.String()
		return strings.Contains(logs, `"msg":"Snapshot published"`) &&
			strings.Contains(logs, `"window":"month:2024-05"`) &&
			strings.Contains(logs, `"generation":1`) &&
			strings.Contains(logs, `"operation":"publish"`)
	}, 2*time.Second, 5*time.Millisecond)
}
