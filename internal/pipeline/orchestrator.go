// Package pipeline keeps the derived views of the active window current.
//
// Every trigger (a window change, a kind change, a ledger mutation or an
// explicit refresh) bumps a generation counter. One loop goroutine runs the
// query, aggregation and diff for the newest generation; a run whose
// generation was superseded before it finished is discarded, so results are
// published strictly in request order and an older window never overwrites
// a newer one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"registro/internal/aggregate"
	"registro/internal/core"
	"registro/internal/diff"
	"registro/internal/ledger"
	"registro/internal/log"
	"registro/internal/query"
)

var (
	ErrAggregation    = errors.New("aggregation failed")
	ErrAlreadyRunning = errors.New("pipeline is already running")
)

// BuildFunc derives a snapshot from a window's records.
type BuildFunc func(records []core.Record, w core.Window, kind core.Kind, loc *time.Location) *core.Snapshot

// Config holds the orchestrator options.
type Config struct {
	// Kind is the active kind used for the chart series (default: expense)
	Kind core.Kind

	// Build overrides the aggregation step (default: aggregate.Build)
	Build BuildFunc

	// Clock stamps snapshots (default: time.Now)
	Clock func() time.Time
}

// Orchestrator owns the recomputation loop for one query controller.
type Orchestrator struct {
	ctrl   *query.Controller
	logger *log.Logger
	build  BuildFunc
	now    func() time.Time
	hub    *hub
	wake   chan struct{}

	mu             sync.Mutex
	kind           core.Kind
	generation     uint64
	published      uint64
	recomputations uint64
	discarded      uint64
	state          State
	cancelRun      context.CancelFunc
	snapshot       *core.Snapshot
	snapshotGen    uint64
	diff           diff.Result
	lastErr        error

	// Lifecycle management
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce *sync.Once
}

// New creates an idle orchestrator. Nothing is computed until Start.
func New(ctrl *query.Controller, logger *log.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.Build == nil {
		cfg.Build = aggregate.Build
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if !cfg.Kind.Valid() {
		cfg.Kind = core.Expense
	}
	return &Orchestrator{
		ctrl:   ctrl,
		logger: logger.WithComponent(log.ComponentPipeline),
		build:  cfg.Build,
		now:    cfg.Clock,
		hub:    newHub(),
		wake:   make(chan struct{}, 1),
		kind:   cfg.Kind,
	}
}

// Start begins the recomputation loop and schedules the first run.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.stopOnce = new(sync.Once)
	o.mu.Unlock()

	o.trigger("startup")
	go o.runLoop(ctx)

	o.logger.InfoContext(ctx, "Pipeline started",
		log.FieldWindow, o.ctrl.Window().Key(),
		log.FieldKind, o.Kind().String())
	return nil
}

// Stop aborts any run in flight and waits for the loop to exit.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	if o.cancelRun != nil {
		o.cancelRun()
	}
	stop, done, once := o.stopCh, o.doneCh, o.stopOnce
	o.mu.Unlock()

	once.Do(func() { close(stop) })

	select {
	case <-done:
		o.logger.InfoContext(ctx, "Pipeline stopped gracefully")
	case <-ctx.Done():
		o.logger.WarnContext(ctx, "Pipeline stop timed out")
		return ctx.Err()
	}

	o.mu.Lock()
	if o.doneCh == done {
		o.running = false
	}
	o.mu.Unlock()
	return nil
}

// Run starts the loop and blocks until ctx is done. It fits errgroup.Go.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.Stop(stopCtx)
}

func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// SetWindow switches the active window. An identical window changes
// nothing and schedules no work.
func (o *Orchestrator) SetWindow(w core.Window) error {
	changed, err := o.ctrl.SetWindow(w)
	if err != nil {
		return err
	}
	if changed {
		o.trigger("window")
	}
	return nil
}

// Window returns the active window.
func (o *Orchestrator) Window() core.Window { return o.ctrl.Window() }

// ChangeActiveKind switches the kind the chart series is built for.
func (o *Orchestrator) ChangeActiveKind(k core.Kind) error {
	if !k.Valid() {
		return fmt.Errorf("change kind: %w", core.ErrInvalidKind)
	}
	o.mu.Lock()
	if o.kind == k {
		o.mu.Unlock()
		return nil
	}
	o.kind = k
	o.mu.Unlock()

	o.trigger("kind")
	return nil
}

func (o *Orchestrator) Kind() core.Kind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.kind
}

// NotifyLedgerChanged drops cached query results and recomputes. Changes
// for other owners are ignored. It matches ledger.ChangeListener.
func (o *Orchestrator) NotifyLedgerChanged(ctx context.Context, c ledger.Change) {
	if c.OwnerID != o.ctrl.OwnerID() {
		o.logger.DebugContext(ctx, "Ignoring change for another owner",
			log.FieldOwnerID, c.OwnerID)
		return
	}
	o.ctrl.Invalidate()
	o.trigger("ledger")
}

// Refresh rereads the active window from the store, bypassing cached
// query results, and recomputes.
func (o *Orchestrator) Refresh() {
	o.ctrl.Invalidate()
	o.trigger("refresh")
}

// Subscribe returns a channel receiving every published update, starting
// with the latest one if any. A slow reader only ever sees the newest
// update. Call cancel to unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan Update, func()) {
	return o.hub.subscribe()
}

// Latest returns the most recently published update.
func (o *Orchestrator) Latest() (Update, bool) { return o.hub.last() }

// CurrentSnapshot returns the last successfully computed snapshot, or nil
// before the first one.
func (o *Orchestrator) CurrentSnapshot() *core.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

// CurrentDiff returns the script that produced the current snapshot's
// entries from the previous one, with the generation that published it.
// A failed run later on does not change either.
func (o *Orchestrator) CurrentDiff() (uint64, diff.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotGen, o.diff
}

func (o *Orchestrator) Recomputations() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recomputations
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		Running:        o.running,
		State:          o.state,
		Kind:           o.kind,
		Generation:     o.generation,
		Published:      o.published,
		Recomputations: o.recomputations,
		Discarded:      o.discarded,
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	o.mu.Unlock()

	st.Window = o.ctrl.Window()
	st.Subscribers = o.hub.count()
	return st
}

// trigger supersedes the run in flight and wakes the loop.
func (o *Orchestrator) trigger(origin string) {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	if o.cancelRun != nil {
		o.cancelRun()
	}
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	o.logger.Debug("Recomputation requested",
		log.FieldOrigin, origin,
		log.FieldGeneration, gen)
}

func (o *Orchestrator) runLoop(ctx context.Context) {
	defer close(o.doneCh)

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-o.wake:
			o.recompute(ctx)
		}
	}
}

// current reports whether gen is still the newest requested generation.
func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation == gen
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) recompute(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	gen := o.generation
	kind := o.kind
	prev := o.snapshot
	o.cancelRun = cancel
	o.state = Querying
	o.recomputations++
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.cancelRun = nil
		o.state = Idle
		o.mu.Unlock()
	}()

	started := time.Now()
	records, w, err := o.ctrl.QueryActiveWindow(runCtx)
	if !o.current(gen) || ctx.Err() != nil {
		o.discard(ctx, gen)
		return
	}
	if err != nil {
		o.fail(ctx, gen, prev, err)
		return
	}

	o.setState(Aggregating)
	snap, err := o.aggregate(records, w, kind)
	if err != nil {
		o.fail(ctx, gen, prev, err)
		return
	}
	snap.ComputedAt = o.now()

	o.setState(Diffing)
	var prevEntries []core.Entry
	if prev != nil {
		prevEntries = prev.Entries
	}
	d := diff.Compute(prevEntries, snap.Entries)

	o.mu.Lock()
	if o.generation != gen {
		o.discarded++
		o.mu.Unlock()
		o.logger.DebugContext(ctx, "Discarding superseded run", log.FieldGeneration, gen)
		return
	}
	o.snapshot = snap
	o.snapshotGen = gen
	o.diff = d
	o.lastErr = nil
	o.published = gen
	o.mu.Unlock()

	o.hub.publish(Update{Generation: gen, Snapshot: snap, Diff: d, At: snap.ComputedAt})

	counts := d.Counts()
	fields := log.NewFields().WithOperation(log.OpPublish).WithWindow(w).WithGeneration(gen)
	fields[log.FieldRecords] = len(records)
	fields[log.FieldDuration] = time.Since(started).Milliseconds()
	fields["removed"] = counts.Removed
	fields["inserted"] = counts.Inserted
	fields["moved"] = counts.Moved
	fields["changed"] = counts.Changed
	o.logger.DebugContext(ctx, "Snapshot published", fields.ToSlice()...)
}

// aggregate runs the build step, turning a panic into ErrAggregation.
func (o *Orchestrator) aggregate(records []core.Record, w core.Window, kind core.Kind) (snap *core.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = fmt.Errorf("%w: %v", ErrAggregation, r)
		}
	}()
	snap = o.build(records, w, kind, o.ctrl.Location())
	if snap == nil {
		return nil, fmt.Errorf("%w: no snapshot for %s", ErrAggregation, w)
	}
	return snap, nil
}

func (o *Orchestrator) discard(ctx context.Context, gen uint64) {
	o.mu.Lock()
	o.discarded++
	o.mu.Unlock()
	o.logger.DebugContext(ctx, "Discarding superseded run", log.FieldGeneration, gen)
}

// fail records err and republishes the last good snapshot with it.
func (o *Orchestrator) fail(ctx context.Context, gen uint64, prev *core.Snapshot, err error) {
	o.mu.Lock()
	if o.generation != gen {
		o.discarded++
		o.mu.Unlock()
		return
	}
	o.lastErr = err
	o.published = gen
	o.mu.Unlock()

	o.hub.publish(Update{Generation: gen, Snapshot: prev, Err: err, At: o.now()})
	o.logger.ErrorContext(ctx, "Recomputation failed",
		log.NewFields().WithOperation(log.OpRecompute).WithGeneration(gen).WithError(err).ToSlice()...)
}
