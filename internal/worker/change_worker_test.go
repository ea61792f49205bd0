package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registro/internal/amqp"
	"registro/internal/ledger"
)

type fakePipeline struct {
	mu        sync.Mutex
	changes   []ledger.Change
	refreshes int
}

func (f *fakePipeline) NotifyLedgerChanged(_ context.Context, c ledger.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
}

func (f *fakePipeline) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakePipeline) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func TestHandleLedgerChange(t *testing.T) {
	p := &fakePipeline{}
	w := NewChangeWorker(p, 7, nil)
	ctx := context.Background()

	mine := amqp.NewLedgerChangeMessage(ledger.Change{OwnerID: 7, RecordID: 3, Op: ledger.OpDelete}, "other")
	theirs := amqp.NewLedgerChangeMessage(ledger.Change{OwnerID: 8, RecordID: 4, Op: ledger.OpUpsert}, "other")

	require.NoError(t, w.HandleLedgerChange(ctx, mine))
	require.NoError(t, w.HandleLedgerChange(ctx, theirs))

	require.Len(t, p.changes, 1)
	assert.Equal(t, int64(3), p.changes[0].RecordID)
	assert.Equal(t, ledger.OpDelete, p.changes[0].Op)

	applied, ignored := w.Counts()
	assert.Equal(t, int64(1), applied)
	assert.Equal(t, int64(1), ignored)
}

func TestRefreshPeriodically(t *testing.T) {
	p := &fakePipeline{}
	w := NewChangeWorker(p, 1, nil)

	assert.NoError(t, w.RefreshPeriodically(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RefreshPeriodically(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return p.refreshCount() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RefreshPeriodically did not stop")
	}
}
