// Package worker applies ledger changes made by other instances to this
// instance's derived views.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"registro/internal/amqp"
	"registro/internal/ledger"
	"registro/internal/log"
)

// Pipeline is the part of the orchestrator the worker drives.
type Pipeline interface {
	NotifyLedgerChanged(ctx context.Context, c ledger.Change)
	Refresh()
}

// ChangeWorker turns broadcast ledger changes into recomputations.
type ChangeWorker struct {
	pipeline Pipeline
	ownerID  int64
	logger   *log.Logger

	applied int64
	ignored int64
}

func NewChangeWorker(pipeline Pipeline, ownerID int64, logger *log.Logger) *ChangeWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &ChangeWorker{
		pipeline: pipeline,
		ownerID:  ownerID,
		logger:   logger.WithComponent(log.ComponentAMQP),
	}
}

// HandleLedgerChange matches amqp.Handler. Changes to other owners' ledgers
// are acknowledged and dropped.
func (w *ChangeWorker) HandleLedgerChange(ctx context.Context, msg *amqp.LedgerChangeMessage) error {
	if msg.OwnerID != w.ownerID {
		atomic.AddInt64(&w.ignored, 1)
		return nil
	}

	w.logger.InfoContext(ctx, "Applying remote ledger change",
		log.FieldRecordID, msg.RecordID,
		log.FieldOperation, string(msg.Op),
		log.FieldOrigin, msg.Origin)

	w.pipeline.NotifyLedgerChanged(ctx, msg.Change())
	atomic.AddInt64(&w.applied, 1)
	return nil
}

// RefreshPeriodically recomputes every interval until ctx is done, catching
// up on changes whose messages were lost. A non-positive interval returns
// immediately.
func (w *ChangeWorker) RefreshPeriodically(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.logger.DebugContext(ctx, "Periodic refresh")
			w.pipeline.Refresh()
		}
	}
}

// Counts reports how many changes were applied and ignored.
func (w *ChangeWorker) Counts() (applied, ignored int64) {
	return atomic.LoadInt64(&w.applied), atomic.LoadInt64(&w.ignored)
}
