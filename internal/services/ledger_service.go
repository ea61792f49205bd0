package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"registro/internal/core"
	"registro/internal/ledger"
	"registro/internal/log"
)

// ChangePublisher announces committed changes to other instances.
type ChangePublisher interface {
	PublishLedgerChange(ctx context.Context, c ledger.Change) error
}

// LedgerService validates and persists records, then tells in-process
// listeners and, when configured, other instances about the change.
type LedgerService struct {
	repo      ledger.Repository
	catalog   *core.Catalog
	publisher ChangePublisher
	loc       *time.Location
	now       func() time.Time

	mu        sync.RWMutex
	listeners []ledger.ChangeListener
}

// NewLedgerService builds a service over repo. publisher may be nil.
func NewLedgerService(repo ledger.Repository, catalog *core.Catalog, publisher ChangePublisher, loc *time.Location) *LedgerService {
	if catalog == nil {
		catalog = core.DefaultCatalog()
	}
	if loc == nil {
		loc = time.Local
	}
	return &LedgerService{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
		loc:       loc,
		now:       time.Now,
	}
}

// AddListener registers l for every committed change.
func (s *LedgerService) AddListener(l ledger.ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *LedgerService) Catalog() *core.Catalog { return s.catalog }

// SaveRecord creates r when it has no ID and replaces it otherwise. New
// records without a timestamp are stamped with the current time; an edit
// keeps the original timestamp and rejects an attempt to change it.
func (s *LedgerService) SaveRecord(ctx context.Context, r core.Record) (core.Record, error) {
	s.catalog.Resolve(&r)

	if r.IsNew() {
		if r.Timestamp.IsZero() {
			r.Timestamp = s.now()
		}
	} else {
		existing, err := s.repo.Get(ctx, r.OwnerID, r.ID)
		if err != nil {
			return core.Record{}, fmt.Errorf("load record %d: %w", r.ID, err)
		}
		if !r.Timestamp.IsZero() && !r.Timestamp.Equal(existing.Timestamp) {
			return core.Record{}, fmt.Errorf("save record %d: %w", r.ID, core.ErrTimestampChange)
		}
		r.Timestamp = existing.Timestamp
	}
	r.StampDisplay(s.loc)

	if err := r.Validate(); err != nil {
		return core.Record{}, fmt.Errorf("validate record: %w", err)
	}

	saved, err := s.repo.Upsert(ctx, r)
	if err != nil {
		return core.Record{}, fmt.Errorf("save record: %w", err)
	}

	op := log.OpUpdate
	if r.IsNew() {
		op = log.OpCreate
	}
	slog.InfoContext(ctx, "Record saved",
		log.NewFields().WithOperation(op).WithRecord(saved).ToSlice()...)

	s.notify(ctx, ledger.Change{OwnerID: saved.OwnerID, RecordID: saved.ID, Op: ledger.OpUpsert, At: s.now()})
	return saved, nil
}

// DeleteRecord removes one record of ownerID.
func (s *LedgerService) DeleteRecord(ctx context.Context, ownerID, id int64) error {
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Record deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldRecordID, id,
		log.FieldOwnerID, ownerID)

	s.notify(ctx, ledger.Change{OwnerID: ownerID, RecordID: id, Op: ledger.OpDelete, At: s.now()})
	return nil
}

// GetRecord returns one record of ownerID.
func (s *LedgerService) GetRecord(ctx context.Context, ownerID, id int64) (core.Record, error) {
	r, err := s.repo.Get(ctx, ownerID, id)
	if err != nil {
		return core.Record{}, fmt.Errorf("get record %d: %w", id, err)
	}
	return r, nil
}

// notify runs after the write has committed; nothing here can fail it.
func (s *LedgerService) notify(ctx context.Context, c ledger.Change) {
	s.mu.RLock()
	listeners := append([]ledger.ChangeListener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		s.callListener(ctx, l, c)
	}

	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping change message")
		return
	}
	if err := s.publisher.PublishLedgerChange(ctx, c); err != nil {
		slog.ErrorContext(ctx, "Failed to publish change message",
			"record_id", c.RecordID,
			"op", string(c.Op),
			"error", err)
	}
}

func (s *LedgerService) callListener(ctx context.Context, l ledger.ChangeListener, c ledger.Change) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Change listener panicked", "record_id", c.RecordID, "panic", r)
		}
	}()
	l(ctx, c)
}

// Close closes the repository and publisher when they hold resources.
func (s *LedgerService) Close() error {
	var errs []error

	if c, ok := s.repo.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %w", errors.Join(errs...))
	}
	return nil
}
