// Package ledger defines the ports the pipeline and services use to reach
// record storage. Implementations live in ledger/memory and storage.
package ledger

import (
	"context"
	"errors"
	"time"

	"registro/internal/core"
)

var ErrNotFound = errors.New("record not found")

// Op names the kind of mutation in a Change.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Ports for outbound adapters.
type (
	// Store answers window-bounded reads. QueryRange returns records with
	// start <= timestamp < end, newest first, ties by ID descending.
	Store interface {
		QueryRange(ctx context.Context, ownerID int64, start, end time.Time) ([]core.Record, error)
		// MinTimestamp and MaxTimestamp report false when the owner has no records.
		MinTimestamp(ctx context.Context, ownerID int64) (time.Time, bool, error)
		MaxTimestamp(ctx context.Context, ownerID int64) (time.Time, bool, error)
	}

	// Writer replaces or removes whole records. Upsert assigns an ID to new
	// records and returns the stored value.
	Writer interface {
		Upsert(ctx context.Context, r core.Record) (core.Record, error)
		Delete(ctx context.Context, ownerID, id int64) error
		Get(ctx context.Context, ownerID, id int64) (core.Record, error)
	}

	Repository interface {
		Store
		Writer
	}
)

// Change describes one committed mutation.
type Change struct {
	OwnerID  int64     `json:"owner_id"`
	RecordID int64     `json:"record_id"`
	Op       Op        `json:"op"`
	At       time.Time `json:"at"`
}

// ChangeListener is told about every committed mutation.
type ChangeListener func(ctx context.Context, c Change)
