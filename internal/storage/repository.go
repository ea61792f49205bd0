package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"registro/internal/core"
	"registro/internal/ledger"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements ledger.Repository on a SQLite file.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ ledger.Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func toParams(rec core.Record) (InsertRecordParams, error) {
	attachments := rec.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return InsertRecordParams{}, fmt.Errorf("encode attachments: %w", err)
	}
	return InsertRecordParams{
		OwnerID:       rec.OwnerID,
		Kind:          int64(rec.Kind),
		Amount:        rec.Amount,
		CategoryID:    int64(rec.CategoryID),
		CategoryName:  rec.CategoryName,
		CategoryGroup: rec.CategoryGroup,
		CategoryIcon:  rec.CategoryIcon,
		AccountID:     int64(rec.AccountID),
		AccountName:   rec.AccountName,
		TimestampMs:   rec.Timestamp.UnixMilli(),
		DisplayDate:   rec.DisplayDate,
		DisplayTime:   rec.DisplayTime,
		Note:          rec.Note,
		Attachments:   string(raw),
	}, nil
}

func fromRow(row RecordRow) core.Record {
	rec := core.Record{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		Kind:          core.Kind(row.Kind),
		Amount:        row.Amount,
		CategoryID:    int(row.CategoryID),
		CategoryName:  row.CategoryName,
		CategoryGroup: row.CategoryGroup,
		CategoryIcon:  row.CategoryIcon,
		AccountID:     int(row.AccountID),
		AccountName:   row.AccountName,
		Timestamp:     time.UnixMilli(row.TimestampMs).UTC(),
		DisplayDate:   row.DisplayDate,
		DisplayTime:   row.DisplayTime,
		Note:          row.Note,
	}
	if err := json.Unmarshal([]byte(row.Attachments), &rec.Attachments); err != nil {
		slog.Warn("Ignoring malformed attachments column", "id", row.ID, "error", err)
		rec.Attachments = nil
	}
	return rec
}

// Upsert implements ledger.Writer.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec core.Record) (core.Record, error) {
	params, err := toParams(rec)
	if err != nil {
		return core.Record{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Record{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()
	q := r.queries.WithTx(tx)

	var id int64
	if rec.IsNew() {
		id, err = q.InsertRecord(ctx, params)
	} else {
		id, err = q.UpsertRecord(ctx, rec.ID, params)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("upsert record: %w", err)
	}

	// Read back inside the transaction so the caller sees the row as written.
	row, err := q.GetRecord(ctx, rec.OwnerID, id)
	if err != nil {
		return core.Record{}, fmt.Errorf("read back record %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Record{}, fmt.Errorf("commit upsert: %w", err)
	}

	slog.DebugContext(ctx, "Record saved to SQLite",
		"id", id,
		"owner_id", rec.OwnerID,
		"kind", rec.Kind.String(),
		"amount", rec.Amount)

	return fromRow(row), nil
}

// Delete implements ledger.Writer.
func (r *SQLiteRepository) Delete(ctx context.Context, ownerID, id int64) error {
	n, err := r.queries.DeleteRecord(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	slog.DebugContext(ctx, "Record deleted from SQLite", "id", id, "owner_id", ownerID)
	return nil
}

// Get implements ledger.Writer.
func (r *SQLiteRepository) Get(ctx context.Context, ownerID, id int64) (core.Record, error) {
	row, err := r.queries.GetRecord(ctx, ownerID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("get record: %w", err)
	}
	return fromRow(row), nil
}

// QueryRange implements ledger.Store.
func (r *SQLiteRepository) QueryRange(ctx context.Context, ownerID int64, start, end time.Time) ([]core.Record, error) {
	rows, err := r.queries.ListRecordsInRange(ctx, ownerID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query records in range: %w", err)
	}
	out := make([]core.Record, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

// MinTimestamp implements ledger.Store.
func (r *SQLiteRepository) MinTimestamp(ctx context.Context, ownerID int64) (time.Time, bool, error) {
	lo, _, err := r.queries.TimestampBounds(ctx, ownerID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query min timestamp: %w", err)
	}
	if !lo.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(lo.Int64).UTC(), true, nil
}

// MaxTimestamp implements ledger.Store.
func (r *SQLiteRepository) MaxTimestamp(ctx context.Context, ownerID int64) (time.Time, bool, error) {
	_, hi, err := r.queries.TimestampBounds(ctx, ownerID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query max timestamp: %w", err)
	}
	if !hi.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(hi.Int64).UTC(), true, nil
}
