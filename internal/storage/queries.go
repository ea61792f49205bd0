package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL used by SQLiteRepository.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx runs the same queries inside tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// RecordRow mirrors one row of the records table.
type RecordRow struct {
	ID            int64
	OwnerID       int64
	Kind          int64
	Amount        string
	CategoryID    int64
	CategoryName  string
	CategoryGroup string
	CategoryIcon  string
	AccountID     int64
	AccountName   string
	TimestampMs   int64
	DisplayDate   string
	DisplayTime   string
	Note          string
	Attachments   string
}

const recordColumns = `id, owner_id, kind, amount, category_id, category_name, category_group,
category_icon, account_id, account_name, timestamp_ms, display_date, display_time, note, attachments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordRow(s rowScanner) (RecordRow, error) {
	var r RecordRow
	err := s.Scan(
		&r.ID, &r.OwnerID, &r.Kind, &r.Amount, &r.CategoryID, &r.CategoryName, &r.CategoryGroup,
		&r.CategoryIcon, &r.AccountID, &r.AccountName, &r.TimestampMs, &r.DisplayDate, &r.DisplayTime,
		&r.Note, &r.Attachments,
	)
	return r, err
}

const insertRecord = `INSERT INTO records (
    owner_id, kind, amount, category_id, category_name, category_group, category_icon,
    account_id, account_name, timestamp_ms, display_date, display_time, note, attachments
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

type InsertRecordParams struct {
	OwnerID       int64
	Kind          int64
	Amount        string
	CategoryID    int64
	CategoryName  string
	CategoryGroup string
	CategoryIcon  string
	AccountID     int64
	AccountName   string
	TimestampMs   int64
	DisplayDate   string
	DisplayTime   string
	Note          string
	Attachments   string
}

func (q *Queries) InsertRecord(ctx context.Context, arg InsertRecordParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertRecord,
		arg.OwnerID, arg.Kind, arg.Amount, arg.CategoryID, arg.CategoryName, arg.CategoryGroup,
		arg.CategoryIcon, arg.AccountID, arg.AccountName, arg.TimestampMs, arg.DisplayDate,
		arg.DisplayTime, arg.Note, arg.Attachments,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

// An existing row keeps its timestamp and display strings; a row owned by
// someone else is left untouched and no id is returned.
const upsertRecord = `INSERT INTO records (
    id, owner_id, kind, amount, category_id, category_name, category_group, category_icon,
    account_id, account_name, timestamp_ms, display_date, display_time, note, attachments
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    kind = excluded.kind,
    amount = excluded.amount,
    category_id = excluded.category_id,
    category_name = excluded.category_name,
    category_group = excluded.category_group,
    category_icon = excluded.category_icon,
    account_id = excluded.account_id,
    account_name = excluded.account_name,
    note = excluded.note,
    attachments = excluded.attachments,
    updated_at = CURRENT_TIMESTAMP
WHERE records.owner_id = excluded.owner_id
RETURNING id`

func (q *Queries) UpsertRecord(ctx context.Context, id int64, arg InsertRecordParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertRecord, id,
		arg.OwnerID, arg.Kind, arg.Amount, arg.CategoryID, arg.CategoryName, arg.CategoryGroup,
		arg.CategoryIcon, arg.AccountID, arg.AccountName, arg.TimestampMs, arg.DisplayDate,
		arg.DisplayTime, arg.Note, arg.Attachments,
	)
	var out int64
	err := row.Scan(&out)
	return out, err
}

const getRecord = `SELECT ` + recordColumns + ` FROM records WHERE owner_id = ? AND id = ?`

func (q *Queries) GetRecord(ctx context.Context, ownerID, id int64) (RecordRow, error) {
	return scanRecordRow(q.db.QueryRowContext(ctx, getRecord, ownerID, id))
}

const deleteRecord = `DELETE FROM records WHERE owner_id = ? AND id = ?`

func (q *Queries) DeleteRecord(ctx context.Context, ownerID, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRecord, ownerID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listRecordsInRange = `SELECT ` + recordColumns + ` FROM records
WHERE owner_id = ? AND timestamp_ms >= ? AND timestamp_ms < ?
ORDER BY timestamp_ms DESC, id DESC`

func (q *Queries) ListRecordsInRange(ctx context.Context, ownerID, startMs, endMs int64) ([]RecordRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecordsInRange, ownerID, startMs, endMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RecordRow
	for rows.Next() {
		r, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const timestampBounds = `SELECT MIN(timestamp_ms), MAX(timestamp_ms) FROM records WHERE owner_id = ?`

func (q *Queries) TimestampBounds(ctx context.Context, ownerID int64) (sql.NullInt64, sql.NullInt64, error) {
	var lo, hi sql.NullInt64
	err := q.db.QueryRowContext(ctx, timestampBounds, ownerID).Scan(&lo, &hi)
	return lo, hi, err
}
