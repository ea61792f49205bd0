package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"registro/internal/core"
	"registro/internal/ledger"
)

// Store keeps records in process memory. It implements ledger.Repository.
type Store struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]core.Record
}

var _ ledger.Repository = (*Store)(nil)

func New(seed ...core.Record) *Store {
	s := &Store{nextID: 1, items: make(map[int64]core.Record)}
	for _, r := range seed {
		_, _ = s.Upsert(context.Background(), r)
	}
	return s
}

// Upsert stores r, assigning an ID when r is new. Updating an existing
// record keeps its original timestamp and display strings.
func (s *Store) Upsert(ctx context.Context, r core.Record) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return core.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		r.ID = s.nextID
	} else if old, ok := s.items[r.ID]; ok {
		if old.OwnerID != r.OwnerID {
			return core.Record{}, ledger.ErrNotFound
		}
		r.Timestamp = old.Timestamp
		r.DisplayDate = old.DisplayDate
		r.DisplayTime = old.DisplayTime
	}
	if r.ID >= s.nextID {
		s.nextID = r.ID + 1
	}
	r = r.Clone()
	s.items[r.ID] = r
	return r.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, ownerID, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || r.OwnerID != ownerID {
		return ledger.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) Get(ctx context.Context, ownerID, id int64) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return core.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || r.OwnerID != ownerID {
		return core.Record{}, ledger.ErrNotFound
	}
	return r.Clone(), nil
}

// QueryRange returns the owner's records in [start, end), newest first.
func (s *Store) QueryRange(ctx context.Context, ownerID int64, start, end time.Time) ([]core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]core.Record, 0)
	for _, r := range s.items {
		if r.OwnerID != ownerID || r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		out = append(out, r.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) MinTimestamp(ctx context.Context, ownerID int64) (time.Time, bool, error) {
	return s.extreme(ctx, ownerID, time.Time.Before)
}

func (s *Store) MaxTimestamp(ctx context.Context, ownerID int64) (time.Time, bool, error) {
	return s.extreme(ctx, ownerID, time.Time.After)
}

func (s *Store) extreme(ctx context.Context, ownerID int64, better func(time.Time, time.Time) bool) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	found := false
	for _, r := range s.items {
		if r.OwnerID != ownerID {
			continue
		}
		if !found || better(r.Timestamp, best) {
			best = r.Timestamp
			found = true
		}
	}
	return best, found, nil
}

// Len returns the number of stored records across all owners.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
