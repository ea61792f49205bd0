// Package query owns the active time window and turns it into ledger range
// queries.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"registro/internal/cache"
	"registro/internal/core"
	"registro/internal/ledger"
)

type cacheKey struct {
	window   core.Window
	revision uint64
}

// Config tunes the result cache. A zero CacheSize disables caching.
type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Controller holds the current window for one owner.
type Controller struct {
	store   ledger.Store
	ownerID int64
	loc     *time.Location
	now     func() time.Time

	mu       sync.RWMutex
	window   core.Window
	revision uint64

	results *cache.LRUCache[cacheKey, []core.Record]
}

// NewController starts on the calendar month containing now in loc.
func NewController(store ledger.Store, ownerID int64, loc *time.Location, cfg Config) *Controller {
	if loc == nil {
		loc = time.Local
	}
	c := &Controller{
		store:   store,
		ownerID: ownerID,
		loc:     loc,
		now:     time.Now,
	}
	c.window = core.CurrentWindow(c.now().In(loc))
	if cfg.CacheSize > 0 {
		c.results = cache.NewLRUCache[cacheKey, []core.Record](cfg.CacheSize, cfg.CacheTTL)
	}
	return c
}

// Cache exposes the result cache for background cleanup; nil when disabled.
func (c *Controller) Cache() cache.Cleaner {
	if c.results == nil {
		return nil
	}
	return c.results
}

// CacheStats reports result cache usage.
func (c *Controller) CacheStats() cache.Stats {
	if c.results == nil {
		return cache.Stats{}
	}
	return c.results.Stats()
}

func (c *Controller) OwnerID() int64           { return c.ownerID }
func (c *Controller) Location() *time.Location { return c.loc }

func (c *Controller) Window() core.Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.window
}

// SetWindow replaces the active window. It reports false when w equals the
// current window, in which case nothing changes.
func (c *Controller) SetWindow(w core.Window) (bool, error) {
	if err := w.Validate(); err != nil {
		return false, fmt.Errorf("set window: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window == w {
		return false, nil
	}
	c.window = w
	return true, nil
}

// Invalidate drops cached results after a ledger mutation.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	c.revision++
	c.mu.Unlock()
	if c.results != nil {
		c.results.Purge()
	}
}

// QueryActiveWindow queries the window held at call time and returns it
// with the records.
func (c *Controller) QueryActiveWindow(ctx context.Context) ([]core.Record, core.Window, error) {
	w := c.Window()
	records, err := c.Query(ctx, w)
	return records, w, err
}

// Query returns the owner's records inside w, newest first. Callers must
// not modify the returned slice.
func (c *Controller) Query(ctx context.Context, w core.Window) ([]core.Record, error) {
	c.mu.RLock()
	key := cacheKey{window: w, revision: c.revision}
	c.mu.RUnlock()

	if c.results != nil {
		if records, ok := c.results.Get(key); ok {
			slog.DebugContext(ctx, "Query served from cache", "window", w.Key())
			return records, nil
		}
	}

	start, end := w.Range(c.loc)
	records, err := c.store.QueryRange(ctx, c.ownerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query window %s: %w", w, err)
	}

	if c.results != nil {
		c.mu.RLock()
		current := c.revision == key.revision
		c.mu.RUnlock()
		// A mutation during the query makes this result stale.
		if current {
			c.results.Set(key, records)
		}
	}
	return records, nil
}

// Bounds returns the windows of mode holding the owner's oldest and newest
// records. ok is false when the ledger is empty.
func (c *Controller) Bounds(ctx context.Context, mode core.Mode) (first, last core.Window, ok bool, err error) {
	lo, found, err := c.store.MinTimestamp(ctx, c.ownerID)
	if err != nil {
		return first, last, false, fmt.Errorf("min timestamp: %w", err)
	}
	if !found {
		return first, last, false, nil
	}
	hi, _, err := c.store.MaxTimestamp(ctx, c.ownerID)
	if err != nil {
		return first, last, false, fmt.Errorf("max timestamp: %w", err)
	}
	return core.WindowOf(mode, lo.In(c.loc)), core.WindowOf(mode, hi.In(c.loc)), true, nil
}

// Selectable lists the picker windows for mode, dropping those outside the
// ledger's data. The current calendar window is always kept.
func (c *Controller) Selectable(ctx context.Context, mode core.Mode) ([]core.PickerTab, error) {
	now := c.now().In(c.loc)
	tabs := core.PickerWindows(now, mode)

	current := core.WindowOf(mode, now)
	first, last, ok, err := c.Bounds(ctx, mode)
	if err != nil {
		return nil, err
	}
	if !ok {
		first, last = current, current
	}

	active := c.Window()
	out := tabs[:0]
	for _, tab := range tabs {
		inRange := !tab.Window.Before(first) && !last.Before(tab.Window)
		if inRange || tab.Window == current {
			tab.Selected = tab.Window == active
			out = append(out, tab)
		}
	}
	return out, nil
}
