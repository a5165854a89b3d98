// Package history keeps the bounded, deduplicated record of finished scans.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"biograph/internal/events"
	"biograph/internal/kvstore"
	"biograph/internal/logging"
	"biograph/internal/settings"
	"biograph/internal/types"
)

// Key is the store key holding the history payload.
const Key = "biograph_history"

// Entry is a finalized result plus the time it was recorded. Entries are
// never mutated once stored.
type Entry struct {
	ID string `json:"id"`
	types.ScanResult
	Timestamp time.Time `json:"timestamp"`
}

type EventKind string

const (
	EventAppended EventKind = "appended"
	EventCleared  EventKind = "cleared"
)

type Event struct {
	Kind  EventKind `json:"kind"`
	Count int       `json:"count"`
}

// SameCompound is the dedup policy: two results describe the same compound
// when their names match or their SMILES match. Empty values never match.
func SameCompound(a, b types.ScanResult) bool {
	if a.Name != "" && a.Name == b.Name {
		return true
	}
	return a.Smiles != "" && a.Smiles == b.Smiles
}

type Cache struct {
	mu       sync.Mutex
	store    kvstore.Store
	settings settings.Reader
	log      *zap.Logger
	entries  []Entry
	changes  *events.Broker[Event]

	now   func() time.Time
	newID func() string
}

// New loads the stored history. Capacity is read from reader on every
// append, so a settings change applies to the next write.
func New(ctx context.Context, store kvstore.Store, reader settings.Reader, log *zap.Logger) *Cache {
	c := &Cache{
		store:    store,
		settings: reader,
		log:      logging.OrNop(log).Named("history"),
		changes:  events.NewBroker[Event](),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	c.entries = c.load(ctx)
	return c
}

func (c *Cache) load(ctx context.Context) []Entry {
	raw, ok, err := kvstore.Load(ctx, c.store, Key)
	if err != nil {
		c.log.Warn("history unreadable, starting empty", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.log.Warn("history payload malformed, starting empty", zap.Error(err))
		return nil
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = c.newID()
		}
	}
	return entries
}

func (c *Cache) capacity() int {
	limit := settings.Defaults().HistoryLimit
	if c.settings != nil {
		if n := c.settings.Current().HistoryLimit; n > 0 {
			limit = n
		}
	}
	return limit
}

// Append records r at the head unless a stored entry is the same compound.
// It reports whether r was stored.
func (c *Cache) Append(ctx context.Context, r types.ScanResult) (Entry, bool) {
	c.mu.Lock()
	for _, e := range c.entries {
		if SameCompound(e.ScanResult, r) {
			c.mu.Unlock()
			c.log.Debug("duplicate result skipped", zap.String("name", r.Name))
			return Entry{}, false
		}
	}
	entry := Entry{ID: c.newID(), ScanResult: r.Clone(), Timestamp: c.now().UTC()}
	next := make([]Entry, 0, len(c.entries)+1)
	next = append(next, entry)
	next = append(next, c.entries...)
	if limit := c.capacity(); len(next) > limit {
		next = next[:limit]
	}
	c.entries = next
	c.persistLocked(ctx)
	count := len(c.entries)
	c.mu.Unlock()

	c.changes.Publish(Event{Kind: EventAppended, Count: count})
	return entry, true
}

// ClearAll empties the history.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mu.Lock()
	c.entries = nil
	c.persistLocked(ctx)
	c.mu.Unlock()
	c.changes.Publish(Event{Kind: EventCleared})
}

func (c *Cache) persistLocked(ctx context.Context) {
	entries := c.entries
	if entries == nil {
		entries = []Entry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		c.log.Error("encode history", zap.Error(err))
		return
	}
	if err := kvstore.Save(ctx, c.store, Key, raw); err != nil {
		c.log.Error("persist history", zap.Error(err))
	}
}

// Entries returns the stored list, most recent first, capped at the live
// capacity.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	if limit := c.capacity(); n > limit {
		n = limit
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = c.entries[i]
		out[i].ScanResult = c.entries[i].ScanResult.Clone()
	}
	return out
}

func (c *Cache) Find(id string) (Entry, bool) {
	for _, e := range c.Entries() {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (c *Cache) Subscribe(size int) (<-chan Event, func()) {
	return c.changes.Subscribe(size)
}

func (c *Cache) Close() { c.changes.Close() }
