// Package cache holds the client's per-text copy of "text with its
// annotations". Entries are shared, revocable read-models: optimistic
// writes are immediately visible to readers, every settled mutation
// marks the entry stale, and the next load reconciles with the server.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"textmark/internal/models"
)

// Entry is one cached text with its annotation set.
type Entry struct {
	Data     models.TextWithAnnotations
	Stale    bool
	LoadedAt time.Time
}

// TextCache is an LRU of per-text entries keyed by text id. All access
// goes through the cache's own lock so that snapshot-and-mutate pairs
// are atomic with respect to readers.
type TextCache struct {
	mu      sync.Mutex
	entries *lru.Cache[int64, *Entry]
	logger  *zap.Logger
}

func New(size int, logger *zap.Logger) (*TextCache, error) {
	entries, err := lru.New[int64, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create text cache: %w", err)
	}
	return &TextCache{entries: entries, logger: logger}, nil
}

// Put installs a fresh, authoritative entry for the text.
func (c *TextCache) Put(textID int64, data models.TextWithAnnotations) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(textID, &Entry{Data: clone(data), LoadedAt: time.Now()})
}

// Get returns a copy of the cached entry and whether it is stale. The
// copy is detached: callers may not write through it.
func (c *TextCache) Get(textID int64) (data models.TextWithAnnotations, stale, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(textID)
	if !ok {
		return models.TextWithAnnotations{}, false, false
	}
	return clone(e.Data), e.Stale, true
}

// MarkStale flags the entry so the next read triggers a reload. The
// cached data stays visible in the meantime.
func (c *TextCache) MarkStale(textID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries.Get(textID); ok {
		e.Stale = true
	}
}

// Remove drops the entry outright.
func (c *TextCache) Remove(textID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(textID)
}

// Txn is the snapshot/apply/commit-or-rollback helper shared by every
// optimistic mutation. Rollback restores the exact pre-mutation
// snapshot, not a partial undo. Only one rollback-carrying transaction
// should be outstanding per text at a time; a concurrent create racing a
// rollback on the same entry can interleave, which is an accepted
// limitation of the optimistic protocol.
type Txn struct {
	cache    *TextCache
	textID   int64
	snapshot models.TextWithAnnotations
	done     bool
}

// Begin snapshots the entry for textID. It fails if the text is not
// loaded; optimistic mutations require a populated entry to mutate.
func (c *TextCache) Begin(textID int64) (*Txn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(textID)
	if !ok {
		return nil, fmt.Errorf("text %d is not loaded", textID)
	}
	return &Txn{cache: c, textID: textID, snapshot: clone(e.Data)}, nil
}

// Apply mutates the live entry in place under the cache lock.
func (t *Txn) Apply(fn func(*models.TextWithAnnotations)) {
	t.cache.mu.Lock()
	defer t.cache.mu.Unlock()
	if e, ok := t.cache.entries.Get(t.textID); ok {
		fn(&e.Data)
	}
}

// Commit keeps the applied state and marks the entry stale so the next
// read is authoritative.
func (t *Txn) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.cache.MarkStale(t.textID)
}

// Rollback replays the pre-mutation snapshot verbatim and marks the
// entry stale.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.cache.mu.Lock()
	if e, ok := t.cache.entries.Get(t.textID); ok {
		e.Data = clone(t.snapshot)
		e.Stale = true
	}
	t.cache.mu.Unlock()
	if t.cache.logger != nil {
		t.cache.logger.Debug("cache rollback", zap.Int64("text_id", t.textID))
	}
}

func clone(in models.TextWithAnnotations) models.TextWithAnnotations {
	out := in
	out.Annotations = make([]models.Annotation, len(in.Annotations))
	for i, a := range in.Annotations {
		out.Annotations[i] = a
		if a.Reviews != nil {
			out.Annotations[i].Reviews = append([]models.Review(nil), a.Reviews...)
		}
	}
	return out
}
