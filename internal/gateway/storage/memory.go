package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Molefas/trikhub/internal/manifest"
	"github.com/Molefas/trikhub/pkg/api"
)

// memoryEntry is one stored value with its quota size and expiry.
type memoryEntry struct {
	raw       []byte
	size      int64
	createdAt time.Time
	expiresAt time.Time // zero when no TTL
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryProvider is the ephemeral storage provider. Semantics match the
// durable provider; contents are lost on shutdown.
type MemoryProvider struct {
	mu    sync.RWMutex
	triks map[string]map[string]*memoryEntry

	// now is replaceable for expiry tests.
	now func() time.Time
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		triks: make(map[string]map[string]*memoryEntry),
		now:   time.Now,
	}
}

// ForTrik returns a context scoped to trikID.
func (p *MemoryProvider) ForTrik(trikID string, caps *manifest.StorageCapabilities) api.StorageContext {
	return &memoryContext{
		provider: p,
		trikID:   trikID,
		maxSize:  maxSizeFor(caps),
	}
}

// GetUsage sums the quota sizes of a trik's live entries.
func (p *MemoryProvider) GetUsage(_ context.Context, trikID string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked(trikID)

	var usage int64
	for _, entry := range p.triks[trikID] {
		usage += entry.size
	}
	return usage, nil
}

// Clear removes all entries for a trik.
func (p *MemoryProvider) Clear(_ context.Context, trikID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.triks, trikID)
	return nil
}

// ListTriks lists trik ids with stored data.
func (p *MemoryProvider) ListTriks(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.triks))
	for id := range p.triks {
		p.sweepLocked(id)
		if len(p.triks[id]) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the in-memory provider.
func (p *MemoryProvider) Close() error { return nil }

// sweepLocked drops expired entries for a trik. Caller holds the write lock.
func (p *MemoryProvider) sweepLocked(trikID string) {
	now := p.now()
	for key, entry := range p.triks[trikID] {
		if entry.expired(now) {
			delete(p.triks[trikID], key)
		}
	}
}

func (p *MemoryProvider) entriesLocked(trikID string) map[string]*memoryEntry {
	entries, ok := p.triks[trikID]
	if !ok {
		entries = make(map[string]*memoryEntry)
		p.triks[trikID] = entries
	}
	return entries
}

// memoryContext is the per-trik handle over a MemoryProvider.
type memoryContext struct {
	provider *MemoryProvider
	trikID   string
	maxSize  int64
}

func (c *memoryContext) Get(_ context.Context, key string) (any, bool, error) {
	key = normalizeKey(key)
	p := c.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked(c.trikID)

	entry, ok := p.triks[c.trikID][key]
	if !ok {
		return nil, false, nil
	}
	var value any
	if err := json.Unmarshal(entry.raw, &value); err != nil {
		return nil, false, ErrBackend.Err(err)
	}
	return value, true, nil
}

func (c *memoryContext) Set(_ context.Context, key string, value any, ttlMs int64) error {
	key = normalizeKey(key)
	raw, size, err := encodeValue(value)
	if err != nil {
		return err
	}

	p := c.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked(c.trikID)

	entries := p.entriesLocked(c.trikID)

	var usage, oldSize int64
	for k, entry := range entries {
		usage += entry.size
		if k == key {
			oldSize = entry.size
		}
	}
	if usage-oldSize+size > c.maxSize {
		return ErrQuotaExceeded.Msg("usage would exceed maxSizeBytes")
	}

	now := p.now()
	entry := &memoryEntry{raw: raw, size: size, createdAt: now}
	if ttlMs > 0 {
		entry.expiresAt = now.Add(time.Duration(ttlMs) * time.Millisecond)
	}
	entries[key] = entry
	return nil
}

func (c *memoryContext) Delete(_ context.Context, key string) (bool, error) {
	key = normalizeKey(key)
	p := c.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked(c.trikID)

	if _, ok := p.triks[c.trikID][key]; !ok {
		return false, nil
	}
	delete(p.triks[c.trikID], key)
	return true, nil
}

func (c *memoryContext) List(_ context.Context, prefix string) ([]string, error) {
	prefix = normalizeKey(prefix)
	p := c.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked(c.trikID)

	keys := make([]string, 0, len(p.triks[c.trikID]))
	for key := range p.triks[c.trikID] {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *memoryContext) GetMany(ctx context.Context, keys []string) (map[string]any, error) {
	result := make(map[string]any, len(keys))
	for _, key := range keys {
		value, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			result[key] = value
		}
	}
	return result, nil
}

func (c *memoryContext) SetMany(ctx context.Context, entries map[string]any) error {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := c.Set(ctx, key, entries[key], 0); err != nil {
			return err
		}
	}
	return nil
}

var _ Provider = (*MemoryProvider)(nil)
var _ api.StorageContext = (*memoryContext)(nil)
