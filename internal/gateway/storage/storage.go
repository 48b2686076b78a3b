// Package storage provides per-trik, namespaced, quota-enforced key-value
// storage with TTL and prefix listing. The gateway hands each invocation a
// context scoped to a single trik id; skill code cannot cross namespaces.
// Two implementations exist: an ephemeral in-memory provider for tests and
// CI, and a durable Postgres-backed provider.
package storage

import (
	"context"
	"encoding/json"

	"golang.org/x/text/unicode/norm"

	"github.com/Molefas/trikhub/internal/manifest"
	"github.com/Molefas/trikhub/pkg/api"
)

// DefaultMaxSizeBytes caps a trik's total storage when the manifest does not
// declare a limit.
const DefaultMaxSizeBytes = int64(100 * 1024 * 1024)

// Provider hands out per-trik storage contexts and administers the backing
// store.
type Provider interface {
	// ForTrik returns a context scoped to trikID. The capability's
	// maxSizeBytes bounds the trik's total usage.
	ForTrik(trikID string, caps *manifest.StorageCapabilities) api.StorageContext

	// GetUsage returns the current usage for a trik in bytes, measured as the
	// UTF-8 size of the JSON encoding of each live value.
	GetUsage(ctx context.Context, trikID string) (int64, error)

	// Clear removes all entries for a trik.
	Clear(ctx context.Context, trikID string) error

	// ListTriks lists trik ids with stored data.
	ListTriks(ctx context.Context) ([]string, error)

	// Close releases backing resources.
	Close() error
}

// maxSizeFor resolves the quota for a trik from its declared capabilities.
func maxSizeFor(caps *manifest.StorageCapabilities) int64 {
	if caps != nil && caps.MaxSizeBytes > 0 {
		return caps.MaxSizeBytes
	}
	return DefaultMaxSizeBytes
}

// normalizeKey puts keys in NFC so namespace uniqueness is stable across
// unicode representations of the same text.
func normalizeKey(key string) string {
	return norm.NFC.String(key)
}

// encodeValue returns the JSON encoding of a value and its UTF-8 size, the
// basis for quota accounting.
func encodeValue(value any) ([]byte, int64, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, 0, ErrInvalidValue.Err(err)
	}
	return raw, int64(len(raw)), nil
}
