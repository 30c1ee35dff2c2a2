package cache

import (
	"context"

	model "live-auction/internal/models"
)

// Store is a key-value backing for highest-bid records, keyed by auction ID.
// HighestBidCache layers an external Store over a local MemoryStore.
type Store interface {
	// Get returns the record for an auction. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, auctionID string) (model.HighestBidRecord, error)

	// Set stores the record for an auction, replacing any previous one.
	Set(ctx context.Context, auctionID string, record model.HighestBidRecord) error

	// Close releases the store's resources.
	Close() error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)
