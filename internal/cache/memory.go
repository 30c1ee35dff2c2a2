package cache

import (
	"context"
	"sync"

	model "live-auction/internal/models"
)

// MemoryStore is an in-process implementation of Store.
// It never fails and serves as the fallback for an unreachable external store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.HighestBidRecord
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]model.HighestBidRecord),
	}
}

// Get retrieves the record for an auction.
func (m *MemoryStore) Get(ctx context.Context, auctionID string) (model.HighestBidRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.entries[auctionID]
	if !ok {
		return model.HighestBidRecord{}, ErrCacheMiss
	}
	return copyRecord(rec), nil
}

// Set stores the record for an auction.
func (m *MemoryStore) Set(ctx context.Context, auctionID string, record model.HighestBidRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[auctionID] = copyRecord(record)
	return nil
}

// Has reports whether the store holds a record for the auction.
func (m *MemoryStore) Has(auctionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[auctionID]
	return ok
}

// Len returns the number of auctions held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close drops all entries.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]model.HighestBidRecord)
	return nil
}

// copyRecord detaches the bidder pointer so callers cannot mutate stored state.
func copyRecord(rec model.HighestBidRecord) model.HighestBidRecord {
	if rec.Bidder != nil {
		bidder := *rec.Bidder
		rec.Bidder = &bidder
	}
	return rec
}

var _ Store = (*MemoryStore)(nil)
