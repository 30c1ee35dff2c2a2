package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

// AuctionDB defines the ledger of auctions and accepted bids.
// Bids are append-only; an auction record changes only when it is marked ended.
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListActiveAuctions(ctx context.Context) ([]model.Auction, error)
	// MarkEnded flips an active auction to ended and reports whether this call
	// performed the transition.
	MarkEnded(ctx context.Context, auctionID string) (bool, error)
	RecordBid(ctx context.Context, bid model.Bid) error
	// GetBidsByAuction returns up to limit bids, most recent first.
	GetBidsByAuction(ctx context.Context, auctionID string, limit int) ([]model.Bid, error)
	// GetHighestBid returns the last accepted bid, which is also the highest.
	GetHighestBid(ctx context.Context, auctionID string) (model.Bid, error)
	Close() error
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]model.Auction // key: auctionID -> value: auction
	bids     map[string][]model.Bid   // key: auctionID -> value: bids in acceptance order
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]model.Auction),
		bids:     make(map[string][]model.Bid),
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - empty auction ID", biddingerrors.ErrValidation)
	}
	if _, exists := r.auctions[auction.AuctionID]; exists {
		return fmt.Errorf("create auction %s: already exists", auction.AuctionID)
	}
	r.auctions[auction.AuctionID] = auction
	return nil
}

// GetAuction returns an auction by ID
func (r *MemoryRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return auction, nil
}

// ListActiveAuctions returns active auctions, newest first
func (r *MemoryRepo) ListActiveAuctions(ctx context.Context) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if a.Status == model.StatusActive {
			active = append(active, a)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].StartTime.Equal(active[j].StartTime) {
			return active[i].AuctionID > active[j].AuctionID
		}
		return active[i].StartTime.After(active[j].StartTime)
	})
	return active, nil
}

// MarkEnded transitions an auction to ended exactly once
func (r *MemoryRepo) MarkEnded(ctx context.Context, auctionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return false, fmt.Errorf("mark auction %s ended: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if auction.Status == model.StatusEnded {
		return false, nil
	}
	auction.Status = model.StatusEnded
	r.auctions[auctionID] = auction
	return true, nil
}

// RecordBid appends an accepted bid to the auction's ledger
func (r *MemoryRepo) RecordBid(ctx context.Context, bid model.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}

	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)
	return nil
}

// GetBidsByAuction returns the most recent bids for an auction
func (r *MemoryRepo) GetBidsByAuction(ctx context.Context, auctionID string, limit int) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := r.bids[auctionID]
	if limit <= 0 || limit > len(bids) {
		limit = len(bids)
	}

	out := make([]model.Bid, 0, limit)
	for i := len(bids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, bids[i])
	}
	return out, nil
}

// GetHighestBid returns the highest bid for an auction
func (r *MemoryRepo) GetHighestBid(ctx context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids, ok := r.bids[auctionID]
	if !ok || len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}

	highest := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(highest.Amount) {
			highest = b
		}
	}
	return highest, nil
}

// Close is a no-op for the in-memory repository
func (r *MemoryRepo) Close() error {
	return nil
}

var _ AuctionDB = (*MemoryRepo)(nil)
