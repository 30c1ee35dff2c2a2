package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"live-auction/internal/metrics"
	model "live-auction/internal/models"
	"live-auction/utils"

	"github.com/shopspring/decimal"
)

// DefaultOpTimeout bounds each call to the external store.
const DefaultOpTimeout = 500 * time.Millisecond

// External store states reported by State
const (
	StateLocal     = "local"
	StateReachable = "reachable"
	StateDegraded  = "degraded"
)

// pinger is implemented by external stores that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// HighestBidCache is the fast-path pointer to the current highest bid per auction.
//
// Every write lands in the local MemoryStore and, when configured, in the
// external store. A failed external call is logged and the operation is served
// from the local copy; callers never see the failure. Within an auction the
// highest amount only grows, so Get returns whichever of the two copies is
// higher and one process keeps a consistent view across external outages.
type HighestBidCache struct {
	external Store
	local    *MemoryStore
	timeout  time.Duration
	now      func() time.Time
	// degraded is set by a failed external call and cleared by a successful one.
	degraded atomic.Bool
}

// NewHighestBidCache creates a cache. external may be nil for a purely
// in-process deployment.
func NewHighestBidCache(external Store, timeout time.Duration) *HighestBidCache {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &HighestBidCache{
		external: external,
		local:    NewMemoryStore(),
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the highest-bid record for an auction, or ErrCacheMiss when
// neither copy has one.
func (c *HighestBidCache) Get(ctx context.Context, auctionID string) (model.HighestBidRecord, error) {
	local, localErr := c.local.Get(ctx, auctionID)
	if c.external == nil {
		return local, localErr
	}

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	remote, err := c.external.Get(opCtx, auctionID)
	cancel()

	switch {
	case err == nil:
		c.degraded.Store(false)
		if localErr != nil || isNewer(remote, local) {
			_ = c.local.Set(ctx, auctionID, remote)
			return remote, nil
		}
		return local, nil
	case errors.Is(err, ErrCacheMiss):
		c.degraded.Store(false)
		return local, localErr
	default:
		c.fallback("get", auctionID, err)
		return local, localErr
	}
}

// Set records a new highest bid and returns the stored record. A nil bidder
// marks the starting price.
func (c *HighestBidCache) Set(ctx context.Context, auctionID string, amount decimal.Decimal, bidder *model.Party) model.HighestBidRecord {
	rec := model.HighestBidRecord{
		Amount:    amount,
		Bidder:    bidder,
		Timestamp: c.now(),
	}
	rec = copyRecord(rec)

	_ = c.local.Set(ctx, auctionID, rec)

	if c.external != nil {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.external.Set(opCtx, auctionID, rec)
		cancel()
		if err != nil {
			c.fallback("set", auctionID, err)
		} else {
			c.degraded.Store(false)
		}
	}
	return rec
}

// Mode describes the active backing: "memory" or "redis".
func (c *HighestBidCache) Mode() string {
	if c.external == nil {
		return "memory"
	}
	return "redis"
}

// State reports the external store as StateReachable or StateDegraded, or
// StateLocal when none is configured. Stores that support it are pinged
// within the op timeout; otherwise the outcome of the last call decides.
func (c *HighestBidCache) State(ctx context.Context) string {
	if c.external == nil {
		return StateLocal
	}
	if p, ok := c.external.(pinger); ok {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Ping(opCtx)
		cancel()
		c.degraded.Store(err != nil)
	}
	if c.degraded.Load() {
		return StateDegraded
	}
	return StateReachable
}

// Cached reports whether this process already holds a record for the
// auction. A record found only in the external store may predate bids the
// ledger has since accepted.
func (c *HighestBidCache) Cached(auctionID string) bool {
	return c.local.Has(auctionID)
}

// LocalSize is the number of auctions held by the local fallback.
func (c *HighestBidCache) LocalSize() int {
	return c.local.Len()
}

// Close releases the external store.
func (c *HighestBidCache) Close() error {
	if c.external == nil {
		return nil
	}
	return c.external.Close()
}

func (c *HighestBidCache) fallback(op, auctionID string, err error) {
	c.degraded.Store(true)
	metrics.CacheFallbacks.WithLabelValues(op).Inc()
	utils.Warn("highest-bid cache: external store failed, using local fallback", map[string]any{
		"operation":  op,
		"auction_id": auctionID,
		"error":      err.Error(),
	})
}

// isNewer reports whether a should replace b.
func isNewer(a, b model.HighestBidRecord) bool {
	if cmp := a.Amount.Cmp(b.Amount); cmp != 0 {
		return cmp > 0
	}
	if a.HasBidder() != b.HasBidder() {
		return a.HasBidder()
	}
	return a.Timestamp.After(b.Timestamp)
}
