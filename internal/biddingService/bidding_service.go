package bidding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/cache"
	"live-auction/internal/metrics"
	"live-auction/internal/models"
	"live-auction/internal/notify"
	"live-auction/internal/repository"
	"live-auction/utils"

	"github.com/shopspring/decimal"
)

// Bid history page sizes
const (
	DefaultBidPageSize = 20
	MaxBidPageSize     = 100
)

// notificationTimeout bounds the out-of-band winner/seller notification.
const notificationTimeout = 30 * time.Second

// Closure triggers, used as metric labels
const (
	triggerManual = "manual"
	triggerTimer  = "timer"
	triggerLazy   = "lazy"
	triggerSweep  = "sweep"
)

// HighestBidCache is the fast-path store of the current highest bid per auction.
type HighestBidCache interface {
	Get(ctx context.Context, auctionID string) (models.HighestBidRecord, error)
	Set(ctx context.Context, auctionID string, amount decimal.Decimal, bidder *models.Party) models.HighestBidRecord
	// Cached reports whether this process holds its own record for the auction.
	Cached(auctionID string) bool
}

// Scheduler arms a single closure at or after fireAt.
type Scheduler interface {
	Arm(auctionID string, fireAt time.Time)
}

// Broadcaster delivers events to the observers of an auction.
type Broadcaster interface {
	Broadcast(auctionID string, evt notify.Event)
}

// WinnerNotifier sends the out-of-band seller and winner messages.
type WinnerNotifier interface {
	Enabled() bool
	NotifyAuctionEnded(ctx context.Context, result models.AuctionResult) error
}

// AuctionService is the auction state machine. It owns the active → ended
// lifecycle and every accept/reject decision. All bid and closure work on one
// auction runs under that auction's lock; different auctions run in parallel.
type AuctionService struct {
	repo      repository.AuctionDB
	cache     HighestBidCache
	scheduler Scheduler
	fanout    Broadcaster
	notifier  WinnerNotifier
	locks     *auctionLocks
	now       func() time.Time
	pending   sync.WaitGroup
}

// Option configures an AuctionService
type Option func(*AuctionService)

// WithScheduler arms closures on s when auctions are created.
func WithScheduler(s Scheduler) Option {
	return func(svc *AuctionService) { svc.scheduler = s }
}

// WithBroadcaster publishes bid and closure events to b.
func WithBroadcaster(b Broadcaster) Option {
	return func(svc *AuctionService) { svc.fanout = b }
}

// WithNotifier sends winner and seller messages through n on closure.
func WithNotifier(n WinnerNotifier) Option {
	return func(svc *AuctionService) { svc.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(svc *AuctionService) { svc.now = now }
}

// NewAuctionService creates a new AuctionService instance
func NewAuctionService(repo repository.AuctionDB, highest HighestBidCache, opts ...Option) *AuctionService {
	svc := &AuctionService{
		repo:  repo,
		cache: highest,
		locks: newAuctionLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateAuction validates and persists a new active auction, seeds the
// highest-bid cache with the starting price and arms its expiry.
func (s *AuctionService) CreateAuction(ctx context.Context, in models.NewAuction) (models.Auction, error) {
	if err := validateNewAuction(in); err != nil {
		return models.Auction{}, err
	}

	auction := models.Auction{
		AuctionID:       utils.GenerateID(),
		ItemName:        strings.TrimSpace(in.ItemName),
		Description:     in.Description,
		StartingPrice:   in.StartingPrice,
		BidIncrement:    in.BidIncrement,
		DurationMinutes: in.DurationMinutes,
		Seller:          in.Seller,
		StartTime:       s.now().Truncate(time.Millisecond),
		Status:          models.StatusActive,
	}

	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}

	s.cache.Set(ctx, auction.AuctionID, auction.StartingPrice, nil)

	if s.scheduler != nil {
		s.scheduler.Arm(auction.AuctionID, auction.EndTime())
	}

	utils.Info("auction created", map[string]any{
		"auction_id":     auction.AuctionID,
		"item_name":      auction.ItemName,
		"starting_price": auction.StartingPrice.StringFixed(models.MonetaryPrecision),
		"duration":       auction.DurationMinutes,
	})
	return auction, nil
}

// SubmitBid accepts or rejects a bid. Once the auction's lock is taken the
// decision runs to completion even if ctx is cancelled by a departing client.
func (s *AuctionService) SubmitBid(ctx context.Context, auctionID string, amount decimal.Decimal, bidder models.Party) (models.AcceptedBid, error) {
	if err := validateBid(auctionID, amount, bidder); err != nil {
		metrics.BidsRejected.WithLabelValues("invalid").Inc()
		return models.AcceptedBid{}, err
	}

	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(auctionID)
	defer unlock()

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		metrics.BidsRejected.WithLabelValues("lookup").Inc()
		return models.AcceptedBid{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}

	if auction.Status == models.StatusEnded {
		metrics.BidsRejected.WithLabelValues("closed").Inc()
		return models.AcceptedBid{}, fmt.Errorf("service: auction %s: %w", auctionID, biddingerrors.ErrAuctionClosed)
	}

	now := s.now()
	if auction.IsExpired(now) {
		if _, err := s.closeLocked(ctx, auction, triggerLazy); err != nil {
			utils.Error("failed to close expired auction on late bid", map[string]any{
				"auction_id": auctionID,
				"error":      err.Error(),
			})
		}
		metrics.BidsRejected.WithLabelValues("closed").Inc()
		return models.AcceptedBid{}, fmt.Errorf("service: auction %s expired: %w", auctionID, biddingerrors.ErrAuctionClosed)
	}

	current, err := s.currentHighest(ctx, auction)
	if err != nil {
		metrics.BidsRejected.WithLabelValues("store").Inc()
		return models.AcceptedBid{}, fmt.Errorf("service: failed to read highest bid for auction %s: %w", auctionID, err)
	}

	minimum := current.Amount.Add(auction.BidIncrement)
	if amount.LessThan(minimum) {
		metrics.BidsRejected.WithLabelValues("too_low").Inc()
		return models.AcceptedBid{}, fmt.Errorf("service: auction %s: %w", auctionID, &biddingerrors.BidTooLowError{Minimum: minimum})
	}

	bid := models.Bid{
		BidID:     utils.GenerateBidID(now),
		AuctionID: auctionID,
		Amount:    amount,
		Bidder:    bidder,
		BidTime:   now.Truncate(time.Millisecond),
	}

	if err := s.repo.RecordBid(ctx, bid); err != nil {
		metrics.BidsRejected.WithLabelValues("store").Inc()
		return models.AcceptedBid{}, fmt.Errorf("service: failed to record bid for auction %s: %w", auctionID, err)
	}

	winner := bidder
	s.cache.Set(ctx, auctionID, amount, &winner)
	metrics.BidsAccepted.Inc()

	s.broadcast(auctionID, notify.NewBidEvent(bid))

	utils.Info("bid accepted", map[string]any{
		"auction_id": auctionID,
		"bid_id":     bid.BidID,
		"amount":     amount.StringFixed(models.MonetaryPrecision),
		"bidder":     bidder.Name,
	})

	return models.AcceptedBid{
		Bid:            bid,
		MinimumNextBid: amount.Add(auction.BidIncrement),
	}, nil
}

// CloseAuction ends an auction and determines its result. Closing an ended
// auction returns the recorded result without notifying anyone again.
func (s *AuctionService) CloseAuction(ctx context.Context, auctionID string) (models.AuctionResult, error) {
	return s.closeWithTrigger(ctx, auctionID, triggerManual)
}

// CloseExpired is CloseAuction as invoked by the expiry timer.
func (s *AuctionService) CloseExpired(ctx context.Context, auctionID string) (models.AuctionResult, error) {
	return s.closeWithTrigger(ctx, auctionID, triggerTimer)
}

func (s *AuctionService) closeWithTrigger(ctx context.Context, auctionID, trigger string) (models.AuctionResult, error) {
	if strings.TrimSpace(auctionID) == "" {
		return models.AuctionResult{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(auctionID)
	defer unlock()

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.AuctionResult{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}
	return s.closeLocked(ctx, auction, trigger)
}

// closeLocked performs the closure. The caller holds the auction's lock.
func (s *AuctionService) closeLocked(ctx context.Context, auction models.Auction, trigger string) (models.AuctionResult, error) {
	transitioned := false
	if auction.Status != models.StatusEnded {
		changed, err := s.repo.MarkEnded(ctx, auction.AuctionID)
		if err != nil {
			return models.AuctionResult{}, fmt.Errorf("service: failed to end auction %s: %w", auction.AuctionID, err)
		}
		transitioned = changed
		auction.Status = models.StatusEnded
	}

	highest, err := s.currentHighest(ctx, auction)
	if err != nil {
		return models.AuctionResult{}, fmt.Errorf("service: failed to read result for auction %s: %w", auction.AuctionID, err)
	}
	result := resultFor(auction, highest)

	if !transitioned {
		return result, nil
	}

	metrics.AuctionsClosed.WithLabelValues(trigger).Inc()
	fields := map[string]any{
		"auction_id":   auction.AuctionID,
		"trigger":      trigger,
		"final_amount": result.FinalAmount.StringFixed(models.MonetaryPrecision),
	}
	if result.Winner != nil {
		fields["winner"] = result.Winner.Name
	}
	utils.Info("auction closed", fields)

	s.broadcast(auction.AuctionID, notify.AuctionEndedEvent(result))
	s.notifyWinner(result)

	return result, nil
}

// notifyWinner sends the seller and winner messages in the background.
// Failures are logged and never touch the auction's state.
func (s *AuctionService) notifyWinner(result models.AuctionResult) {
	if result.Winner == nil || s.notifier == nil || !s.notifier.Enabled() {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		if err := s.notifier.NotifyAuctionEnded(ctx, result); err != nil {
			metrics.NotificationFailures.Inc()
			utils.Error("failed to send auction end notifications", map[string]any{
				"auction_id": result.AuctionID,
				"error":      err.Error(),
			})
		}
	}()
}

// WaitForNotifications blocks until in-flight winner notifications finish.
func (s *AuctionService) WaitForNotifications() {
	s.pending.Wait()
}

// GetAuction returns an auction with its live bidding state. An auction whose
// end time has passed is closed before it is returned.
func (s *AuctionService) GetAuction(ctx context.Context, auctionID string) (models.AuctionView, error) {
	if strings.TrimSpace(auctionID) == "" {
		return models.AuctionView{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.AuctionView{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}

	if auction.Status == models.StatusActive && auction.IsExpired(s.now()) {
		if _, err := s.closeWithTrigger(ctx, auctionID, triggerLazy); err != nil {
			return models.AuctionView{}, err
		}
		auction.Status = models.StatusEnded
	}

	return s.view(ctx, auction)
}

// ListActiveAuctions returns active auctions, newest first. Expired auctions
// found along the way are closed and left out.
func (s *AuctionService) ListActiveAuctions(ctx context.Context) ([]models.AuctionView, error) {
	auctions, err := s.repo.ListActiveAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list active auctions: %w", err)
	}

	now := s.now()
	views := make([]models.AuctionView, 0, len(auctions))
	for _, auction := range auctions {
		if auction.IsExpired(now) {
			if _, err := s.closeWithTrigger(ctx, auction.AuctionID, triggerLazy); err != nil {
				utils.Error("failed to close expired auction while listing", map[string]any{
					"auction_id": auction.AuctionID,
					"error":      err.Error(),
				})
			}
			continue
		}

		v, err := s.view(ctx, auction)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// ListBids returns an auction's bid history, most recent first. A non-positive
// limit means DefaultBidPageSize; limits above MaxBidPageSize are capped.
func (s *AuctionService) ListBids(ctx context.Context, auctionID string, limit int) ([]models.Bid, error) {
	if strings.TrimSpace(auctionID) == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultBidPageSize
	}
	if limit > MaxBidPageSize {
		limit = MaxBidPageSize
	}

	if _, err := s.repo.GetAuction(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// SweepExpired closes every active auction whose end time has passed and
// returns how many this call closed.
func (s *AuctionService) SweepExpired(ctx context.Context) (int, error) {
	auctions, err := s.repo.ListActiveAuctions(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: sweep failed to list active auctions: %w", err)
	}

	now := s.now()
	closed := 0
	var errs []error
	for _, auction := range auctions {
		if !auction.IsExpired(now) {
			continue
		}
		if _, err := s.closeWithTrigger(ctx, auction.AuctionID, triggerSweep); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// RearmActive arms the scheduler for every active auction in the ledger.
// Used at startup so in-memory timers survive a restart.
func (s *AuctionService) RearmActive(ctx context.Context) (int, error) {
	if s.scheduler == nil {
		return 0, nil
	}

	auctions, err := s.repo.ListActiveAuctions(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: failed to list active auctions: %w", err)
	}
	for _, auction := range auctions {
		s.scheduler.Arm(auction.AuctionID, auction.EndTime())
	}
	return len(auctions), nil
}

// currentHighest returns the highest-bid record. The caller holds the
// auction's lock. The first time this process touches an auction the record
// is reconciled with the ledger, since an external copy alone may be stale.
func (s *AuctionService) currentHighest(ctx context.Context, auction models.Auction) (models.HighestBidRecord, error) {
	if s.cache.Cached(auction.AuctionID) {
		rec, err := s.cache.Get(ctx, auction.AuctionID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			return models.HighestBidRecord{}, err
		}
	}
	return s.reconcileHighest(ctx, auction)
}

// reconcileHighest seeds the cache with the higher of the external record and
// the ledger's last accepted bid. Ties go to the ledger.
func (s *AuctionService) reconcileHighest(ctx context.Context, auction models.Auction) (models.HighestBidRecord, error) {
	ledger := models.HighestBidRecord{Amount: auction.StartingPrice}
	last, err := s.repo.GetHighestBid(ctx, auction.AuctionID)
	switch {
	case err == nil:
		bidder := last.Bidder
		ledger = models.HighestBidRecord{Amount: last.Amount, Bidder: &bidder}
	case !errors.Is(err, biddingerrors.ErrNoBids):
		return models.HighestBidRecord{}, err
	}

	chosen := ledger
	cached, err := s.cache.Get(ctx, auction.AuctionID)
	switch {
	case err != nil:
	case cached.Amount.GreaterThan(ledger.Amount):
		chosen = cached
	case cached.Amount.LessThan(ledger.Amount):
		utils.Warn("highest-bid cache behind ledger, repairing", map[string]any{
			"auction_id":    auction.AuctionID,
			"cached_amount": cached.Amount.StringFixed(models.MonetaryPrecision),
			"ledger_amount": ledger.Amount.StringFixed(models.MonetaryPrecision),
		})
	}

	utils.Debug("highest-bid record reconciled with ledger", map[string]any{
		"auction_id": auction.AuctionID,
		"amount":     chosen.Amount.StringFixed(models.MonetaryPrecision),
	})
	return s.cache.Set(ctx, auction.AuctionID, chosen.Amount, chosen.Bidder), nil
}

// readHighest is currentHighest for callers that do not hold the auction's
// lock. Reconciliation takes the lock so it cannot overwrite a bid accepted
// meanwhile.
func (s *AuctionService) readHighest(ctx context.Context, auction models.Auction) (models.HighestBidRecord, error) {
	if s.cache.Cached(auction.AuctionID) {
		if rec, err := s.cache.Get(ctx, auction.AuctionID); err == nil {
			return rec, nil
		}
	}
	unlock := s.locks.lock(auction.AuctionID)
	defer unlock()
	return s.currentHighest(context.WithoutCancel(ctx), auction)
}

func (s *AuctionService) view(ctx context.Context, auction models.Auction) (models.AuctionView, error) {
	highest, err := s.readHighest(ctx, auction)
	if err != nil {
		return models.AuctionView{}, fmt.Errorf("service: failed to read highest bid for auction %s: %w", auction.AuctionID, err)
	}
	return models.AuctionView{
		Auction:           auction,
		CurrentHighestBid: highest.Amount,
		HighestBidder:     highest.Bidder,
		MinimumBid:        highest.Amount.Add(auction.BidIncrement),
		TimeRemaining:     auction.TimeRemaining(s.now()),
	}, nil
}

func (s *AuctionService) broadcast(auctionID string, evt notify.Event) {
	if s.fanout != nil {
		s.fanout.Broadcast(auctionID, evt)
	}
}

func resultFor(auction models.Auction, highest models.HighestBidRecord) models.AuctionResult {
	result := models.AuctionResult{
		AuctionID:   auction.AuctionID,
		ItemName:    auction.ItemName,
		Seller:      auction.Seller,
		FinalAmount: auction.StartingPrice,
	}
	if highest.HasBidder() {
		winner := *highest.Bidder
		result.Winner = &winner
		result.FinalAmount = highest.Amount
	}
	return result
}

// validateNewAuction checks creation input
func validateNewAuction(in models.NewAuction) error {
	var missing []string
	if strings.TrimSpace(in.ItemName) == "" {
		missing = append(missing, "item name")
	}
	if strings.TrimSpace(in.Seller.Name) == "" {
		missing = append(missing, "seller name")
	}
	if strings.TrimSpace(in.Seller.Email) == "" {
		missing = append(missing, "seller email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("service: %w - missing %s", biddingerrors.ErrValidation, strings.Join(missing, ", "))
	}

	if err := validateMoney("starting price", in.StartingPrice); err != nil {
		return err
	}
	if err := validateMoney("bid increment", in.BidIncrement); err != nil {
		return err
	}
	if in.DurationMinutes <= 0 {
		return fmt.Errorf("service: %w - non-positive duration", biddingerrors.ErrValidation)
	}
	return nil
}

// validateBid checks input validity before the auction is consulted
func validateBid(auctionID string, amount decimal.Decimal, bidder models.Party) error {
	if strings.TrimSpace(auctionID) == "" {
		return fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}
	if strings.TrimSpace(bidder.Name) == "" || strings.TrimSpace(bidder.Email) == "" {
		return fmt.Errorf("service: %w - missing bidder name or email", biddingerrors.ErrValidation)
	}
	return validateMoney("bid amount", amount)
}

func validateMoney(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("service: %w - non-positive %s", biddingerrors.ErrValidation, field)
	}
	if !v.Equal(v.Truncate(models.MonetaryPrecision)) {
		return fmt.Errorf("service: %w - %s has more than %d decimal places", biddingerrors.ErrValidation, field, models.MonetaryPrecision)
	}
	return nil
}
