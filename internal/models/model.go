package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonetaryPrecision is the number of decimal places allowed for prices and bids.
const MonetaryPrecision int32 = 2

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusActive AuctionStatus = "active"
	StatusEnded  AuctionStatus = "ended"
)

// Party identifies a seller or bidder by name and contact address
type Party struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewAuction holds the fields a seller submits to list an item
type NewAuction struct {
	ItemName        string
	Description     string
	StartingPrice   decimal.Decimal
	BidIncrement    decimal.Decimal
	DurationMinutes int
	Seller          Party
}

// Auction represents a listed item and its pricing and timing rules
type Auction struct {
	AuctionID       string          `json:"auction_id"`
	ItemName        string          `json:"item_name"`
	Description     string          `json:"description"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	BidIncrement    decimal.Decimal `json:"bid_increment"`
	DurationMinutes int             `json:"duration"`
	Seller          Party           `json:"seller"`
	StartTime       time.Time       `json:"start_time"`
	Status          AuctionStatus   `json:"status"`
}

// EndTime is StartTime plus the auction duration.
func (a Auction) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// IsExpired reports whether now is at or past the end time.
func (a Auction) IsExpired(now time.Time) bool {
	return !now.Before(a.EndTime())
}

// TimeRemaining returns the time left before expiry, never negative.
func (a Auction) TimeRemaining(now time.Time) time.Duration {
	if a.Status == StatusEnded {
		return 0
	}
	left := a.EndTime().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Bid represents an accepted bid on an auction
type Bid struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
	Bidder    Party           `json:"bidder"`
	BidTime   time.Time       `json:"bid_time"`
}

// HighestBidRecord is the cached pointer to the current highest bid.
// A nil Bidder means no bid has been placed and Amount is the starting price.
type HighestBidRecord struct {
	Amount    decimal.Decimal `json:"amount"`
	Bidder    *Party          `json:"bidder,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HasBidder reports whether the record points at an accepted bid.
func (r HighestBidRecord) HasBidder() bool {
	return r.Bidder != nil
}

// AcceptedBid is returned to a bidder whose bid was accepted
type AcceptedBid struct {
	Bid            Bid
	MinimumNextBid decimal.Decimal
}

// AuctionResult is the outcome of closing an auction.
// Winner is nil when the auction closed without bids.
type AuctionResult struct {
	AuctionID   string
	ItemName    string
	Seller      Party
	Winner      *Party
	FinalAmount decimal.Decimal
}

// AuctionView is an auction together with its live bidding state
type AuctionView struct {
	Auction
	CurrentHighestBid decimal.Decimal
	HighestBidder     *Party
	MinimumBid        decimal.Decimal
	TimeRemaining     time.Duration
}
