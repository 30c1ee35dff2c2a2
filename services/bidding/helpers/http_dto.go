package helpers

import (
	"time"

	model "live-auction/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type CreateAuctionRequest struct {
	ItemName      string          `json:"item_name" binding:"required"`
	Description   string          `json:"description"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	BidIncrement  decimal.Decimal `json:"bid_increment"`
	Duration      int             `json:"duration" binding:"required,gt=0"` // minutes
	SellerName    string          `json:"seller_name" binding:"required"`
	SellerEmail   string          `json:"seller_email" binding:"required,email"`
}

// ToNewAuction converts the request into service input
func (r CreateAuctionRequest) ToNewAuction() model.NewAuction {
	return model.NewAuction{
		ItemName:        r.ItemName,
		Description:     r.Description,
		StartingPrice:   r.StartingPrice,
		BidIncrement:    r.BidIncrement,
		DurationMinutes: r.Duration,
		Seller:          model.Party{Name: r.SellerName, Email: r.SellerEmail},
	}
}

type PlaceBidRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	BidderName  string          `json:"bidder_name" binding:"required"`
	BidderEmail string          `json:"bidder_email" binding:"required,email"`
}

type AuctionResponse struct {
	AuctionID         string `json:"auction_id"`
	ItemName          string `json:"item_name"`
	Description       string `json:"description"`
	StartingPrice     string `json:"starting_price"`
	BidIncrement      string `json:"bid_increment"`
	Duration          int    `json:"duration"`
	SellerName        string `json:"seller_name"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	Status            string `json:"status"`
	CurrentHighestBid string `json:"current_highest_bid"`
	HighestBidder     string `json:"highest_bidder,omitempty"`
	MinimumBid        string `json:"minimum_bid"`
	TimeRemainingMS   int64  `json:"time_remaining_ms"`
}

type BidResponse struct {
	BidID      string `json:"bid_id"`
	AuctionID  string `json:"auction_id"`
	Amount     string `json:"amount"`
	BidderName string `json:"bidder_name"`
	BidTime    string `json:"bid_time"`
}

type PlaceBidResponse struct {
	BidResponse
	MinimumNextBid string `json:"minimum_next_bid"`
}

type AuctionResultResponse struct {
	AuctionID   string `json:"auction_id"`
	ItemName    string `json:"item_name"`
	Winner      string `json:"winner,omitempty"`
	FinalAmount string `json:"final_amount"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(model.MonetaryPrecision)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewAuctionResponse renders an auction view
func NewAuctionResponse(v model.AuctionView) AuctionResponse {
	resp := AuctionResponse{
		AuctionID:         v.AuctionID,
		ItemName:          v.ItemName,
		Description:       v.Description,
		StartingPrice:     money(v.StartingPrice),
		BidIncrement:      money(v.BidIncrement),
		Duration:          v.DurationMinutes,
		SellerName:        v.Seller.Name,
		StartTime:         timestamp(v.StartTime),
		EndTime:           timestamp(v.EndTime()),
		Status:            string(v.Status),
		CurrentHighestBid: money(v.CurrentHighestBid),
		MinimumBid:        money(v.MinimumBid),
		TimeRemainingMS:   v.TimeRemaining.Milliseconds(),
	}
	if v.HighestBidder != nil {
		resp.HighestBidder = v.HighestBidder.Name
	}
	return resp
}

// NewCreatedAuctionResponse renders a freshly created auction, which has no bids yet
func NewCreatedAuctionResponse(a model.Auction, now time.Time) AuctionResponse {
	return NewAuctionResponse(model.AuctionView{
		Auction:           a,
		CurrentHighestBid: a.StartingPrice,
		MinimumBid:        a.StartingPrice.Add(a.BidIncrement),
		TimeRemaining:     a.TimeRemaining(now),
	})
}

// NewBidResponse renders an accepted bid
func NewBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:      b.BidID,
		AuctionID:  b.AuctionID,
		Amount:     money(b.Amount),
		BidderName: b.Bidder.Name,
		BidTime:    timestamp(b.BidTime),
	}
}

// NewAuctionResultResponse renders a closure outcome
func NewAuctionResultResponse(r model.AuctionResult) AuctionResultResponse {
	resp := AuctionResultResponse{
		AuctionID:   r.AuctionID,
		ItemName:    r.ItemName,
		FinalAmount: money(r.FinalAmount),
	}
	if r.Winner != nil {
		resp.Winner = r.Winner.Name
	}
	return resp
}
