package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/internal/notify"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type AuctionServiceInterface interface {
	CreateAuction(ctx context.Context, in model.NewAuction) (model.Auction, error)
	SubmitBid(ctx context.Context, auctionID string, amount decimal.Decimal, bidder model.Party) (model.AcceptedBid, error)
	GetAuction(ctx context.Context, auctionID string) (model.AuctionView, error)
	ListActiveAuctions(ctx context.Context) ([]model.AuctionView, error)
	ListBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error)
	CloseAuction(ctx context.Context, auctionID string) (model.AuctionResult, error)
}

// EventSubscriber streams the events of one auction until ctx ends
type EventSubscriber interface {
	Subscribe(ctx context.Context, auctionID string) <-chan notify.Event
}

type AuctionHandler struct {
	service AuctionServiceInterface
	events  EventSubscriber
}

func NewAuctionHandler(service AuctionServiceInterface, events EventSubscriber) *AuctionHandler {
	return &AuctionHandler{service: service, events: events}
}

// CreateAuctionHandler handles POST /api/auctions
func (h *AuctionHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), req.ToNewAuction())
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Error("CreateAuctionHandler: failed to create auction", map[string]any{
			"handler":   "CreateAuctionHandler",
			"item_name": req.ItemName,
			"error":     err.Error(),
		})
		return
	}

	resp := helpers.NewCreatedAuctionResponse(auction, time.Now().UTC())
	utils.JSONResponse(c, http.StatusCreated, resp,
		fmt.Sprintf("auction created successfully, ID: %s", auction.AuctionID))
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"item_name":  auction.ItemName,
	})
}

// PlaceBidHandler handles POST /api/auctions/:auction_id/bids
func (h *AuctionHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bidder := model.Party{Name: req.BidderName, Email: req.BidderEmail}
	accepted, err := h.service.SubmitBid(c.Request.Context(), auctionID, req.Amount, bidder)
	if err != nil {
		helpers.WriteBidError(c, err)
		utils.Warn("PlaceBidHandler: bid rejected", map[string]any{
			"handler":    "PlaceBidHandler",
			"auction_id": auctionID,
			"bidder":     req.BidderName,
			"amount":     req.Amount.String(),
			"error":      err.Error(),
		})
		return
	}

	resp := helpers.PlaceBidResponse{
		BidResponse:    helpers.NewBidResponse(accepted.Bid),
		MinimumNextBid: accepted.MinimumNextBid.StringFixed(model.MonetaryPrecision),
	}

	utils.JSONResponse(c, http.StatusCreated, resp, "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":     accepted.Bid.BidID,
		"auction_id": auctionID,
		"amount":     resp.Amount,
	})
}

// GetAuctionHandler handles GET /api/auctions/:auction_id
func (h *AuctionHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	view, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(view), "auction retrieved successfully")
}

// ListActiveAuctionsHandler handles GET /api/auctions/active
func (h *AuctionHandler) ListActiveAuctionsHandler(c *gin.Context) {
	views, err := h.service.ListActiveAuctions(c.Request.Context())
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("ListActiveAuctionsHandler: error listing auctions", map[string]any{"error": err.Error()})
		return
	}

	resp := make([]helpers.AuctionResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, helpers.NewAuctionResponse(v))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "active auctions retrieved successfully")
	helpers.LogSuccess("ListActiveAuctionsHandler", "active auctions retrieved successfully", map[string]any{
		"count": len(resp),
	})
}

// GetBidsHandler handles GET /api/auctions/:auction_id/bids?limit=N
func (h *AuctionHandler) GetBidsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.JSONError(c, http.StatusBadRequest,
				fmt.Errorf("invalid limit %q: %w", raw, biddingerrors.ErrValidation), "invalid limit")
			return
		}
		limit = n
	}

	bids, err := h.service.ListBids(c.Request.Context(), auctionID, limit)
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("GetBidsHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, helpers.NewBidResponse(b))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(resp),
	})
}

// EndAuctionHandler handles POST /api/auctions/:auction_id/end
func (h *AuctionHandler) EndAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	result, err := h.service.CloseAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Error("EndAuctionHandler: failed to end auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResultResponse(result), "auction ended")
	helpers.LogSuccess("EndAuctionHandler", "auction ended", map[string]any{"auction_id": auctionID})
}

// StreamEventsHandler handles GET /api/auctions/:auction_id/events.
// The stream opens with an auctionState snapshot, then carries newBid events
// until the auctionEnded event or the client disconnects.
func (h *AuctionHandler) StreamEventsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before the snapshot so no event falls between the two.
	events := h.events.Subscribe(ctx, auctionID)

	view, err := h.service.GetAuction(ctx, auctionID)
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("StreamEventsHandler: cannot open stream", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(string(notify.EventAuctionState), helpers.NewAuctionResponse(view))
	c.Writer.Flush()
	if view.Status == model.StatusEnded {
		return
	}

	utils.Debug("StreamEventsHandler: observer joined", map[string]any{"auction_id": auctionID})

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt.Data)
			return evt.Type != notify.EventAuctionEnded
		case <-ctx.Done():
			return false
		}
	})
}

// StatusHandler handles GET /api/status
func StatusHandler(report func() map[string]any) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := report()
		status["time"] = time.Now().UTC().Format(time.RFC3339)
		utils.JSONResponse(c, http.StatusOK, status, "ok")
	}
}
