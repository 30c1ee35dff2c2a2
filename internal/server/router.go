package server

import (
	"live-auction/internal/metrics"
	"live-auction/internal/notify"
	handler "live-auction/services/bidding/handler"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config holds what the router needs to serve the auction API
type Config struct {
	Service handler.AuctionServiceInterface
	Events  handler.EventSubscriber
	// Status reports component health for /api/status.
	Status func() map[string]any
	// BidLimit and BidBurst throttle bid submission per client IP. A zero
	// BidLimit disables throttling.
	BidLimit rate.Limit
	BidBurst int
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(cfg Config) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(metrics.GinMiddleware())

	auctionHandler := handler.NewAuctionHandler(cfg.Service, cfg.Events)

	bidGuards := []gin.HandlerFunc{}
	if cfg.BidLimit > 0 {
		bidGuards = append(bidGuards, NewBidRateLimiter(cfg.BidLimit, cfg.BidBurst).Middleware())
	}

	auctions := router.Group("/api/auctions")
	{
		auctions.POST("", auctionHandler.CreateAuctionHandler)
		auctions.GET("/active", auctionHandler.ListActiveAuctionsHandler)
		auctions.GET("/:auction_id", auctionHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/bids", auctionHandler.GetBidsHandler)
		auctions.POST("/:auction_id/bids", append(bidGuards, auctionHandler.PlaceBidHandler)...)
		auctions.POST("/:auction_id/end", auctionHandler.EndAuctionHandler)
		auctions.GET("/:auction_id/events", auctionHandler.StreamEventsHandler)
	}

	status := cfg.Status
	if status == nil {
		status = func() map[string]any { return map[string]any{"status": "ok"} }
	}
	router.GET("/api/status", handler.StatusHandler(status))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

var _ handler.EventSubscriber = (*notify.Hub)(nil)
