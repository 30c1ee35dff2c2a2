package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bidding "live-auction/internal/biddingService"
	"live-auction/internal/cache"
	"live-auction/internal/config"
	"live-auction/internal/metrics"
	"live-auction/internal/notify"
	"live-auction/internal/repository"
	"live-auction/internal/scheduler"
	"live-auction/internal/server"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func main() {
	cfg := config.MustLoad()
	utils.SetLevel(cfg.App.LogLevel)
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics.Init()

	utils.Info("starting live auction server", map[string]any{
		"environment": cfg.App.Environment,
		"ledger":      cfg.Database.Driver,
		"cache":       cfg.Cache.Type,
	})

	ctx := context.Background()

	repo, err := openLedger(ctx, cfg.Database)
	if err != nil {
		utils.Fatal("failed to initialize ledger", map[string]any{"error": err.Error()})
	}
	defer repo.Close()

	highest := openHighestBidCache(cfg.Cache)
	defer highest.Close()

	hub := notify.NewHub()
	mailer := notify.NewMailer(notify.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})
	if !mailer.Enabled() {
		utils.Warn("SMTP not configured, winner notifications disabled", nil)
	}

	sched := scheduler.NewExpiryScheduler(scheduler.Config{SweepInterval: cfg.Scheduler.SweepInterval})

	auctionSvc := bidding.NewAuctionService(repo, highest,
		bidding.WithScheduler(sched),
		bidding.WithBroadcaster(hub),
		bidding.WithNotifier(mailer),
	)

	sched.Start(auctionSvc)

	if closed, err := auctionSvc.SweepExpired(ctx); err != nil {
		utils.Error("startup sweep failed", map[string]any{"error": err.Error()})
	} else if closed > 0 {
		utils.Info("closed auctions that expired while offline", map[string]any{"closed": closed})
	}
	if armed, err := auctionSvc.RearmActive(ctx); err != nil {
		utils.Error("failed to re-arm active auctions", map[string]any{"error": err.Error()})
	} else {
		utils.Info("active auctions re-armed", map[string]any{"count": armed})
	}

	router := server.SetupRouter(server.Config{
		Service: auctionSvc,
		Events:  hub,
		Status: func() map[string]any {
			return map[string]any{
				"status":      "ok",
				"ledger":      cfg.Database.Driver,
				"cache":       highest.Mode(),
				"cache_local": highest.LocalSize(),
				"cache_state": highest.State(context.Background()),
				"mail":        mailer.Enabled(),
				"timers":      sched.Pending(),
				"environment": cfg.App.Environment,
			}
		},
		BidLimit: rate.Limit(cfg.App.BidRate),
		BidBurst: cfg.App.BidBurst,
	})

	// No write timeout: event streams stay open for the life of an auction.
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.Info("server listening", map[string]any{"addr": cfg.Server.Address()})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Fatal("server error", map[string]any{"error": err.Error()})
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	utils.Info("shutting down server", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("server shutdown error", map[string]any{"error": err.Error()})
	}
	// Closures launch notifications, so the scheduler stops first.
	sched.Stop()
	auctionSvc.WaitForNotifications()

	utils.Info("server stopped", nil)
}

// openLedger selects the ledger implementation for the configured driver
func openLedger(ctx context.Context, cfg config.DatabaseConfig) (repository.AuctionDB, error) {
	switch cfg.Driver {
	case "memory":
		utils.Warn("using in-memory ledger, auctions will not survive a restart", nil)
		return repository.NewMemoryRepo(), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		return repository.OpenSQLRepo(ctx, "sqlite", cfg.Path)
	default:
		return repository.OpenSQLRepo(ctx, cfg.Driver, cfg.LedgerDSN())
	}
}

// openHighestBidCache connects redis when configured. An unreachable redis
// is logged and the process runs on the in-process cache alone.
func openHighestBidCache(cfg config.CacheConfig) *cache.HighestBidCache {
	if cfg.Type != "redis" {
		return cache.NewHighestBidCache(nil, cfg.OpTimeout)
	}

	store, err := cache.NewRedisStore(cache.RedisConfig{
		Addr:      cfg.RedisAddress(),
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.KeyPrefix,
		Timeout:   cfg.OpTimeout,
	})
	if err != nil {
		utils.Warn("redis unavailable, highest-bid cache running in-process only", map[string]any{
			"addr":  cfg.RedisAddress(),
			"error": err.Error(),
		})
		return cache.NewHighestBidCache(nil, cfg.OpTimeout)
	}
	return cache.NewHighestBidCache(store, cfg.OpTimeout)
}
