package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bidding "live-auction/internal/biddingService"
	"live-auction/internal/cache"
	"live-auction/internal/notify"
	"live-auction/internal/repository"
	"live-auction/internal/scheduler"
	"live-auction/internal/server"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// testClock lets tests move auctions past their end time.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testEnv is the full stack: SQLite ledger, redis-backed cache, scheduler, hub and router.
type testEnv struct {
	Router  *gin.Engine
	Service *bidding.AuctionService
	Repo    *repository.SQLRepo
	Cache   *cache.HighestBidCache
	Redis   *miniredis.Miniredis
	Hub     *notify.Hub
	Sched   *scheduler.ExpiryScheduler
	Clock   *testClock
}

// SetupTestEnv initializes the stack against a temp SQLite file and an in-process redis.
func SetupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := repository.OpenSQLRepo(context.Background(), "sqlite", filepath.Join(t.TempDir(), "auctions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	highest := cache.NewHighestBidCache(cache.NewRedisStoreFromClient(client, "it"), 200*time.Millisecond)
	t.Cleanup(func() { _ = highest.Close() })

	clock := &testClock{now: time.Now().UTC()}
	hub := notify.NewHub()
	sched := scheduler.NewExpiryScheduler(scheduler.Config{SweepInterval: time.Hour})

	svc := bidding.NewAuctionService(repo, highest,
		bidding.WithClock(clock.Now),
		bidding.WithBroadcaster(hub),
		bidding.WithScheduler(sched),
	)
	sched.Start(svc)
	t.Cleanup(sched.Stop)

	router := server.SetupRouter(server.Config{
		Service: svc,
		Events:  hub,
		Status: func() map[string]any {
			return map[string]any{
				"ledger":      repo.Driver(),
				"cache":       highest.Mode(),
				"cache_state": highest.State(context.Background()),
			}
		},
	})

	return &testEnv{
		Router:  router,
		Service: svc,
		Repo:    repo,
		Cache:   highest,
		Redis:   mr,
		Hub:     hub,
		Sched:   sched,
		Clock:   clock,
	}
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}

	return resp, w
}

// createAuction posts a new auction and returns its ID
func createAuction(t *testing.T, env *testEnv, startingPrice, increment string, minutes int) string {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, env.Router, "POST", "/api/auctions", map[string]any{
		"item_name":      "Vintage Lamp",
		"description":    "Brass desk lamp",
		"starting_price": startingPrice,
		"bid_increment":  increment,
		"duration":       minutes,
		"seller_name":    "Sam Seller",
		"seller_email":   "sam@example.com",
	})
	require.Equal(t, 201, w.Code, w.Body.String())
	id := resp["data"].(map[string]any)["auction_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func placeBid(t *testing.T, env *testEnv, auctionID, amount, bidder string) (map[string]any, int) {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, env.Router, "POST", "/api/auctions/"+auctionID+"/bids", map[string]any{
		"amount":       amount,
		"bidder_name":  bidder,
		"bidder_email": bidder + "@example.com",
	})
	return resp, w.Code
}
