package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/internal/notify"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// decimalEq matches a decimal.Decimal by value regardless of its exponent.
type decimalEq struct{ want decimal.Decimal }

func (m decimalEq) Matches(x interface{}) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalEq) String() string { return "is decimal " + m.want.String() }

func amountOf(s string) gomock.Matcher {
	return decimalEq{want: decimal.RequireFromString(s)}
}

func newTestRouter(t *testing.T) (*gin.Engine, *MockAuctionServiceInterface, *notify.Hub) {
	ctrl := gomock.NewController(t)
	mockService := NewMockAuctionServiceInterface(ctrl)
	hub := notify.NewHub()
	h := NewAuctionHandler(mockService, hub)

	router := gin.New()
	api := router.Group("/api/auctions")
	api.POST("", h.CreateAuctionHandler)
	api.GET("/active", h.ListActiveAuctionsHandler)
	api.GET("/:auction_id", h.GetAuctionHandler)
	api.GET("/:auction_id/bids", h.GetBidsHandler)
	api.POST("/:auction_id/bids", h.PlaceBidHandler)
	api.POST("/:auction_id/end", h.EndAuctionHandler)
	api.GET("/:auction_id/events", h.StreamEventsHandler)
	return router, mockService, hub
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func sampleAuction(now time.Time) model.Auction {
	return model.Auction{
		AuctionID:       "a1",
		ItemName:        "Vintage Lamp",
		Description:     "Brass",
		StartingPrice:   decimal.RequireFromString("10.00"),
		BidIncrement:    decimal.RequireFromString("1.00"),
		DurationMinutes: 5,
		Seller:          model.Party{Name: "Sam", Email: "sam@example.com"},
		StartTime:       now,
		Status:          model.StatusActive,
	}
}

func sampleView(now time.Time) model.AuctionView {
	bidder := model.Party{Name: "Alice", Email: "alice@example.com"}
	return model.AuctionView{
		Auction:           sampleAuction(now),
		CurrentHighestBid: decimal.RequireFromString("11"),
		HighestBidder:     &bidder,
		MinimumBid:        decimal.RequireFromString("12"),
		TimeRemaining:     90 * time.Second,
	}
}

// Test CreateAuctionHandler
func TestCreateAuctionHandler(t *testing.T) {
	now := time.Now().UTC()
	valid := `{"item_name":"Vintage Lamp","description":"Brass","starting_price":"10.00","bid_increment":1,"duration":5,"seller_name":"Sam","seller_email":"sam@example.com"}`

	tests := []struct {
		name           string
		body           string
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
		validateData   func(t *testing.T, data map[string]any)
	}{
		{
			name: "success",
			body: valid,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).
					DoAndReturn(func(ctx context.Context, in model.NewAuction) (model.Auction, error) {
						require.Equal(t, "Vintage Lamp", in.ItemName)
						require.True(t, in.StartingPrice.Equal(decimal.NewFromInt(10)))
						require.True(t, in.BidIncrement.Equal(decimal.NewFromInt(1)))
						require.Equal(t, 5, in.DurationMinutes)
						require.Equal(t, "sam@example.com", in.Seller.Email)
						return sampleAuction(now), nil
					})
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "auction created successfully, ID: a1",
			validateData: func(t *testing.T, data map[string]any) {
				require.Equal(t, "a1", data["auction_id"])
				require.Equal(t, "10.00", data["starting_price"])
				require.Equal(t, "10.00", data["current_highest_bid"])
				require.Equal(t, "11.00", data["minimum_bid"])
				require.Equal(t, "active", data["status"])
			},
		},
		{
			name:           "invalid_json",
			body:           `{invalid json}`,
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "missing_seller_email",
			body:           `{"item_name":"Lamp","starting_price":10,"bid_increment":1,"duration":5,"seller_name":"Sam"}`,
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "zero_duration",
			body:           `{"item_name":"Lamp","starting_price":10,"bid_increment":1,"duration":0,"seller_name":"Sam","seller_email":"sam@example.com"}`,
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name: "service_validation_error",
			body: valid,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).
					Return(model.Auction{}, fmt.Errorf("service: %w - non-positive starting price", biddingerrors.ErrValidation))
			},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid auction details",
		},
		{
			name: "store_unavailable",
			body: valid,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).
					Return(model.Auction{}, biddingerrors.ErrStoreUnavailable)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedMsg:    "store unavailable",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			router, mockService, _ := newTestRouter(t)
			tc.mockSetup(mockService)

			status, resp := doJSON(t, router, http.MethodPost, "/api/auctions", tc.body)
			require.Equal(t, tc.expectedStatus, status)
			require.Contains(t, resp["message"], tc.expectedMsg)

			if tc.validateData != nil {
				tc.validateData(t, resp["data"].(map[string]any))
			}
		})
	}
}

// Test PlaceBidHandler
func TestPlaceBidHandler(t *testing.T) {
	now := time.Now().UTC()
	alice := model.Party{Name: "Alice", Email: "alice@example.com"}

	tests := []struct {
		name           string
		auctionID      string
		body           string
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
		validate       func(t *testing.T, resp map[string]any)
	}{
		{
			name:      "accepted",
			auctionID: "a1",
			body:      `{"amount":"11.00","bidder_name":"Alice","bidder_email":"alice@example.com"}`,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().SubmitBid(gomock.Any(), "a1", amountOf("11"), alice).
					Return(model.AcceptedBid{
						Bid: model.Bid{
							BidID: "01HX", AuctionID: "a1", Amount: decimal.RequireFromString("11"),
							Bidder: alice, BidTime: now,
						},
						MinimumNextBid: decimal.RequireFromString("12"),
					}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid placed successfully",
			validate: func(t *testing.T, resp map[string]any) {
				data := resp["data"].(map[string]any)
				require.Equal(t, "01HX", data["bid_id"])
				require.Equal(t, "11.00", data["amount"])
				require.Equal(t, "12.00", data["minimum_next_bid"])
				require.Equal(t, "Alice", data["bidder_name"])
			},
		},
		{
			name:      "numeric_amount",
			auctionID: "a1",
			body:      `{"amount":25.5,"bidder_name":"Alice","bidder_email":"alice@example.com"}`,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().SubmitBid(gomock.Any(), "a1", amountOf("25.50"), alice).
					Return(model.AcceptedBid{
						Bid:            model.Bid{BidID: "01HY", AuctionID: "a1", Amount: decimal.RequireFromString("25.5"), Bidder: alice, BidTime: now},
						MinimumNextBid: decimal.RequireFromString("26.5"),
					}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid placed successfully",
		},
		{
			name:           "invalid_json",
			auctionID:      "a1",
			body:           `{"amount":`,
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "missing_bidder_name",
			auctionID:      "a1",
			body:           `{"amount":"11","bidder_email":"alice@example.com"}`,
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:      "too_low_reports_minimum",
			auctionID: "a1",
			body:      `{"amount":"10.50","bidder_name":"Alice","bidder_email":"alice@example.com"}`,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().SubmitBid(gomock.Any(), "a1", amountOf("10.5"), alice).
					Return(model.AcceptedBid{}, fmt.Errorf("service: %w", &biddingerrors.BidTooLowError{Minimum: decimal.RequireFromString("11")}))
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "bid amount too low",
			validate: func(t *testing.T, resp map[string]any) {
				details := resp["details"].(map[string]any)
				require.Equal(t, "11.00", details["minimum_bid"])
				require.Contains(t, resp["error"], "bid must be at least 11.00")
			},
		},
		{
			name:      "auction_closed",
			auctionID: "a1",
			body:      `{"amount":"50","bidder_name":"Alice","bidder_email":"alice@example.com"}`,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().SubmitBid(gomock.Any(), "a1", amountOf("50"), alice).
					Return(model.AcceptedBid{}, biddingerrors.ErrAuctionClosed)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "auction has ended",
			validate: func(t *testing.T, resp map[string]any) {
				details := resp["details"].(map[string]any)
				require.Equal(t, "auction has ended", details["reason"])
				require.NotContains(t, details, "minimum_bid")
			},
		},
		{
			name:      "unknown_auction",
			auctionID: "zzz",
			body:      `{"amount":"50","bidder_name":"Alice","bidder_email":"alice@example.com"}`,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().SubmitBid(gomock.Any(), "zzz", amountOf("50"), alice).
					Return(model.AcceptedBid{}, biddingerrors.ErrAuctionNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "auction not found",
		},
		{
			name:      "service_generic_error",
			auctionID: "a1",
			body:      `{"amount":"50","bidder_name":"Alice","bidder_email":"alice@example.com"}`,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().SubmitBid(gomock.Any(), "a1", amountOf("50"), alice).
					Return(model.AcceptedBid{}, errors.New("boom"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			router, mockService, _ := newTestRouter(t)
			tc.mockSetup(mockService)

			status, resp := doJSON(t, router, http.MethodPost, "/api/auctions/"+tc.auctionID+"/bids", tc.body)
			require.Equal(t, tc.expectedStatus, status)
			require.Contains(t, resp["message"], tc.expectedMsg)
			if tc.validate != nil {
				tc.validate(t, resp)
			}
		})
	}
}

// Test GetAuctionHandler and ListActiveAuctionsHandler
func TestAuctionReadHandlers(t *testing.T) {
	now := time.Now().UTC()

	t.Run("get_auction", func(t *testing.T) {
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().GetAuction(gomock.Any(), "a1").Return(sampleView(now), nil)

		status, resp := doJSON(t, router, http.MethodGet, "/api/auctions/a1", "")
		require.Equal(t, http.StatusOK, status)
		data := resp["data"].(map[string]any)
		require.Equal(t, "11.00", data["current_highest_bid"])
		require.Equal(t, "Alice", data["highest_bidder"])
		require.Equal(t, "12.00", data["minimum_bid"])
		require.Equal(t, float64(90000), data["time_remaining_ms"])
		require.NotContains(t, data, "seller_email")
	})

	t.Run("get_unknown_auction", func(t *testing.T) {
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().GetAuction(gomock.Any(), "nope").Return(model.AuctionView{}, biddingerrors.ErrAuctionNotFound)

		status, resp := doJSON(t, router, http.MethodGet, "/api/auctions/nope", "")
		require.Equal(t, http.StatusNotFound, status)
		require.Equal(t, "auction not found", resp["message"])
	})

	t.Run("list_active", func(t *testing.T) {
		router, mockService, _ := newTestRouter(t)
		second := sampleView(now)
		second.AuctionID = "a2"
		second.HighestBidder = nil
		mockService.EXPECT().ListActiveAuctions(gomock.Any()).Return([]model.AuctionView{sampleView(now), second}, nil)

		status, resp := doJSON(t, router, http.MethodGet, "/api/auctions/active", "")
		require.Equal(t, http.StatusOK, status)
		data := resp["data"].([]any)
		require.Len(t, data, 2)
		require.NotContains(t, data[1].(map[string]any), "highest_bidder")
	})

	t.Run("list_active_empty", func(t *testing.T) {
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().ListActiveAuctions(gomock.Any()).Return(nil, nil)

		status, resp := doJSON(t, router, http.MethodGet, "/api/auctions/active", "")
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, []any{}, resp["data"])
	})
}

// Test GetBidsHandler
func TestGetBidsHandler(t *testing.T) {
	now := time.Now().UTC()
	bids := []model.Bid{
		{BidID: "b2", AuctionID: "a1", Amount: decimal.RequireFromString("12"), Bidder: model.Party{Name: "Bob"}, BidTime: now},
		{BidID: "b1", AuctionID: "a1", Amount: decimal.RequireFromString("11"), Bidder: model.Party{Name: "Alice"}, BidTime: now.Add(-time.Second)},
	}

	tests := []struct {
		name           string
		query          string
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedCount  int
	}{
		{
			name:  "default_limit",
			query: "",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().ListBids(gomock.Any(), "a1", 0).Return(bids, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:  "explicit_limit",
			query: "?limit=1",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().ListBids(gomock.Any(), "a1", 1).Return(bids[:1], nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  1,
		},
		{
			name:           "bad_limit",
			query:          "?limit=abc",
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:  "unknown_auction",
			query: "",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().ListBids(gomock.Any(), "a1", 0).Return(nil, biddingerrors.ErrAuctionNotFound)
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			router, mockService, _ := newTestRouter(t)
			tc.mockSetup(mockService)

			status, resp := doJSON(t, router, http.MethodGet, "/api/auctions/a1/bids"+tc.query, "")
			require.Equal(t, tc.expectedStatus, status)
			if status == http.StatusOK {
				data := resp["data"].([]any)
				require.Len(t, data, tc.expectedCount)
				require.Equal(t, "12.00", data[0].(map[string]any)["amount"])
			}
		})
	}
}

// Test EndAuctionHandler
func TestEndAuctionHandler(t *testing.T) {
	bob := model.Party{Name: "Bob", Email: "bob@example.com"}

	t.Run("with_winner", func(t *testing.T) {
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().CloseAuction(gomock.Any(), "a1").Return(model.AuctionResult{
			AuctionID: "a1", ItemName: "Lamp", Winner: &bob, FinalAmount: decimal.RequireFromString("15"),
		}, nil)

		status, resp := doJSON(t, router, http.MethodPost, "/api/auctions/a1/end", "")
		require.Equal(t, http.StatusOK, status)
		data := resp["data"].(map[string]any)
		require.Equal(t, "Bob", data["winner"])
		require.Equal(t, "15.00", data["final_amount"])
	})

	t.Run("no_bids", func(t *testing.T) {
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().CloseAuction(gomock.Any(), "a1").Return(model.AuctionResult{
			AuctionID: "a1", ItemName: "Lamp", FinalAmount: decimal.RequireFromString("10"),
		}, nil)

		status, resp := doJSON(t, router, http.MethodPost, "/api/auctions/a1/end", "")
		require.Equal(t, http.StatusOK, status)
		data := resp["data"].(map[string]any)
		require.NotContains(t, data, "winner")
		require.Equal(t, "10.00", data["final_amount"])
	})

	t.Run("store_unavailable", func(t *testing.T) {
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().CloseAuction(gomock.Any(), "a1").Return(model.AuctionResult{}, biddingerrors.ErrStoreUnavailable)

		status, _ := doJSON(t, router, http.MethodPost, "/api/auctions/a1/end", "")
		require.Equal(t, http.StatusServiceUnavailable, status)
	})
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var evt sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if evt.name != "" {
				return evt
			}
		case strings.HasPrefix(line, "event:"):
			evt.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			evt.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

// Test StreamEventsHandler. Streaming needs a real connection, so this runs
// against httptest.NewServer rather than a recorder.
func TestStreamEventsHandler(t *testing.T) {
	now := time.Now().UTC()
	router, mockService, hub := newTestRouter(t)
	mockService.EXPECT().GetAuction(gomock.Any(), "a1").Return(sampleView(now), nil)

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/auctions/a1/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	state := readEvent(t, r)
	require.Equal(t, "auctionState", state.name)
	require.Contains(t, state.data, `"current_highest_bid":"11.00"`)
	require.Equal(t, 1, hub.Subscribers("a1"))

	carol := model.Party{Name: "Carol", Email: "carol@example.com"}
	hub.Broadcast("a1", notify.NewBidEvent(model.Bid{AuctionID: "a1", Amount: decimal.RequireFromString("13"), Bidder: carol}))
	hub.Broadcast("a1", notify.AuctionEndedEvent(model.AuctionResult{
		AuctionID: "a1", ItemName: "Vintage Lamp", Winner: &carol, FinalAmount: decimal.RequireFromString("13"),
	}))

	bid := readEvent(t, r)
	require.Equal(t, "newBid", bid.name)
	require.Contains(t, bid.data, `"amount":"13.00"`)

	ended := readEvent(t, r)
	require.Equal(t, "auctionEnded", ended.name)
	require.Contains(t, ended.data, `"winner":"Carol"`)

	require.Eventually(t, func() bool { return hub.Subscribers("a1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamEventsHandler_UnknownAuction(t *testing.T) {
	router, mockService, hub := newTestRouter(t)
	mockService.EXPECT().GetAuction(gomock.Any(), "nope").Return(model.AuctionView{}, biddingerrors.ErrAuctionNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/auctions/nope/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Eventually(t, func() bool { return hub.Subscribers("nope") == 0 }, time.Second, 10*time.Millisecond)
}

func TestStatusHandler(t *testing.T) {
	router := gin.New()
	router.GET("/api/status", StatusHandler(func() map[string]any {
		return map[string]any{"cache": "memory", "ledger": "sqlite"}
	}))

	status, resp := doJSON(t, router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, status)
	data := resp["data"].(map[string]any)
	require.Equal(t, "memory", data["cache"])
	require.NotEmpty(t, data["time"])
}
