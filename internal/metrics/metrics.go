package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bidding metrics
var (
	BidsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_accepted_total",
		Help: "Bids accepted by the auction state machine.",
	})

	BidsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Bids rejected by the auction state machine.",
		},
		[]string{"reason"},
	)

	AuctionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_closures_total",
			Help: "Auctions transitioned from active to ended.",
		},
		[]string{"trigger"},
	)

	ExpiryFirings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_expiry_firings_total",
			Help: "Expiry scheduler firings.",
		},
		[]string{"source"},
	)

	CacheFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_cache_fallbacks_total",
			Help: "Highest-bid cache operations served by the local fallback after an external store failure.",
		},
		[]string{"operation"},
	)

	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_notification_failures_total",
		Help: "Outbound winner/seller notifications that failed.",
	})
)

// HTTP metrics
var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			BidsAccepted,
			BidsRejected,
			AuctionsClosed,
			ExpiryFirings,
			CacheFallbacks,
			NotificationFailures,
			httpRequestDuration,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request latency by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
