package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/internal/notify"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrValidation):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrAuctionClosed):
		return http.StatusConflict, "auction has ended"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store unavailable, try again"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// WriteServiceError renders a service error
func WriteServiceError(c *gin.Context, err error) {
	status, message := MapErrorToHTTP(err)
	utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
}

// WriteBidError renders a rejected bid. The bidError payload goes to the
// bidder only and carries the minimum acceptable bid when the error has one.
func WriteBidError(c *gin.Context, err error) {
	status, message := MapErrorToHTTP(err)
	details := notify.BidErrorData{Reason: message}
	if minimum, ok := biddingerrors.MinimumBid(err); ok {
		details.MinimumBid = minimum.StringFixed(model.MonetaryPrecision)
	}
	utils.JSONErrorWithDetails(c, status, fmt.Errorf("%s: %w", message, err), message, details)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
