package biddingerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrNoBids           = errors.New("no bids found for auction")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// business logic errors
var (
	ErrValidation    = errors.New("invalid auction details")
	ErrAuctionClosed = errors.New("auction has ended")
	ErrBidTooLow     = errors.New("bid amount too low")
)

// BidTooLowError carries the minimum amount the next bid must reach.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid must be at least %s", e.Minimum.StringFixed(2))
}

// Is makes errors.Is(err, ErrBidTooLow) match.
func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// MinimumBid extracts the minimum acceptable amount from a BidTooLowError
// anywhere in err's chain.
func MinimumBid(err error) (decimal.Decimal, bool) {
	var tooLow *BidTooLowError
	if errors.As(err, &tooLow) {
		return tooLow.Minimum, true
	}
	return decimal.Decimal{}, false
}
