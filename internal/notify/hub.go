package notify

import (
	"context"
	"sync"

	model "live-auction/internal/models"
)

// EventType names a message on an auction topic
type EventType string

const (
	EventNewBid       EventType = "newBid"
	EventAuctionEnded EventType = "auctionEnded"
	EventAuctionState EventType = "auctionState"
)

// Event is one message delivered to the observers of an auction
type Event struct {
	Type      EventType `json:"type"`
	AuctionID string    `json:"auction_id"`
	Data      any       `json:"data"`
}

// NewBidData is the payload of a newBid event
type NewBidData struct {
	AuctionID   string `json:"auction_id"`
	Amount      string `json:"amount"`
	BidderName  string `json:"bidder_name"`
	BidderEmail string `json:"bidder_email"`
}

// AuctionEndedData is the payload of an auctionEnded event.
// Winner is empty when the auction closed without bids.
type AuctionEndedData struct {
	AuctionID   string `json:"auction_id"`
	Winner      string `json:"winner,omitempty"`
	FinalAmount string `json:"final_amount"`
	ItemName    string `json:"item_name"`
}

// BidErrorData is the bidError reply sent only to the rejected bidder
type BidErrorData struct {
	Reason     string `json:"reason"`
	MinimumBid string `json:"minimum_bid,omitempty"`
}

// NewBidEvent builds the broadcast for an accepted bid
func NewBidEvent(bid model.Bid) Event {
	return Event{
		Type:      EventNewBid,
		AuctionID: bid.AuctionID,
		Data: NewBidData{
			AuctionID:   bid.AuctionID,
			Amount:      bid.Amount.StringFixed(model.MonetaryPrecision),
			BidderName:  bid.Bidder.Name,
			BidderEmail: bid.Bidder.Email,
		},
	}
}

// AuctionEndedEvent builds the broadcast for a closed auction
func AuctionEndedEvent(result model.AuctionResult) Event {
	data := AuctionEndedData{
		AuctionID:   result.AuctionID,
		FinalAmount: result.FinalAmount.StringFixed(model.MonetaryPrecision),
		ItemName:    result.ItemName,
	}
	if result.Winner != nil {
		data.Winner = result.Winner.Name
	}
	return Event{Type: EventAuctionEnded, AuctionID: result.AuctionID, Data: data}
}

// Topic is the pub/sub channel name for an auction
func Topic(auctionID string) string {
	return "auction_" + auctionID
}

// Hub fans out auction events to every subscriber of the auction's topic.
// Delivery is best-effort: a slow subscriber misses events rather than
// blocking the publisher, and nothing is replayed.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[int]chan Event
	next   int
	buffer int
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[int]chan Event),
		buffer: 16,
	}
}

// Subscribe registers an observer of one auction. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, auctionID string) <-chan Event {
	ch := make(chan Event, h.buffer)
	topic := Topic(auctionID)

	h.mu.Lock()
	id := h.next
	h.next++
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[int]chan Event)
		h.topics[topic] = subs
	}
	subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(subs, id)
		if cur, ok := h.topics[topic]; ok && len(cur) == 0 {
			delete(h.topics, topic)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Broadcast delivers evt to every current subscriber of the auction
func (h *Hub) Broadcast(auctionID string, evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.topics[Topic(auctionID)] {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers returns the number of observers of an auction
func (h *Hub) Subscribers(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[Topic(auctionID)])
}
