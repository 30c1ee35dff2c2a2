package bidding

import "sync"

// auctionLocks serializes operations per auction. Entries are reference
// counted and removed when no goroutine holds or waits for them.
type auctionLocks struct {
	mu    sync.Mutex
	locks map[string]*auctionLock
}

type auctionLock struct {
	mu   sync.Mutex
	refs int
}

func newAuctionLocks() *auctionLocks {
	return &auctionLocks{locks: make(map[string]*auctionLock)}
}

// lock blocks until the auction's lock is held and returns its release func.
func (l *auctionLocks) lock(auctionID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[auctionID]
	if !ok {
		entry = &auctionLock{}
		l.locks[auctionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, auctionID)
		}
		l.mu.Unlock()
	}
}

func (l *auctionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
