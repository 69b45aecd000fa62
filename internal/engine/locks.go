package engine

import "sync"

// cardLocks serializes rule processing per card. Events for different cards
// run concurrently; events for the same card never overlap.
type cardLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCardLocks() *cardLocks {
	return &cardLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *cardLocks) get(cardID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[cardID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[cardID] = lock
	}
	return lock
}
