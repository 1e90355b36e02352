package account

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// cell holds the latest snapshot. Set replaces it and wakes every waiter by
// closing the current notify channel.
type cell struct {
	v atomic.Pointer[domain.AccountSnapshot]

	mu     sync.Mutex
	notify chan struct{}
}

func newCell() *cell {
	return &cell{notify: make(chan struct{})}
}

func (c *cell) Get() (domain.AccountSnapshot, bool) {
	p := c.v.Load()
	if p == nil {
		return domain.AccountSnapshot{}, false
	}
	return *p, true
}

func (c *cell) Set(s domain.AccountSnapshot) {
	c.v.Store(&s)

	c.mu.Lock()
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

// Wait returns as soon as a value exists or ctx is done.
func (c *cell) Wait(ctx context.Context) (domain.AccountSnapshot, error) {
	for {
		c.mu.Lock()
		ch := c.notify
		c.mu.Unlock()

		if s, ok := c.Get(); ok {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return domain.AccountSnapshot{}, ctx.Err()
		}
	}
}
