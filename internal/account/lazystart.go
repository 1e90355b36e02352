package account

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// lazyStart runs a start function at most once successfully. Concurrent
// callers share the in-flight attempt and its error; a failed attempt is
// forgotten so the next caller tries again.
type lazyStart struct {
	group singleflight.Group

	mu   sync.Mutex
	done bool
}

func (l *lazyStart) Do(ctx context.Context, fn func(context.Context) error) error {
	if l.Started() {
		return nil
	}
	ch := l.group.DoChan("start", func() (any, error) {
		// A caller may have lost the race with a call that just succeeded.
		if l.Started() {
			return nil, nil
		}
		if err := fn(ctx); err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.done = true
		l.mu.Unlock()
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lazyStart) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
