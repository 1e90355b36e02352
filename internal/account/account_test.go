package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExchange struct {
	accountCalls   atomic.Int32
	listenKeyCalls atomic.Int32
	keepalives     atomic.Int32
	closed         atomic.Int32

	accountFn   func(call int32) (domain.AccountSnapshot, error)
	listenKeyFn func(call int32) (string, error)
	hangStart   bool
}

func (f *fakeExchange) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	n := f.accountCalls.Add(1)
	if f.accountFn != nil {
		return f.accountFn(n)
	}
	return domain.AccountSnapshot{TotalBalance: 100, AvailableBalance: 80, Source: domain.SnapshotFromQuery}, nil
}

func (f *fakeExchange) StartListenKey(ctx context.Context) (string, error) {
	n := f.listenKeyCalls.Add(1)
	if f.hangStart {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.listenKeyFn != nil {
		return f.listenKeyFn(n)
	}
	return "key", nil
}

func (f *fakeExchange) KeepaliveListenKey(ctx context.Context, listenKey string) error {
	f.keepalives.Add(1)
	return nil
}

func (f *fakeExchange) CloseListenKey(ctx context.Context, listenKey string) error {
	f.closed.Add(1)
	return nil
}

// fakeStream forwards snapshots sent on updates and blocks until ctx ends.
type fakeStream struct {
	updates chan domain.AccountSnapshot
	calls   atomic.Int32
}

func (f *fakeStream) Stream(ctx context.Context, key string, onUpdate func(domain.AccountSnapshot)) error {
	f.calls.Add(1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-f.updates:
			onUpdate(s)
		}
	}
}

func failSeed(call int32) (domain.AccountSnapshot, error) {
	if call == 1 {
		return domain.AccountSnapshot{}, errors.New("seed unavailable")
	}
	return domain.AccountSnapshot{TotalBalance: 7, AvailableBalance: 6, Source: domain.SnapshotFromQuery}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FirstPushWait = 50 * time.Millisecond
	return cfg
}

func TestBackoff(t *testing.T) {
	b := newBackoff(5*time.Second, 60*time.Second)
	var got []time.Duration
	for range 6 {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second,
		40 * time.Second, 60 * time.Second, 60 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 5*time.Second, b.Next())
}

func TestLazyStartRunsOnceForConcurrentCallers(t *testing.T) {
	var l lazyStart
	var runs atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = l.Do(context.Background(), func(context.Context) error {
				runs.Add(1)
				<-release
				return nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, l.Started())

	require.NoError(t, l.Do(context.Background(), func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	assert.Equal(t, int32(1), runs.Load())
}

func TestLazyStartSharesFailureThenRetries(t *testing.T) {
	var l lazyStart
	boom := errors.New("boom")
	release := make(chan struct{})
	var runs atomic.Int32

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = l.Do(context.Background(), func(context.Context) error {
				runs.Add(1)
				<-release
				return boom
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	assert.False(t, l.Started())

	err := l.Do(context.Background(), func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), runs.Load())
	assert.True(t, l.Started())
}

func TestCellWaitWakesOnSet(t *testing.T) {
	c := newCell()
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Set(domain.AccountSnapshot{TotalBalance: 1})
		c.Set(domain.AccountSnapshot{TotalBalance: 2})
	}()

	s, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Contains(t, []float64{1, 2}, s.TotalBalance)

	assert.Eventually(t, func() bool {
		got, _ := c.Get()
		return got.TotalBalance == 2
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newCell().Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadFallsBackToDirectQueryWithoutCaching(t *testing.T) {
	ex := &fakeExchange{accountFn: failSeed}
	st := &fakeStream{updates: make(chan domain.AccountSnapshot)}
	c := New(ex, st, testConfig(), quietLogger())
	defer c.Close(context.Background())

	start := time.Now()
	s, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 7.0, s.TotalBalance)
	assert.Equal(t, domain.SnapshotFromQuery, s.Source)

	_, cached := c.Latest()
	assert.False(t, cached, "fallback result must not populate the cache")
}

func TestReadBoundsSlowSessionStart(t *testing.T) {
	ex := &fakeExchange{hangStart: true}
	st := &fakeStream{updates: make(chan domain.AccountSnapshot)}
	c := New(ex, st, testConfig(), quietLogger())
	defer c.Close(context.Background())

	start := time.Now()
	s, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "the listen key request shares the first-push bound")
	assert.Equal(t, 100.0, s.TotalBalance)
	assert.Equal(t, domain.SnapshotFromQuery, s.Source)
	assert.False(t, c.start.Started())
}

func TestReadReturnsPushedSnapshotAndUpdatesReplace(t *testing.T) {
	ex := &fakeExchange{accountFn: failSeed}
	st := &fakeStream{updates: make(chan domain.AccountSnapshot)}

	var hooked atomic.Int32
	c := New(ex, st, DefaultConfig(), quietLogger(), WithOnUpdate(func(domain.AccountSnapshot) {
		hooked.Add(1)
	}))
	defer c.Close(context.Background())

	go func() {
		st.updates <- domain.AccountSnapshot{TotalBalance: 500, AvailableBalance: 450, Source: domain.SnapshotFromStream}
	}()

	s, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500.0, s.TotalBalance)
	assert.Equal(t, domain.SnapshotFromStream, s.Source)

	st.updates <- domain.AccountSnapshot{TotalBalance: 510, AvailableBalance: 300, Source: domain.SnapshotFromStream}
	assert.Eventually(t, func() bool {
		got, err := c.Read(context.Background())
		return err == nil && got.TotalBalance == 510 && got.AvailableBalance == 300
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), ex.accountCalls.Load(), "cached reads never hit the exchange")
	assert.Eventually(t, func() bool { return hooked.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestReadStartsOneSessionForConcurrentCallers(t *testing.T) {
	ex := &fakeExchange{}
	st := &fakeStream{updates: make(chan domain.AccountSnapshot)}
	c := New(ex, st, testConfig(), quietLogger())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Read(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ex.listenKeyCalls.Load())
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, int32(1), ex.closed.Load())
}

func TestReadRetriesStartAfterFailure(t *testing.T) {
	ex := &fakeExchange{
		listenKeyFn: func(call int32) (string, error) {
			if call == 1 {
				return "", errors.New("listen key refused")
			}
			return "key", nil
		},
	}
	st := &fakeStream{updates: make(chan domain.AccountSnapshot)}
	c := New(ex, st, testConfig(), quietLogger())
	defer c.Close(context.Background())

	s, err := c.Read(context.Background())
	require.NoError(t, err, "a failed start still answers via direct query")
	assert.Equal(t, 100.0, s.TotalBalance)
	assert.Equal(t, int32(0), st.calls.Load())

	_, err = c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.listenKeyCalls.Load())
	assert.Eventually(t, func() bool { return st.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

// scriptedStream returns the next scripted result on every call.
type scriptedStream struct {
	mu      sync.Mutex
	results []error
}

func (s *scriptedStream) Stream(ctx context.Context, key string, onUpdate func(domain.AccountSnapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	err := s.results[0]
	s.results = s.results[1:]
	return err
}

func TestSessionReconnectBackoff(t *testing.T) {
	expired := fmt.Errorf("stream: %w", domain.ErrSessionExpired)
	dropped := fmt.Errorf("stream: %w", domain.ErrWSDisconnect)

	cases := []struct {
		name    string
		results []error
		want    []time.Duration
	}{
		{
			name:    "consecutive failures double",
			results: []error{expired, dropped, dropped},
			want:    []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
		},
		{
			name:    "normal end resets to base after fixed pause",
			results: []error{dropped, dropped, nil, dropped},
			want:    []time.Duration{5 * time.Second, 10 * time.Second, time.Second, 5 * time.Second},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var slept []time.Duration
			ex := &fakeExchange{}
			s := &session{
				cfg:      DefaultConfig(),
				exchange: ex,
				stream:   &scriptedStream{results: tc.results},
				cell:     newCell(),
				logger:   quietLogger(),
				sleep: func(ctx context.Context, d time.Duration) bool {
					slept = append(slept, d)
					if len(slept) == len(tc.want) {
						cancel()
						return false
					}
					return true
				},
			}

			done := make(chan struct{})
			go func() {
				s.run(ctx, "first")
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("session did not stop")
			}

			assert.Equal(t, tc.want, slept)
			// Every reconnect requests a fresh token; the first key was given.
			assert.Equal(t, int32(len(tc.want)-1), ex.listenKeyCalls.Load())
			assert.Equal(t, int32(len(tc.want)), ex.accountCalls.Load(), "each session is seeded")
		})
	}
}

func TestSessionKeepalive(t *testing.T) {
	ex := &fakeExchange{}
	cfg := DefaultConfig()
	cfg.KeepaliveInterval = 10 * time.Millisecond
	s := &session{
		cfg:      cfg,
		exchange: ex,
		stream:   &fakeStream{updates: make(chan domain.AccountSnapshot)},
		cell:     newCell(),
		logger:   quietLogger(),
		sleep:    sleepCtx,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.run(ctx, "k")
		close(done)
	}()

	assert.Eventually(t, func() bool { return ex.keepalives.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	snap, ok := s.cell.Get()
	require.True(t, ok, "seed populated the cell")
	assert.Equal(t, 100.0, snap.TotalBalance)
}
