package dispatcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// fairLimiter serves rate limiter waiters in arrival order. rate.Limiter
// alone makes no ordering promise between concurrent waiters.
type fairLimiter struct {
	lim *rate.Limiter

	mu    sync.Mutex
	busy  bool
	queue []chan struct{}
}

func newFairLimiter(requests int, interval time.Duration, burst int) *fairLimiter {
	if requests <= 0 || interval <= 0 {
		return &fairLimiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst <= 0 {
		burst = 1
	}
	every := interval / time.Duration(requests)
	return &fairLimiter{lim: rate.NewLimiter(rate.Every(every), burst)}
}

// Wait blocks until this caller's turn comes and a token is available.
func (f *fairLimiter) Wait(ctx context.Context) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.release()
	return f.lim.Wait(ctx)
}

// Waiting returns the number of callers queued behind the current one.
func (f *fairLimiter) Waiting() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *fairLimiter) acquire(ctx context.Context) error {
	f.mu.Lock()
	if !f.busy {
		f.busy = true
		f.mu.Unlock()
		return nil
	}
	turn := make(chan struct{})
	f.queue = append(f.queue, turn)
	f.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		removed := false
		for i, ch := range f.queue {
			if ch == turn {
				f.queue = append(f.queue[:i], f.queue[i+1:]...)
				removed = true
				break
			}
		}
		f.mu.Unlock()
		if !removed {
			// The turn was handed over concurrently; pass it on.
			f.release()
		}
		return ctx.Err()
	}
}

func (f *fairLimiter) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		close(next)
		return
	}
	f.busy = false
}
