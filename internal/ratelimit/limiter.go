package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	// DefaultMaxRequests is the request budget applied to the OpenRouter client.
	DefaultMaxRequests = 60
	// DefaultWindow is the sliding window length paired with DefaultMaxRequests.
	DefaultWindow = time.Minute
	// DefaultBuffer is added to every computed wait so the oldest entry has left the window on wake-up.
	DefaultBuffer = 100 * time.Millisecond
)

var (
	ErrInvalidMaxRequests = errors.New("ratelimit: maxRequests must be greater than 0")
	ErrInvalidWindow      = errors.New("ratelimit: window must be greater than 0")
)

// Config describes a sliding-window limiter.
type Config struct {
	MaxRequests int
	Window      time.Duration
	Buffer      time.Duration
	Clock       func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Limiter delays callers until a slot is free under a sliding window of MaxRequests per Window.
// It never rejects a caller; it only makes it wait.
type Limiter struct {
	mu          sync.Mutex
	requests    []time.Time
	maxRequests int
	window      time.Duration
	buffer      time.Duration
	clock       func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// New validates the configuration and returns a Limiter.
func New(cfg Config) (*Limiter, error) {
	if cfg.MaxRequests <= 0 {
		return nil, ErrInvalidMaxRequests
	}
	if cfg.Window <= 0 {
		return nil, ErrInvalidWindow
	}
	buffer := cfg.Buffer
	if buffer < 0 {
		buffer = 0
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Limiter{
		requests:    make([]time.Time, 0, cfg.MaxRequests),
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		buffer:      buffer,
		clock:       clock,
		sleep:       sleep,
	}, nil
}

// NewDefault returns the 60 requests per minute limiter used by the OpenRouter client.
func NewDefault() *Limiter {
	limiter, _ := New(Config{
		MaxRequests: DefaultMaxRequests,
		Window:      DefaultWindow,
		Buffer:      DefaultBuffer,
	})
	return limiter
}

// Acquire blocks until a slot is available and records it.
// The only error it returns is the context error when ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, acquired := l.tryAcquire()
		if acquired {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	l.prune(now)
	if len(l.requests) < l.maxRequests {
		l.requests = append(l.requests, now)
		return 0, true
	}

	oldest := l.requests[0]
	wait := l.window - now.Sub(oldest) + l.buffer
	if wait <= 0 {
		wait = l.buffer
	}
	return wait, false
}

// prune drops timestamps that fell out of the window. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	kept := 0
	for _, requestTime := range l.requests {
		if now.Sub(requestTime) < l.window {
			l.requests[kept] = requestTime
			kept++
		}
	}
	l.requests = l.requests[:kept]
}

// Reset forgets every tracked request.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.requests = l.requests[:0]
	l.mu.Unlock()
}

// Remaining reports how many requests can be made right now without waiting.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	recent := 0
	for _, requestTime := range l.requests {
		if now.Sub(requestTime) < l.window {
			recent++
		}
	}
	remaining := l.maxRequests - recent
	if remaining < 0 {
		return 0
	}
	return remaining
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
