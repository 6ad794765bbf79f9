package grpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type deviceLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per device. Buckets idle for twice the
// cleanup interval are dropped.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	cleanup time.Duration

	mu       sync.Mutex
	limiters map[string]*deviceLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows perSecond calls per device with the given burst and
// starts the background cleanup.
func NewRateLimiter(perSecond float64, burst int, cleanup time.Duration) *RateLimiter {
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}
	rl := &RateLimiter{
		rate:     rate.Limit(perSecond),
		burst:    burst,
		cleanup:  cleanup,
		limiters: make(map[string]*deviceLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow consumes one token of deviceID's bucket.
func (rl *RateLimiter) Allow(deviceID string) bool {
	return rl.get(deviceID).Allow()
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Len returns the number of tracked devices.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) get(deviceID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dl, ok := rl.limiters[deviceID]
	if !ok {
		dl = &deviceLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[deviceID] = dl
	}
	dl.lastAccess = time.Now()
	return dl.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	ttl := rl.cleanup * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, dl := range rl.limiters {
		if now.Sub(dl.lastAccess) > ttl {
			delete(rl.limiters, id)
		}
	}
}
