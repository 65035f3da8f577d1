package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

const nanoTokensPerToken int64 = int64(time.Second) // 1e9

const maxInt64 = int64(^uint64(0) >> 1)

// ErrUnsatisfiable is returned by Wait when the request can never be granted:
// it exceeds the bucket capacity or the bucket does not refill.
var ErrUnsatisfiable = errors.New("ratelimit: request can never be satisfied")

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket is a deterministic token bucket that refills at an integer
// rate (tokens/sec) using a provided Clock.
//
// The implementation uses fixed-point "nano-tokens" to avoid float rounding.
// One token is represented as 1e9 nano-tokens, so a rate of X tokens/sec adds
// X nano-tokens per nanosecond elapsed.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacityTokens int64 // tokens
	fillRate       int64 // tokens/sec

	availableNanoTokens int64
	last                time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}

	return &TokenBucket{
		clock:               clock,
		capacityTokens:      capacityTokens,
		fillRate:            fillRate,
		availableNanoTokens: mulTokenToNano(capacityTokens),
		last:                clock.Now(),
	}
}

// Allow consumes the provided number of tokens if available.
//
// tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	ok, _ := b.take(tokens)
	return ok
}

// take consumes tokens when available. Otherwise it reports how long until
// they will be, or a negative duration if never.
func (b *TokenBucket) take(tokens int64) (bool, time.Duration) {
	if tokens <= 0 {
		return true, 0
	}
	cost := mulTokenToNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.availableNanoTokens >= cost {
		b.availableNanoTokens -= cost
		return true, 0
	}
	if tokens > b.capacityTokens || b.fillRate <= 0 {
		return false, -1
	}

	// fillRate tokens/sec is fillRate nano-tokens/ns.
	deficit := cost - b.availableNanoTokens
	wait := (deficit + b.fillRate - 1) / b.fillRate
	return false, time.Duration(wait)
}

// Wait blocks until tokens can be consumed or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context, tokens int64) error {
	for {
		ok, wait := b.take(tokens)
		if ok {
			return nil
		}
		if wait < 0 {
			return errors.Wrapf(ErrUnsatisfiable, "%d tokens (capacity %d, rate %d/s)", tokens, b.capacityTokens, b.fillRate)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Avoid refilling and move the reference point.
		b.last = now
		return
	}

	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacityTokens <= 0 {
		return
	}

	capacityNano := mulTokenToNano(b.capacityTokens)
	if b.availableNanoTokens >= capacityNano {
		b.availableNanoTokens = capacityNano
		return
	}

	need := capacityNano - b.availableNanoTokens
	elapsedNanos := elapsed.Nanoseconds()

	// Clamp before multiplying so elapsedNanos*fillRate cannot overflow.
	maxElapsedToFill := need / b.fillRate
	if maxElapsedToFill <= 0 || elapsedNanos >= maxElapsedToFill {
		b.availableNanoTokens = capacityNano
		return
	}

	b.availableNanoTokens += elapsedNanos * b.fillRate
	if b.availableNanoTokens > capacityNano {
		b.availableNanoTokens = capacityNano
	}
}

func mulTokenToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
