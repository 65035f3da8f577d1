package ratelimit

import "context"

// Pacer spaces out individual sends to a steady rate with a small burst
// allowance.
type Pacer struct {
	bucket *TokenBucket
}

// NewPacer returns a pacer allowing perSecond events per second and bursts of
// up to burst events. A non-positive perSecond disables pacing.
func NewPacer(clock Clock, perSecond, burst int64) *Pacer {
	if perSecond <= 0 {
		return &Pacer{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{bucket: NewTokenBucket(clock, burst, perSecond)}
}

// Wait blocks until the next event may proceed.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.bucket == nil {
		return ctx.Err()
	}
	return p.bucket.Wait(ctx, 1)
}
