package notify

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles an inner Dispatcher. Send waits for a token and
// gives up when ctx is done.
type RateLimited struct {
	Next    Dispatcher
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond sends with the given burst. perSecond <= 0
// disables limiting.
func NewRateLimited(next Dispatcher, perSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Send(ctx context.Context, to, template string, data map[string]any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Next.Send(ctx, to, template, data)
}
