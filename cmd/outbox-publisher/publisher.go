package main

import (
	"context"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

const (
	maxBackoff   = 10 * time.Second
	jitterWindow = 250 * time.Millisecond
)

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{p}
}

type gcpPublisher struct{ p *gcppubsub.Publisher }

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if res := g.p.Publish(ctx, msg); res != nil {
		return res
	}
	return nil
}

// retryDelay doubles after each failed batch up to maxBackoff. Every wait gets
// up to jitterWindow added so replicas do not poll in lockstep.
type retryDelay struct {
	base    time.Duration
	current time.Duration
}

func newRetryDelay(base time.Duration) *retryDelay {
	return &retryDelay{base: base, current: base}
}

func (r *retryDelay) fail() time.Duration {
	r.current = min(r.current*2, maxBackoff)
	return jittered(r.current)
}

func (r *retryDelay) idle() time.Duration { return jittered(r.base) }

func (r *retryDelay) reset() { r.current = r.base }

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
