package checkout

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/angelmondragon/marketplace-orders/pkg/config"
)

const (
	orderNumberSpace = 100000
	sequenceName     = "orders:seq"
)

// NumberGenerator produces human-facing order numbers of the form ORD-YYYYMMDD-NNNNN.
type NumberGenerator interface {
	Next(ctx context.Context, now time.Time) (string, error)
}

func formatOrderNumber(now time.Time, n int64) string {
	return fmt.Sprintf("ORD-%s-%05d", now.UTC().Format("20060102"), n%orderNumberSpace)
}

// RandomNumbers draws a random 5-digit suffix. Collisions are caught by the unique index
// and retried by the caller.
type RandomNumbers struct {
	intN func(n int64) int64
}

func NewRandomNumbers() *RandomNumbers {
	return &RandomNumbers{intN: rand.Int64N}
}

func (g *RandomNumbers) Next(_ context.Context, now time.Time) (string, error) {
	return formatOrderNumber(now, g.intN(orderNumberSpace)), nil
}

type dailyCounter interface {
	NextDailySequence(ctx context.Context, name string, now time.Time) (int64, error)
}

// SequenceNumbers takes the suffix from a per-day Redis counter.
type SequenceNumbers struct {
	counter dailyCounter
}

func NewSequenceNumbers(counter dailyCounter) (*SequenceNumbers, error) {
	if counter == nil {
		return nil, errors.New("daily counter required")
	}
	return &SequenceNumbers{counter: counter}, nil
}

func (g *SequenceNumbers) Next(ctx context.Context, now time.Time) (string, error) {
	n, err := g.counter.NextDailySequence(ctx, sequenceName, now)
	if err != nil {
		return "", fmt.Errorf("next order sequence: %w", err)
	}
	return formatOrderNumber(now, n), nil
}

// NewNumberGenerator picks the strategy configured for checkout.
func NewNumberGenerator(cfg config.CheckoutConfig, counter dailyCounter) (NumberGenerator, error) {
	if cfg.UsesSequence() {
		return NewSequenceNumbers(counter)
	}
	return NewRandomNumbers(), nil
}
