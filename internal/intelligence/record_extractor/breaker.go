package record_extractor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

const (
	breakerClosed int32 = iota
	breakerOpen
	breakerHalfOpen
)

var breakerStateNames = [...]string{"closed", "open", "half-open"}

// BreakerClient wraps an LLMClient and stops calling it after threshold
// consecutive transport failures.  While open, calls fail fast with
// ErrCodeLLMUnavailable; after cooldown one probe call is let through.
// Answers the model produced, even malformed ones, count as successes.
type BreakerClient struct {
	inner     LLMClient
	threshold int32
	cooldown  time.Duration
	now       func() time.Time
	logger    logging.Logger

	state    atomic.Int32
	fails    atomic.Int32
	openedAt atomic.Int64
	probes   atomic.Int32
}

// NewBreakerClient wraps inner.  A non-positive threshold returns inner
// unchanged.
func NewBreakerClient(inner LLMClient, threshold int, cooldown time.Duration, logger logging.Logger) LLMClient {
	if threshold <= 0 {
		return inner
	}
	return &BreakerClient{
		inner:     inner,
		threshold: int32(threshold),
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logging.OrNop(logger).Named("llm-breaker"),
	}
}

// Model implements LLMClient.
func (b *BreakerClient) Model() string { return b.inner.Model() }

// Complete implements LLMClient.
func (b *BreakerClient) Complete(ctx context.Context, req *LLMRequest) (string, error) {
	if !b.allow() {
		return "", errors.New(errors.ErrCodeLLMUnavailable, "extraction service circuit is open").
			WithDetail("retry after " + b.cooldown.String())
	}
	out, err := b.inner.Complete(ctx, req)
	switch {
	case err == nil || !tripsBreaker(err):
		b.success()
	case ctx.Err() == nil:
		b.failure()
	case b.state.Load() == breakerHalfOpen:
		// The caller gave up; let the next call probe instead.
		b.probes.Store(1)
	}
	return out, err
}

// State returns "closed", "open" or "half-open".
func (b *BreakerClient) State() string { return breakerStateNames[b.state.Load()] }

func (b *BreakerClient) allow() bool {
	switch b.state.Load() {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(time.Unix(0, b.openedAt.Load())) < b.cooldown {
			return false
		}
		if b.state.CompareAndSwap(breakerOpen, breakerHalfOpen) {
			b.probes.Store(1)
			b.transition(breakerOpen, breakerHalfOpen)
		}
		return b.probes.Add(-1) >= 0
	default:
		return b.probes.Add(-1) >= 0
	}
}

func (b *BreakerClient) success() {
	b.fails.Store(0)
	if b.state.CompareAndSwap(breakerHalfOpen, breakerClosed) {
		b.transition(breakerHalfOpen, breakerClosed)
	}
}

func (b *BreakerClient) failure() {
	n := b.fails.Add(1)
	switch b.state.Load() {
	case breakerClosed:
		if n >= b.threshold && b.state.CompareAndSwap(breakerClosed, breakerOpen) {
			b.openedAt.Store(b.now().UnixNano())
			b.transition(breakerClosed, breakerOpen)
		}
	case breakerHalfOpen:
		if b.state.CompareAndSwap(breakerHalfOpen, breakerOpen) {
			b.openedAt.Store(b.now().UnixNano())
			b.transition(breakerHalfOpen, breakerOpen)
		}
	}
}

func (b *BreakerClient) transition(from, to int32) {
	b.logger.Warn("llm circuit state change",
		logging.String("from", breakerStateNames[from]),
		logging.String("to", breakerStateNames[to]),
		logging.Int("consecutive_failures", int(b.fails.Load())))
}

// tripsBreaker reports whether err means the service itself is unhealthy.
func tripsBreaker(err error) bool {
	switch errors.GetCode(err) {
	case errors.ErrCodeLLMUnavailable, errors.ErrCodeExtractionTimeout, errors.ErrCodeLLMBadStatus:
		return true
	}
	return false
}

//Personal.AI order the ending
