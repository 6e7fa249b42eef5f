package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/gateway/cex-gateway/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownKeyBypassesLimiting(t *testing.T) {
	t.Parallel()

	l := New()
	err := l.Limit(context.Background(), "unconfigured", 1)
	require.NoError(t, err)
}

func TestLimitConsumesBurstThenBlocks(t *testing.T) {
	t.Parallel()

	l := New()
	l.Configure("book", 1000, 2, 50*time.Millisecond)

	require.NoError(t, l.Limit(context.Background(), "book", 1))
	require.NoError(t, l.Limit(context.Background(), "book", 1))

	// Burst exhausted; rate is high enough that a short wait succeeds.
	require.NoError(t, l.Limit(context.Background(), "book", 1))
}

func TestLimitTimesOut(t *testing.T) {
	t.Parallel()

	l := New()
	l.Configure("order", 0.001, 1, 20*time.Millisecond)

	require.NoError(t, l.Limit(context.Background(), "order", 1))

	err := l.Limit(context.Background(), "order", 1)
	var rlErr *errs.RateLimitedError
	assert.ErrorAs(t, err, &rlErr)
}

func TestLimitRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New()
	l.Configure("order", 0.001, 1, time.Hour)

	require.NoError(t, l.Limit(context.Background(), "order", 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Limit(ctx, "order", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncLimiterWraps(t *testing.T) {
	t.Parallel()

	l := New()
	l.Configure("book", 1000, 5, time.Second)
	s := NewSyncLimiter(l)

	assert.NoError(t, s.Limit("book", 1))
}
