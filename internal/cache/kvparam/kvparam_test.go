package kvparam

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsNamespacedByStrategyAndUser(t *testing.T) {
	t.Parallel()

	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "strat-1", "user-1")
	assert.Equal(t, "strat-1:user-1:max_position", s.key("max_position"))
}

func TestGetParamSurfacesConnectionErrorsRatherThanPanicking(t *testing.T) {
	t.Parallel()

	// Addr is unreachable by construction (port 0 never accepts); GetParam
	// must return an error, not redis.Nil's "unset" case and not a panic.
	s := New(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:0",
		DialTimeout: 50 * time.Millisecond,
	}), "strat-1", "user-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, ok, err := s.GetParam(ctx, "max_position")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestCloseWithoutConnectionSucceeds(t *testing.T) {
	t.Parallel()

	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "strat-1", "user-1")
	require.NoError(t, s.Close())
}
