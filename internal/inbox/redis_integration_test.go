//go:build integration

package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/testinfra"
)

func TestRedisStore_AgainstRedis(t *testing.T) {
	ctx := context.Background()
	s := NewRedisStore(testinfra.Redis(t), time.Second)

	require.NoError(t, s.MarkProcessed(ctx, "inventory.queue", "msg-1"))

	seen, err := s.Seen(ctx, "inventory.queue", "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := s.Size(ctx, "inventory.queue")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Eventually(t, func() bool {
		seen, err := s.Seen(ctx, "inventory.queue", "msg-1")
		return err == nil && !seen
	}, 5*time.Second, 100*time.Millisecond)
}
