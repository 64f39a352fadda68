package submission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisLease(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	first, err := NewRedisLease(ctx, url, "test:lease", time.Minute, testLogger())
	require.NoError(t, err)

	defer first.Close()

	second, err := NewRedisLease(ctx, url, "test:lease", time.Minute, testLogger())
	require.NoError(t, err)

	defer second.Close()

	release, held, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	_, held, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	release()

	releaseSecond, held, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	// a stale release from the previous holder does not free the new lease
	release()

	_, held, err = first.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	releaseSecond()
}

func TestRedisLease_Expires(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	lease, err := NewRedisLease(ctx, url, "test:expiring", 200*time.Millisecond, testLogger())
	require.NoError(t, err)

	defer lease.Close()

	_, held, err := lease.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	assert.Eventually(t, func() bool {
		release, held, err := lease.Acquire(ctx)
		if err != nil || !held {
			return false
		}

		release()

		return true
	}, 3*time.Second, 50*time.Millisecond)
}

func TestNewRedisLease_BadURL(t *testing.T) {
	_, err := NewRedisLease(context.Background(), "not-a-url", "", time.Minute, testLogger())
	require.Error(t, err)
}
