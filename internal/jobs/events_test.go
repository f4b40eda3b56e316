package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("Docker not available")
	}

	ctx := context.Background()
	container, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisPublisher(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	pub, err := NewRedisPublisher(RedisConfig{Addr: addr, Prefix: "test:", Channel: "jobs", TTL: time.Minute})
	require.NoError(t, err)
	defer pub.Close()
	assert.Equal(t, "test:jobs", pub.Channel())

	sub := goredis.NewClient(&goredis.Options{Addr: addr})
	defer sub.Close()

	ps := sub.Subscribe(ctx, pub.Channel())
	defer ps.Close()
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	event := Event{Token: "abc123", Status: StatusProcessing, Stage: StageOCRExtraction, Time: time.Now().UTC()}
	require.NoError(t, pub.Publish(ctx, event))

	select {
	case msg := <-ps.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "abc123", got.Token)
		assert.Equal(t, StageOCRExtraction, got.Stage)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	stored, err := sub.Get(ctx, pub.StatusKey("abc123")).Result()
	require.NoError(t, err)
	assert.Contains(t, stored, `"stage":"ocr_extraction"`)

	ttl, err := sub.TTL(ctx, pub.StatusKey("abc123")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestNewRedisPublisherUnreachable(t *testing.T) {
	_, err := NewRedisPublisher(RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
