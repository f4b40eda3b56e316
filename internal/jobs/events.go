package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event announces a job stage or status change
type Event struct {
	Token            string    `json:"token"`
	Status           Status    `json:"status"`
	Stage            Stage     `json:"stage"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	Translated       *bool     `json:"translated,omitempty"`
	OutputFilename   string    `json:"output_filename,omitempty"`
	Time             time.Time `json:"time"`
}

// Publisher delivers job events to subscribers
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close() error                         { return nil }

// RedisPublisher publishes job events on a Redis channel and keeps the latest
// event per job under a key that expires with the job.
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
	Channel  string
	TTL      time.Duration
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mp:"
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "jobs.status"
	}

	return &RedisPublisher{
		client:  client,
		prefix:  prefix,
		channel: channel,
		ttl:     cfg.TTL,
	}, nil
}

// Channel returns the fully prefixed channel name
func (p *RedisPublisher) Channel() string {
	return p.prefix + p.channel
}

// StatusKey returns the key holding the latest event of a job
func (p *RedisPublisher) StatusKey(token string) string {
	return p.prefix + "job:" + token
}

// Publish sends the event and records it as the job's latest state
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.StatusKey(event.Token), payload, p.ttl)
	pipe.Publish(ctx, p.Channel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
