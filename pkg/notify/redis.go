package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"cardscan/pkg/scan"
)

// DefaultChannel is the pub/sub channel accepted scans are published on.
const DefaultChannel = "scan:accepted"

// RedisPublisher publishes accepted scans as JSON on a Redis channel so other
// services (POS terminals, audit) can follow the scanner.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to url and verifies the connection.
func NewRedisPublisher(ctx context.Context, url, channel string) (*RedisPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Printf("INFO publishing accepted scans to redis channel %s", channel)
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Notify publishes one detection.
func (p *RedisPublisher) Notify(ctx context.Context, d scan.Detection) error {
	payload, err := Encode(d)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Encode renders a detection as the published JSON payload.
func Encode(d scan.Detection) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode detection: %w", err)
	}
	return b, nil
}

// Log is a Notifier that only writes accepted scans to the log.
type Log struct{}

func (Log) Notify(ctx context.Context, d scan.Detection) error {
	log.Printf("SCAN accepted code=%s dial=%s count=%d", d.Code, d.DialCode, d.ScanCount)
	return nil
}
