package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultChannel = "boost-events"

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher connects to addr and verifies the connection with a ping.
func NewRedisPublisher(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisPublisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel = strings.TrimSpace(channel); channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPublisher{rdb: rdb, channel: channel, logger: logger.With("component", "RedisPublisher")}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	p.logger.Debug("event published", "type", e.Type, "reference_id", e.ReferenceID)
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
