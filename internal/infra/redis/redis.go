package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName   = "mailtrack"
	pingTimeout  = 5 * time.Second
	opTimeout    = time.Second
	minIdleConns = 2
)

// NewRedis connects using a redis:// or rediss:// URL. Only short lock
// commands run on this client, so read and write timeouts stay tight unless
// the URL sets them.
func NewRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	applyDefaults(opts)

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	return client, nil
}

func applyDefaults(opts *redis.Options) {
	if opts.ClientName == "" {
		opts.ClientName = clientName
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = opTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = opTimeout
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = minIdleConns
	}
}
