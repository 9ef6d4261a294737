package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// RunLockKey is the key guarding login runs of one account across instances.
func RunLockKey(accountID int64) string {
	return fmt.Sprintf("autologin:run:%d", accountID)
}

// ManualRunKey is the rate limit bucket of manual runs of one account.
func ManualRunKey(accountID int64) string {
	return fmt.Sprintf("autologin:manual:%d", accountID)
}
