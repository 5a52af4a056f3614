package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Subscriptions live for 90 days without renewal; re-subscribing resets the
// TTL. The per-user cap bounds list growth from stale browser registrations.
const (
	subscriptionTTL = 90 * 24 * time.Hour
	maxSubsPerUser  = 10
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func subKey(userID string) string { return "push_subs:" + userID }

// Add appends the subscription to push_subs:{user_id}, trims the list to the
// newest maxSubsPerUser entries and refreshes the TTL. Duplicates are removed
// first so re-subscribing the same endpoint does not grow the list.
func (c *Client) Add(ctx context.Context, userID, subscription string) error {
	key := subKey(userID)
	pipe := c.cli.TxPipeline()
	pipe.LRem(ctx, key, 0, subscription)
	pipe.RPush(ctx, key, subscription)
	pipe.LTrim(ctx, key, int64(-maxSubsPerUser), -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push sub add: %w", err)
	}
	return nil
}

func (c *Client) List(ctx context.Context, userID string) ([]string, error) {
	subs, err := c.cli.LRange(ctx, subKey(userID), 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis push sub list: %w", err)
	}
	return subs, nil
}

// Remove drops every stored copy of the subscription (used both on explicit
// unsubscribe and when the push endpoint reports the subscription gone).
func (c *Client) Remove(ctx context.Context, userID, subscription string) error {
	if err := c.cli.LRem(ctx, subKey(userID), 0, subscription).Err(); err != nil {
		return fmt.Errorf("redis push sub remove: %w", err)
	}
	return nil
}
