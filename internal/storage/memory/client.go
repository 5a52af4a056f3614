package memory

import (
	"context"
	"sync"
)

const maxSubsPerUser = 10

// Client is an in-memory SubscriptionStore used in -dev mode when no Redis
// is available. Contents are lost on restart.
type Client struct {
	mu   sync.Mutex
	subs map[string][]string
}

func New() *Client {
	return &Client{subs: make(map[string][]string)}
}

func (c *Client) Add(_ context.Context, userID, subscription string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := removeAll(c.subs[userID], subscription)
	list = append(list, subscription)
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	c.subs[userID] = list
	return nil
}

func (c *Client) List(_ context.Context, userID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.subs[userID]
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

func (c *Client) Remove(_ context.Context, userID, subscription string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := removeAll(c.subs[userID], subscription)
	if len(list) == 0 {
		delete(c.subs, userID)
	} else {
		c.subs[userID] = list
	}
	return nil
}

func (c *Client) Close() error { return nil }

func removeAll(list []string, val string) []string {
	out := list[:0]
	for _, s := range list {
		if s != val {
			out = append(out, s)
		}
	}
	return out
}
