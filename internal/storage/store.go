package storage

import "context"

// SubscriptionStore holds Web Push subscriptions per user as opaque JSON
// strings (the PushSubscription object as serialized by the browser).
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type SubscriptionStore interface {
	Add(ctx context.Context, userID, subscription string) error
	List(ctx context.Context, userID string) ([]string, error)
	Remove(ctx context.Context, userID, subscription string) error
	Close() error
}
