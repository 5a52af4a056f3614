package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/storage"
)

const sendTimeout = 10 * time.Second

// Subscription mirrors the browser PushSubscription object.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Service sends Web Push notifications to a user's registered browsers.
// With no VAPID keys configured it degrades to a no-op: subscriptions are
// still stored, sending is skipped. Satisfies realtime.PushNotifier.
type Service struct {
	store storage.SubscriptionStore
	vapid *webpush.Options
}

func NewService(store storage.SubscriptionStore, keys *VAPIDKeys) *Service {
	s := &Service{store: store}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		s.vapid = &webpush.Options{
			Subscriber:      "dmchat-push",
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return s
}

// PublicKey returns the VAPID public key clients need to subscribe, or ""
// when push is not configured.
func (s *Service) PublicKey() string {
	if s.vapid == nil {
		return ""
	}
	return s.vapid.VAPIDPublicKey
}

// Subscribe stores the raw subscription JSON for the user.
func (s *Service) Subscribe(ctx context.Context, userID string, raw string) error {
	return s.store.Add(ctx, userID, raw)
}

// Unsubscribe removes every stored subscription matching the endpoint.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	list, err := s.store.List(ctx, userID)
	if err != nil {
		return err
	}
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			if err := s.store.Remove(ctx, userID, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// Notify pushes a notification to all of the user's subscriptions. Endpoints
// answering 404/410 are pruned. Errors are logged, not returned: push
// delivery is best effort and must never fail message fanout.
func (s *Service) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	list, err := s.store.List(ctx, userID)
	if err != nil {
		logger.Errorf("push list user=%s: %v", userID, err)
		return
	}
	if len(list) == 0 {
		return
	}
	payload, err := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	if err != nil {
		logger.Errorf("push payload user=%s: %v", userID, err)
		return
	}
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == "" {
			// Unparseable entry, drop it from the store.
			if err := s.store.Remove(ctx, userID, item); err != nil {
				logger.Errorf("push prune user=%s: %v", userID, err)
			}
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.vapid)
		if err != nil {
			logger.Errorf("push send user=%s endpoint=%s: %v", userID, truncate(sub.Endpoint, 50), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			// Subscription is gone on the push service side.
			if err := s.store.Remove(ctx, userID, item); err != nil {
				logger.Errorf("push prune user=%s: %v", userID, err)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
