// Package realtime is the message delivery and presence core: it tracks live
// connections per user, fans persisted messages out to chat members, forwards
// typing signals, and advances per-message delivery status in response to
// receipt events.
package realtime

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dmchat/internal/apperr"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
)

// MessageStore is the durable message persistence the hub depends on. The hub
// holds no durable copy of any message, only transient references during
// fanout.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// AdvanceStatus moves a message's status forward on behalf of ackerID.
	// It returns the message, and whether the status actually advanced:
	// backward or repeated transitions (and acks by the sender) are
	// idempotent no-ops. Unknown ids yield a not-found error.
	AdvanceStatus(ctx context.Context, messageID, ackerID string, to model.MessageStatus) (*model.Message, bool, error)
	// MarkSeen records ackerID in the message's seen-by set.
	MarkSeen(ctx context.Context, messageID, userID string) error
}

// ChatDirectory resolves chat membership; the hub consults it only to scope
// fanout, never to mutate anything.
type ChatDirectory interface {
	MemberIDs(ctx context.Context, chatID string) ([]string, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// UserDirectory supplies denormalized sender fields for fanout payloads.
type UserDirectory interface {
	PublicProfile(ctx context.Context, userID string) (model.UserPublic, error)
}

// PushNotifier sends push notifications to offline members. nil disables push.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

const pushBodyLimit = 120

type Hub struct {
	mu       sync.RWMutex
	byConn   map[string]*Client
	total    int
	maxConns int

	registry *Registry
	msgs     MessageStore
	chats    ChatDirectory
	users    UserDirectory
	push     PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(msgs MessageStore, chats ChatDirectory, users UserDirectory, push PushNotifier, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		byConn:     make(map[string]*Client),
		maxConns:   maxConns,
		registry:   NewRegistry(),
		msgs:       msgs,
		chats:      chats,
		users:      users,
		push:       push,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Registry exposes read-only presence lookups (IsOnline, ConnectionsFor) to
// the HTTP layer. Mutations stay inside the hub.
func (h *Hub) Registry() *Registry { return h.registry }

// Run serializes connection add/remove through a single loop until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock; no I/O while holding the mutex.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, c := range h.byConn {
		all = append(all, c)
	}
	h.byConn = make(map[string]*Client)
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		h.registry.Unregister(c.id)
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	h.byConn[c.id] = c
	h.total++
	h.mu.Unlock()
	// Presence is not announced yet: the connection joins the registry only
	// when it sends the online event.
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.byConn[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.byConn, c.id)
	h.total--
	h.mu.Unlock()

	c.Close()

	// A duplicate disconnect signal is a no-op inside the registry.
	if _, last, ok := h.registry.Unregister(c.id); ok && last {
		h.broadcastOnline()
	}
}

// Dispatch is the single entry point for inbound connection events. Handlers
// are pure translators from wire events to state transitions owned here.
func (h *Hub) Dispatch(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventOnline:
		h.handleOnline(c, ev)
	case EventTyping:
		h.handleTyping(ctx, c, ev)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, ev)
	case EventDelivered:
		h.handleReceipt(ctx, c, ev, model.MessageStatusDelivered)
	case EventRead:
		h.handleReceipt(ctx, c, ev, model.MessageStatusRead)
	default:
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown event type"})
	}
}

// handleOnline registers the connection's presence. The announced user id, if
// present, must match the connection's authenticated user; re-authentication
// over the same transport is not permitted.
func (h *Hub) handleOnline(c *Client, ev IncomingEvent) {
	if ev.UserID != "" && ev.UserID != c.userID {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "presence announce does not match authenticated user"})
		return
	}
	first, err := h.registry.Register(c.id, c.userID)
	if err != nil {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: apperr.Message(err)})
		return
	}
	if first {
		// 0 -> 1 transition: everyone gets the new full set.
		h.broadcastOnline()
		return
	}
	// Additional device: only the announcing connection needs the set.
	h.sendToClient(c, OutgoingEvent{Type: EventOnline, Payload: h.registry.Online()})
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.ChatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ok, err := h.chats.IsMember(ctx, ev.ChatID, c.userID)
	if err != nil || !ok {
		if err != nil {
			logger.Errorf("ws typing membership chat=%s user=%s: %v", ev.ChatID, c.userID, err)
		}
		return
	}

	memberIDs, err := h.chats.MemberIDs(ctx, ev.ChatID)
	if err != nil {
		logger.Errorf("ws members for typing chat=%s: %v", ev.ChatID, err)
		return
	}

	out := OutgoingEvent{
		Type:    EventTyping,
		Payload: TypingPayload{ChatID: ev.ChatID, UserID: c.userID},
	}
	for _, uid := range memberIDs {
		if uid != c.userID {
			h.sendToUser(uid, out)
		}
	}
}

// handleSendMessage persists first (status=sent, final id), then fans out, so
// the socket payload and the stored record always carry the same id.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("hub.handleSendMessage", time.Now())()
	if ev.ChatID == "" || ev.Content == "" {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "chat_id and content required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.chats.IsMember(ctx, ev.ChatID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership chat=%s user=%s: %v", ev.ChatID, c.userID, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "internal error"})
		return
	}
	if !isMember {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "not a member"})
		return
	}

	contentType := ev.ContentType
	if contentType == "" {
		contentType = model.ContentTypeText
	}

	m := &model.Message{
		ID:          uuid.New().String(),
		ChatID:      ev.ChatID,
		SenderID:    c.userID,
		Content:     ev.Content,
		ContentType: contentType,
		Status:      model.MessageStatusSent,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.msgs.Create(ctx, m); err != nil {
		logger.Errorf("ws save message chat=%s user=%s: %v", ev.ChatID, c.userID, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "failed to save message"})
		return
	}

	if sender, err := h.users.PublicProfile(ctx, c.userID); err != nil {
		logger.Errorf("ws sender profile user=%s: %v", c.userID, err)
	} else {
		sender.IsOnline = true
		m.Sender = &sender
	}

	// Echo the persisted message (with its final id) back to the sending
	// connection before fanout.
	h.sendToClient(c, OutgoingEvent{Type: EventReceiveMessage, Payload: m})

	h.Fanout(ctx, m)
}

// Fanout delivers a persisted message to every live connection of every chat
// member except the sender, exactly once per connection. Offline members stay
// at status=sent and are nudged by push; nothing is queued for reconnect —
// clients reconcile via a history fetch.
func (h *Hub) Fanout(ctx context.Context, m *model.Message) {
	defer logger.DeferLogDuration("hub.Fanout", time.Now())()
	memberIDs, err := h.chats.MemberIDs(ctx, m.ChatID)
	if err != nil {
		logger.Errorf("ws members for fanout chat=%s: %v", m.ChatID, err)
		return
	}

	out := OutgoingEvent{Type: EventReceiveMessage, Payload: m}
	var offline []string
	for _, uid := range memberIDs {
		if uid == m.SenderID {
			continue
		}
		if !h.registry.IsOnline(uid) {
			offline = append(offline, uid)
			continue
		}
		h.sendToUser(uid, out)
	}

	if h.push == nil || len(offline) == 0 {
		return
	}
	title := "New message"
	if m.Sender != nil && m.Sender.Name != "" {
		title = m.Sender.Name
	}
	body := m.Content
	if m.ContentType != model.ContentTypeText || body == "" {
		body = "Attachment"
	}
	body = truncateBody(body, pushBodyLimit)
	data := map[string]string{"chat_id": m.ChatID, "message_id": m.ID}
	for _, uid := range offline {
		uid := uid
		go h.push.Notify(context.Background(), uid, title, body, data)
	}
}

// truncateBody shortens the push preview without splitting a multi-byte rune.
func truncateBody(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// handleReceipt advances a message's status (delivered or read) on behalf of
// the acknowledging connection and notifies the sender's connections. The
// transition is monotonic: a delivered ack for an already-read message is an
// accepted no-op; an unknown message id is rejected without harming the
// connection.
func (h *Hub) handleReceipt(ctx context.Context, c *Client, ev IncomingEvent, to model.MessageStatus) {
	if ev.MessageID == "" {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "message_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Receipts are recipient-scoped: only an ack from a chat member may move
	// the status machine or land in seen-by.
	m, err := h.msgs.GetByID(ctx, ev.MessageID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			logger.Errorf("ws receipt for unknown message=%s user=%s", ev.MessageID, c.userID)
			h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown message"})
			return
		}
		logger.Errorf("ws receipt lookup message=%s: %v", ev.MessageID, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "failed to update status, retry"})
		return
	}
	member, err := h.chats.IsMember(ctx, m.ChatID, c.userID)
	if err != nil {
		logger.Errorf("ws receipt membership chat=%s user=%s: %v", m.ChatID, c.userID, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "failed to update status, retry"})
		return
	}
	if !member {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "not a chat member"})
		return
	}

	m, advanced, err := h.msgs.AdvanceStatus(ctx, ev.MessageID, c.userID, to)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			logger.Errorf("ws receipt for unknown message=%s user=%s", ev.MessageID, c.userID)
			h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown message"})
			return
		}
		// The peer already saw the broadcast; the durable record catches up
		// when the client retries.
		logger.Errorf("ws advance status message=%s to=%s: %v", ev.MessageID, to, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "failed to update status, retry"})
		return
	}

	if to == model.MessageStatusRead && m.SenderID != c.userID {
		// Seen-by is recorded even when the status no longer advances
		// (group chats: later readers).
		if err := h.msgs.MarkSeen(ctx, ev.MessageID, c.userID); err != nil {
			logger.Errorf("ws mark seen message=%s user=%s: %v", ev.MessageID, c.userID, err)
		}
	}

	if !advanced {
		return
	}

	evType := EventDelivered
	if to == model.MessageStatusRead {
		evType = EventRead
	}
	h.sendToUser(m.SenderID, OutgoingEvent{
		Type:    evType,
		Payload: StatusPayload{MessageID: m.ID, UserID: c.userID},
	})
}

// broadcastOnline pushes the full online set to every announced connection.
func (h *Hub) broadcastOnline() {
	set := h.registry.Online()
	out := OutgoingEvent{Type: EventOnline, Payload: set}
	for _, uid := range set {
		h.sendToUser(uid, out)
	}
}

func (h *Hub) sendToUser(userID string, ev OutgoingEvent) {
	connIDs := h.registry.ConnectionsFor(userID)
	if len(connIDs) == 0 {
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := h.byConn[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close the slow client. It drops
		// this one delivery; nothing is rolled back.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

// Register hands a new connection to the hub loop.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister removes a connection; called from the read pump on any
// disconnect path.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
