package realtime

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dmchat/internal/apperr"
	"github.com/dmchat/internal/model"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[string]*model.Message
	seen     map[string][]string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		messages: make(map[string]*model.Message),
		seen:     make(map[string][]string),
	}
}

func (s *fakeMessageStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *fakeMessageStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.NotFoundf("message not found")
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMessageStore) AdvanceStatus(_ context.Context, messageID, ackerID string, to model.MessageStatus) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, false, apperr.NotFoundf("message not found")
	}
	if m.SenderID != ackerID && model.StatusAdvances(m.Status, to) {
		m.Status = to
		cp := *m
		return &cp, true, nil
	}
	cp := *m
	return &cp, false, nil
}

func (s *fakeMessageStore) MarkSeen(_ context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[messageID] = append(s.seen[messageID], userID)
	return nil
}

func (s *fakeMessageStore) status(messageID string) model.MessageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[messageID]; ok {
		return m.Status
	}
	return ""
}

type fakeChats struct {
	members map[string][]string
}

func (c *fakeChats) MemberIDs(_ context.Context, chatID string) ([]string, error) {
	return c.members[chatID], nil
}

func (c *fakeChats) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	for _, id := range c.members[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeUsers struct{}

func (fakeUsers) PublicProfile(_ context.Context, userID string) (model.UserPublic, error) {
	return model.UserPublic{ID: userID, Name: "user-" + userID}, nil
}

type pushCall struct {
	userID string
	title  string
	body   string
	data   map[string]string
}

type fakePush struct {
	calls chan pushCall
}

func newFakePush() *fakePush {
	return &fakePush{calls: make(chan pushCall, 16)}
}

func (p *fakePush) Notify(_ context.Context, userID, title, body string, data map[string]string) {
	p.calls <- pushCall{userID: userID, title: title, body: body, data: data}
}

func newTestHub(chats *fakeChats) (*Hub, *fakeMessageStore, *fakePush) {
	msgs := newFakeMessageStore()
	push := newFakePush()
	hub := NewHub(msgs, chats, fakeUsers{}, push, 100)
	return hub, msgs, push
}

// connect adds a nil-conn client and announces its presence, draining the
// resulting online events.
func connect(t *testing.T, h *Hub, connID, userID string) *Client {
	t.Helper()
	c := NewClient(h, nil, connID, userID)
	h.addClient(c)
	h.Dispatch(context.Background(), c, IncomingEvent{Type: EventOnline})
	drain(h)
	return c
}

// drain empties every connected client's send buffer.
func drain(h *Hub) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.byConn))
	for _, c := range h.byConn {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		drainClient(c)
	}
}

func drainClient(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func recvEvent(t *testing.T, c *Client) OutgoingEvent {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	default:
		t.Fatal("expected a queued event, got none")
		return OutgoingEvent{}
	}
}

func requireNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.send:
		t.Fatalf("unexpected event %q queued", ev.Type)
	default:
	}
}

func TestOnlineAnnounceBroadcastsOnFirstConnection(t *testing.T) {
	hub, _, _ := newTestHub(&fakeChats{members: map[string][]string{}})

	c1 := NewClient(hub, nil, "c1", "u1")
	hub.addClient(c1)
	hub.Dispatch(context.Background(), c1, IncomingEvent{Type: EventOnline})

	ev := recvEvent(t, c1)
	if ev.Type != EventOnline {
		t.Fatalf("event = %q, want online", ev.Type)
	}
	if got := ev.Payload.([]string); !reflect.DeepEqual(got, []string{"u1"}) {
		t.Errorf("online set = %v, want [u1]", got)
	}

	// Second user's announce reaches both users with the full set.
	c2 := NewClient(hub, nil, "c2", "u2")
	hub.addClient(c2)
	hub.Dispatch(context.Background(), c2, IncomingEvent{Type: EventOnline})

	want := []string{"u1", "u2"}
	for _, c := range []*Client{c1, c2} {
		ev := recvEvent(t, c)
		if ev.Type != EventOnline {
			t.Fatalf("event = %q, want online", ev.Type)
		}
		if got := ev.Payload.([]string); !reflect.DeepEqual(got, want) {
			t.Errorf("online set = %v, want %v", got, want)
		}
	}
}

func TestOnlineAnnounceSecondDeviceNoBroadcast(t *testing.T) {
	hub, _, _ := newTestHub(&fakeChats{members: map[string][]string{}})
	c1 := connect(t, hub, "c1", "u1")

	c2 := NewClient(hub, nil, "c2", "u1")
	hub.addClient(c2)
	hub.Dispatch(context.Background(), c2, IncomingEvent{Type: EventOnline})

	// Only the announcing connection gets the set; the set is unchanged.
	ev := recvEvent(t, c2)
	if ev.Type != EventOnline {
		t.Fatalf("event = %q, want online", ev.Type)
	}
	if got := ev.Payload.([]string); !reflect.DeepEqual(got, []string{"u1"}) {
		t.Errorf("online set = %v, want [u1]", got)
	}
	requireNoEvent(t, c1)
}

func TestOnlineAnnounceMismatchedUserRejected(t *testing.T) {
	hub, _, _ := newTestHub(&fakeChats{members: map[string][]string{}})
	c1 := NewClient(hub, nil, "c1", "u1")
	hub.addClient(c1)

	hub.Dispatch(context.Background(), c1, IncomingEvent{Type: EventOnline, UserID: "someone-else"})

	ev := recvEvent(t, c1)
	if ev.Type != EventError {
		t.Fatalf("event = %q, want error", ev.Type)
	}
	if hub.registry.IsOnline("u1") || hub.registry.IsOnline("someone-else") {
		t.Error("mismatched announce must not register presence")
	}
}

func TestDisconnectLastDeviceBroadcastsOffline(t *testing.T) {
	hub, _, _ := newTestHub(&fakeChats{members: map[string][]string{}})
	c1 := connect(t, hub, "c1", "u1")
	c1b := connect(t, hub, "c1b", "u1")
	c2 := connect(t, hub, "c2", "u2")

	// First device closes: u1 still online, no broadcast.
	hub.removeClient(c1)
	requireNoEvent(t, c2)

	// Last device closes: remaining users get the shrunken set.
	hub.removeClient(c1b)
	ev := recvEvent(t, c2)
	if ev.Type != EventOnline {
		t.Fatalf("event = %q, want online", ev.Type)
	}
	if got := ev.Payload.([]string); !reflect.DeepEqual(got, []string{"u2"}) {
		t.Errorf("online set = %v, want [u2]", got)
	}
}

func TestSendMessageFanoutExactlyOncePerConnection(t *testing.T) {
	chats := &fakeChats{members: map[string][]string{"chat1": {"u1", "u2"}}}
	hub, msgs, _ := newTestHub(chats)

	sender := connect(t, hub, "c1", "u1")
	recvA := connect(t, hub, "c2a", "u2")
	recvB := connect(t, hub, "c2b", "u2")

	hub.Dispatch(context.Background(), sender, IncomingEvent{
		Type: EventSendMessage, ChatID: "chat1", Content: "hello",
	})

	// Sender gets the echo with the persisted id.
	echo := recvEvent(t, sender)
	if echo.Type != EventReceiveMessage {
		t.Fatalf("sender event = %q, want receive-message", echo.Type)
	}
	m := echo.Payload.(*model.Message)
	if m.ID == "" || m.Status != model.MessageStatusSent {
		t.Errorf("echoed message id=%q status=%q, want non-empty/sent", m.ID, m.Status)
	}
	if msgs.status(m.ID) != model.MessageStatusSent {
		t.Error("message must be persisted before fanout")
	}

	// Each receiving connection gets exactly one copy, same id.
	for _, c := range []*Client{recvA, recvB} {
		ev := recvEvent(t, c)
		if ev.Type != EventReceiveMessage {
			t.Fatalf("event = %q, want receive-message", ev.Type)
		}
		got := ev.Payload.(*model.Message)
		if got.ID != m.ID {
			t.Errorf("fanout id = %q, want %q", got.ID, m.ID)
		}
		requireNoEvent(t, c)
	}
	requireNoEvent(t, sender)
}

func TestSendMessageNonMemberRejected(t *testing.T) {
	chats := &fakeChats{members: map[string][]string{"chat1": {"u2", "u3"}}}
	hub, msgs, _ := newTestHub(chats)
	c := connect(t, hub, "c1", "u1")

	hub.Dispatch(context.Background(), c, IncomingEvent{
		Type: EventSendMessage, ChatID: "chat1", Content: "hi",
	})

	ev := recvEvent(t, c)
	if ev.Type != EventError {
		t.Fatalf("event = %q, want error", ev.Type)
	}
	msgs.mu.Lock()
	n := len(msgs.messages)
	msgs.mu.Unlock()
	if n != 0 {
		t.Error("rejected message must not be persisted")
	}
}

func TestFanoutOfflineMemberGetsPush(t *testing.T) {
	chats := &fakeChats{members: map[string][]string{"chat1": {"u1", "u2"}}}
	hub, _, push := newTestHub(chats)
	sender := connect(t, hub, "c1", "u1")
	// u2 never connects.

	hub.Dispatch(context.Background(), sender, IncomingEvent{
		Type: EventSendMessage, ChatID: "chat1", Content: "are you there",
	})

	select {
	case call := <-push.calls:
		if call.userID != "u2" {
			t.Errorf("push to %q, want u2", call.userID)
		}
		if call.title != "user-u1" {
			t.Errorf("push title = %q, want sender name", call.title)
		}
		if call.body != "are you there" {
			t.Errorf("push body = %q", call.body)
		}
		if call.data["chat_id"] != "chat1" || call.data["message_id"] == "" {
			t.Errorf("push data = %v", call.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a push notification for the offline member")
	}
}

func TestReceiptAdvancesStatusAndNotifiesSender(t *testing.T) {
	chats := &fakeChats{members: map[string][]string{"chat1": {"u1", "u2"}}}
	hub, msgs, _ := newTestHub(chats)
	sender := connect(t, hub, "c1", "u1")
	receiver := connect(t, hub, "c2", "u2")

	msgs.Create(context.Background(), &model.Message{
		ID: "m1", ChatID: "chat1", SenderID: "u1", Content: "x", Status: model.MessageStatusSent,
	})

	hub.Dispatch(context.Background(), receiver, IncomingEvent{Type: EventDelivered, MessageID: "m1"})

	ev := recvEvent(t, sender)
	if ev.Type != EventDelivered {
		t.Fatalf("sender event = %q, want message-delivered", ev.Type)
	}
	p := ev.Payload.(StatusPayload)
	if p.MessageID != "m1" || p.UserID != "u2" {
		t.Errorf("payload = %+v", p)
	}
	if msgs.status("m1") != model.MessageStatusDelivered {
		t.Errorf("status = %q, want delivered", msgs.status("m1"))
	}

	// Repeated delivered ack is a silent no-op.
	hub.Dispatch(context.Background(), receiver, IncomingEvent{Type: EventDelivered, MessageID: "m1"})
	requireNoEvent(t, sender)
	requireNoEvent(t, receiver)
}

func TestReceiptNeverRegressesStatus(t *testing.T) {
	chats := &fakeChats{members: map[string][]string{"chat1": {"u1", "u2"}}}
	hub, msgs, _ := newTestHub(chats)
	sender := connect(t, hub, "c1", "u1")
	receiver := connect(t, hub, "c2", "u2")

	msgs.Create(context.Background(), &model.Message{
		ID: "m1", ChatID: "chat1", SenderID: "u1", Content: "x", Status: model.MessageStatusSent,
	})

	hub.Dispatch(context.Background(), receiver, IncomingEvent{Type: EventRead, MessageID: "m1"})
	ev := recvEvent(t, sender)
	if ev.Type != EventRead {
		t.Fatalf("sender event = %q, want message-read", ev.Type)
	}
	if msgs.status("m1") != model.MessageStatusRead {
		t.Fatalf("status = %q, want read", msgs.status("m1"))
	}

	// A late delivered ack must not move read back to delivered.
	hub.Dispatch(context.Background(), receiver, IncomingEvent{Type: EventDelivered, MessageID: "m1"})
	if msgs.status("m1") != model.MessageStatusRead {
		t.Errorf("status regressed to %q", msgs.status("m1"))
	}
	requireNoEvent(t, sender)
}

func TestReadReceiptRecordsSeenByEvenWithoutAdvance(t *testing.T) {
	chats := &fakeChats{members: map[string][]string{"chat1": {"u1", "u2", "u3"}}}
	hub, msgs, _ := newTestHub(chats)
	connect(t, hub, "c1", "u1")
	first := connect(t, hub, "c2", "u2")
	second := connect(t, hub, "c3", "u3")

	msgs.Create(context.Background(), &model.Message{
		ID: "m1", ChatID: "chat1", SenderID: "u1", Content: "x", Status: model.MessageStatusSent,
	})

	hub.Dispatch(context.Background(), first, IncomingEvent{Type: EventRead, MessageID: "m1"})
	hub.Dispatch(context.Background(), second, IncomingEvent{Type: EventRead, MessageID: "m1"})

	msgs.mu.Lock()
	seen := msgs.seen["m1"]
	msgs.mu.Unlock()
	if !reflect.DeepEqual(seen, []string{"u2", "u3"}) {
		t.Errorf("seen-by = %v, want [u2 u3]", seen)
	}
}

func TestReceiptFromNonMemberRejected(t *testing.T) {
	chats := &fakeChats{members: map[string][]string{"chat1": {"u1", "u2"}}}
	hub, msgs, _ := newTestHub(chats)
	sender := connect(t, hub, "c1", "u1")
	outsider := connect(t, hub, "c3", "u3")

	msgs.Create(context.Background(), &model.Message{
		ID: "m1", ChatID: "chat1", SenderID: "u1", Content: "x", Status: model.MessageStatusSent,
	})

	hub.Dispatch(context.Background(), outsider, IncomingEvent{Type: EventRead, MessageID: "m1"})

	ev := recvEvent(t, outsider)
	if ev.Type != EventError {
		t.Fatalf("event = %q, want error", ev.Type)
	}
	if got := msgs.status("m1"); got != model.MessageStatusSent {
		t.Errorf("status = %q, an outsider ack must not advance it", got)
	}
	msgs.mu.Lock()
	seen := msgs.seen["m1"]
	msgs.mu.Unlock()
	if len(seen) != 0 {
		t.Errorf("seen-by = %v, an outsider must not be recorded", seen)
	}
	requireNoEvent(t, sender)
}

func TestPushBodyTrimsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := truncateBody(long, pushBodyLimit)
	if len(got) != pushBodyLimit || !strings.HasSuffix(got, "...") {
		t.Errorf("truncated ascii body len=%d suffix=%q", len(got), got[len(got)-3:])
	}

	// Two-byte runes: a byte cut at the limit would land mid-sequence.
	multibyte := strings.Repeat("ж", 200)
	got = truncateBody(multibyte, pushBodyLimit)
	if !utf8.ValidString(got) {
		t.Error("truncated body is not valid UTF-8")
	}
	if len(got) > pushBodyLimit {
		t.Errorf("len = %d, want <= %d", len(got), pushBodyLimit)
	}

	if short := "hello"; truncateBody(short, pushBodyLimit) != short {
		t.Error("short body must pass through unchanged")
	}
}

func TestReceiptUnknownMessageHarmless(t *testing.T) {
	hub, _, _ := newTestHub(&fakeChats{members: map[string][]string{}})
	c := connect(t, hub, "c1", "u1")

	hub.Dispatch(context.Background(), c, IncomingEvent{Type: EventDelivered, MessageID: "ghost"})

	ev := recvEvent(t, c)
	if ev.Type != EventError {
		t.Fatalf("event = %q, want error", ev.Type)
	}
	// The connection survives the bad receipt.
	hub.mu.RLock()
	_, alive := hub.byConn["c1"]
	hub.mu.RUnlock()
	if !alive {
		t.Error("connection must not be dropped for an unknown message id")
	}
}

func TestTypingForwardedToMembersExceptSender(t *testing.T) {
	chats := &fakeChats{members: map[string][]string{"chat1": {"u1", "u2"}}}
	hub, _, _ := newTestHub(chats)
	sender := connect(t, hub, "c1", "u1")
	member := connect(t, hub, "c2", "u2")
	outsider := connect(t, hub, "c3", "u3")

	hub.Dispatch(context.Background(), sender, IncomingEvent{Type: EventTyping, ChatID: "chat1"})

	ev := recvEvent(t, member)
	if ev.Type != EventTyping {
		t.Fatalf("event = %q, want typing", ev.Type)
	}
	p := ev.Payload.(TypingPayload)
	if p.ChatID != "chat1" || p.UserID != "u1" {
		t.Errorf("payload = %+v", p)
	}
	requireNoEvent(t, sender)
	requireNoEvent(t, outsider)

	// Non-members cannot inject typing signals.
	hub.Dispatch(context.Background(), outsider, IncomingEvent{Type: EventTyping, ChatID: "chat1"})
	requireNoEvent(t, member)
}
