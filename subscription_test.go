package pawchat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type envelopeLog struct {
	mu   sync.Mutex
	envs []Envelope
}

func (l *envelopeLog) handle(env Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.envs = append(l.envs, env)
}

func (l *envelopeLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.envs)
}

func TestSubscriptions_Exclusive(t *testing.T) {
	bus := newTestBus()
	m := connectedManager(t, bus)
	subs := NewSubscriptions(m, WithLogger(testLogger(t)))
	t.Cleanup(subs.Close)

	var first, second envelopeLog
	if _, err := subs.Subscribe("1", first.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub2, err := subs.Subscribe("1", second.handle)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.deliver(t, "/topic/chatroom/1", Envelope{ChatroomID: 1, MessageID: 10, Content: "hi"})

	if first.len() != 0 {
		t.Errorf("superseded handler got %d envelopes", first.len())
	}
	if second.len() != 1 {
		t.Errorf("current handler got %d envelopes, want 1", second.len())
	}
	if n := bus.activeSubs("/topic/chatroom/1"); n != 1 {
		t.Errorf("active bus subscriptions = %d, want 1", n)
	}
	if sub2.State() != SubActive {
		t.Errorf("State = %s, want active", sub2.State())
	}
}

func TestSubscriptions_PendingUntilConnected(t *testing.T) {
	bus := newTestBus()
	m := NewConnectionManager(dialerFor(bus), StaticToken("tok"), WithLogger(testLogger(t)))
	t.Cleanup(func() { m.Disconnect() })
	subs := NewSubscriptions(m, WithLogger(testLogger(t)))

	var got envelopeLog
	sub, err := subs.Subscribe("7", got.handle)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.State() != SubPending {
		t.Fatalf("State = %s before connect, want pending", sub.State())
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sub.State() != SubActive {
		t.Fatalf("State = %s after connect, want active", sub.State())
	}
	if n := bus.activeSubs("/topic/chatroom/7"); n != 1 {
		t.Errorf("bus subscriptions = %d, want exactly 1", n)
	}

	bus.deliver(t, "/topic/chatroom/7", Envelope{ChatroomID: 7, MessageID: 1})
	if got.len() != 1 {
		t.Errorf("handler got %d envelopes, want 1", got.len())
	}
}

func TestSubscriptions_UnsubscribeWhilePending(t *testing.T) {
	bus := newTestBus()
	m := NewConnectionManager(dialerFor(bus), StaticToken("tok"), WithLogger(testLogger(t)))
	t.Cleanup(func() { m.Disconnect() })
	subs := NewSubscriptions(m, WithLogger(testLogger(t)))

	sub, err := subs.Subscribe("7", func(Envelope) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if n := bus.activeSubs("/topic/chatroom/7"); n != 0 {
		t.Errorf("cancelled subscription became active (%d bus subscriptions)", n)
	}
	if sub.State() != SubIdle {
		t.Errorf("State = %s, want idle", sub.State())
	}
}

func TestSubscriptions_ResubscribeAfterReconnect(t *testing.T) {
	first, second := newTestBus(), newTestBus()
	m := NewConnectionManager(dialerFor(first, second), StaticToken("tok"), WithLogger(zerolog.Nop()), fastRetry)
	t.Cleanup(func() { m.Disconnect() })
	subs := NewSubscriptions(m, WithLogger(zerolog.Nop()))

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var got envelopeLog
	sub, err := subs.Subscribe("3", got.handle)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	first.drop(errors.New("connection reset"))
	waitFor(t, "resubscribe on new connection", func() bool {
		return second.activeSubs("/topic/chatroom/3") == 1 && sub.State() == SubActive
	})

	second.deliver(t, "/topic/chatroom/3", Envelope{ChatroomID: 3, MessageID: 5})
	if got.len() != 1 {
		t.Errorf("handler got %d envelopes after reconnect, want 1", got.len())
	}
}

func TestSubscriptions_DisconnectParksSubscriptions(t *testing.T) {
	bus := newTestBus()
	m := connectedManager(t, bus)
	subs := NewSubscriptions(m, WithLogger(testLogger(t)))

	sub, err := subs.Subscribe("3", func(Envelope) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	m.Disconnect()
	if sub.State() != SubPending {
		t.Errorf("State = %s after disconnect, want pending", sub.State())
	}
}

func TestSubscriptions_InvalidRoom(t *testing.T) {
	m := NewConnectionManager(dialerFor(), StaticToken("tok"))
	subs := NewSubscriptions(m)
	for _, room := range []string{"", "abc", "0", "-4"} {
		if _, err := subs.Subscribe(room, func(Envelope) {}); !errors.Is(err, ErrInvalidRoom) {
			t.Errorf("Subscribe(%q) error = %v, want ErrInvalidRoom", room, err)
		}
	}
}

func TestSubscriptions_DropsUndecodable(t *testing.T) {
	bus := newTestBus()
	m := connectedManager(t, bus)
	subs := NewSubscriptions(m, WithLogger(testLogger(t)))
	t.Cleanup(subs.Close)

	var got envelopeLog
	if _, err := subs.Subscribe("2", got.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	bus.deliverRaw("/topic/chatroom/2", []byte("not json"))
	bus.deliver(t, "/topic/chatroom/2", Envelope{ChatroomID: 2, MessageID: 1})

	if got.len() != 1 {
		t.Errorf("handler got %d envelopes, want 1", got.len())
	}
}

func TestSubscriptions_Close(t *testing.T) {
	bus := newTestBus()
	m := connectedManager(t, bus)
	subs := NewSubscriptions(m, WithLogger(testLogger(t)))

	a, _ := subs.Subscribe("1", func(Envelope) {})
	b, _ := subs.Subscribe("2", func(Envelope) {})
	subs.Close()

	for _, s := range []*RoomSubscription{a, b} {
		if s.State() != SubIdle {
			t.Errorf("room %s State = %s, want idle", s.RoomID, s.State())
		}
	}
	if n := bus.activeSubs("/topic/chatroom/1") + bus.activeSubs("/topic/chatroom/2"); n != 0 {
		t.Errorf("%d bus subscriptions left after Close", n)
	}

	// Detached from the connection: a reconnect must not revive anything.
	m.Disconnect()
	time.Sleep(10 * time.Millisecond)
	if a.State() != SubIdle {
		t.Errorf("State = %s after disconnect, want idle", a.State())
	}
}
