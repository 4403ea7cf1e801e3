package pawchat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Test Helpers
// ============================================================================

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t))
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ============================================================================
// Bus fakes
// ============================================================================

type sentFrame struct {
	dest string
	body []byte
}

// testBus is an in-memory BusConn.
type testBus struct {
	send      func(dest string, body []byte) error
	subscribe func(dest string) error

	mu     sync.Mutex
	subs   []*testBusSub
	sent   []sentFrame
	err    error
	closed bool
	once   sync.Once
	done   chan struct{}
}

func newTestBus() *testBus {
	return &testBus{done: make(chan struct{})}
}

func (b *testBus) Subscribe(dest string, handler func([]byte)) (BusSubscription, error) {
	if b.subscribe != nil {
		if err := b.subscribe(dest); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &testBusSub{bus: b, dest: dest, handler: handler}
	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *testBus) Send(dest string, body []byte) error {
	if b.send != nil {
		if err := b.send(dest, body); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentFrame{dest: dest, body: append([]byte(nil), body...)})
	return nil
}

func (b *testBus) Done() <-chan struct{} { return b.done }

func (b *testBus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *testBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.once.Do(func() { close(b.done) })
	return nil
}

// drop simulates the server side going away.
func (b *testBus) drop(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	b.once.Do(func() { close(b.done) })
}

func (b *testBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// deliver pushes v as JSON to every live subscription on dest.
func (b *testBus) deliver(t *testing.T, dest string, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b.deliverRaw(dest, body)
}

func (b *testBus) deliverRaw(dest string, body []byte) {
	b.mu.Lock()
	var handlers []func([]byte)
	for _, s := range b.subs {
		if s.dest == dest && !s.unsubscribed {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(body)
	}
}

func (b *testBus) activeSubs(dest string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if s.dest == dest && !s.unsubscribed {
			n++
		}
	}
	return n
}

func (b *testBus) sentTo(dest string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, f := range b.sent {
		if f.dest == dest {
			out = append(out, f.body)
		}
	}
	return out
}

type testBusSub struct {
	bus          *testBus
	dest         string
	handler      func([]byte)
	unsubscribed bool
}

func (s *testBusSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.unsubscribed = true
	return nil
}

// testDialer hands out buses in order. Once they run out, dial is used,
// or an error is returned.
type testDialer struct {
	dial func(ctx context.Context, token string) (BusConn, error)

	mu     sync.Mutex
	buses  []*testBus
	calls  int
	tokens []string
}

func dialerFor(buses ...*testBus) *testDialer {
	return &testDialer{buses: buses}
}

func (d *testDialer) Dial(ctx context.Context, token string) (BusConn, error) {
	d.mu.Lock()
	d.calls++
	d.tokens = append(d.tokens, token)
	if len(d.buses) > 0 {
		b := d.buses[0]
		d.buses = d.buses[1:]
		d.mu.Unlock()
		return b, nil
	}
	d.mu.Unlock()
	if d.dial != nil {
		return d.dial(ctx, token)
	}
	return nil, errors.New("no bus available")
}

func (d *testDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// stateRecorder collects state transitions.
type stateRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *stateRecorder) record(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *stateRecorder) states() []ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnState, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.State
	}
	return out
}

func (r *stateRecorder) last() StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return StateChange{}
	}
	return r.changes[len(r.changes)-1]
}

// connectedManager returns a manager already connected to bus.
func connectedManager(t *testing.T, bus *testBus, opts ...Option) *ConnectionManager {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger(t))}, opts...)
	m := NewConnectionManager(dialerFor(bus), StaticToken("tok"), opts...)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { m.Disconnect() })
	return m
}

// ============================================================================
// REST fakes
// ============================================================================

type testFetcher struct {
	fetch func(ctx context.Context, roomID string, page, size int) (HistoryPage, error)

	mu    sync.Mutex
	calls []int
}

func (f *testFetcher) FetchHistory(ctx context.Context, roomID string, page, size int) (HistoryPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()
	return f.fetch(ctx, roomID, page, size)
}

func (f *testFetcher) pages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type testMarker struct {
	markRead func(id string) error

	mu  sync.Mutex
	ids []string
}

func (m *testMarker) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	m.ids = append(m.ids, id)
	m.mu.Unlock()
	if m.markRead != nil {
		return m.markRead(id)
	}
	return nil
}

func (m *testMarker) marked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

type testRoomInfo struct {
	roomInfo func(roomID string) (*RoomInfo, error)
	calls    int
}

func (f *testRoomInfo) RoomInfo(_ context.Context, roomID string) (*RoomInfo, error) {
	f.calls++
	return f.roomInfo(roomID)
}

// msgAt builds a text message stamped at minute past a fixed instant.
func msgAt(id string, sender int64, minute int) Message {
	return Message{
		ID:       id,
		Text:     "m" + id,
		SenderID: sender,
		Time:     time.Date(2024, 5, 1, 12, minute, 0, 0, time.UTC),
		Kind:     KindText,
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
