package pawchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState is the state of the shared bus connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateErroring     ConnState = "erroring"
)

// StateChange is delivered to listeners on every transition. Err is set
// when entering StateErroring.
type StateChange struct {
	State ConnState
	Err   error
}

// StateListener observes connection state transitions.
type StateListener func(StateChange)

// ============================================================================
// Reconnector
// ============================================================================

// ReconnectPolicy controls retries after transport failures. The zero value
// means a fixed 5s delay, retried forever. A MaxDelay above BaseDelay grows
// the delay exponentially with jitter; a positive MaxAttempts gives up after
// that many consecutive attempts.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (p *ReconnectPolicy) defaults() {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultReconnectDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
}

type reconnector struct {
	policy      ReconnectPolicy
	attempt     int
	connectedAt time.Time
}

func newReconnector(p ReconnectPolicy) *reconnector {
	return &reconnector{policy: p}
}

func (r *reconnector) shouldReconnect() bool {
	return r.policy.MaxAttempts == 0 || r.attempt < r.policy.MaxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}
	base := r.policy.BaseDelay
	if r.policy.MaxDelay == base {
		r.attempt++
		return base
	}
	jitter := time.Duration(rand.Float64() * float64(base) * 0.5)
	delay := time.Duration(math.Min(
		float64(base)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.policy.MaxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// ConnectionManager
// ============================================================================

// ConnectionManager owns the single bus connection shared by every room.
// Create one per logged-in session; it is safe for concurrent use.
type ConnectionManager struct {
	dialer      Dialer
	tokens      TokenSource
	logger      zerolog.Logger
	metrics     *Metrics
	publishDest string

	mu    sync.Mutex
	state ConnState
	conn  BusConn
	gen   uint64 // bumped by every Connect and Disconnect
	timer *time.Timer
	recon *reconnector

	listenersMu  sync.Mutex
	listeners    []listenerEntry
	nextListener int
}

type listenerEntry struct {
	id int
	fn StateListener
}

// NewConnectionManager returns a disconnected manager.
func NewConnectionManager(dialer Dialer, tokens TokenSource, opts ...Option) *ConnectionManager {
	o := newOptions(opts)
	return &ConnectionManager{
		dialer:      dialer,
		tokens:      tokens,
		logger:      o.logger.With().Str("component", "connection").Logger(),
		metrics:     o.metrics,
		publishDest: o.publishDest,
		state:       StateDisconnected,
		recon:       newReconnector(o.reconnect),
	}
}

// OnStateChange registers l and returns a function that removes it.
// Listeners run synchronously in registration order.
func (m *ConnectionManager) OnStateChange(l StateListener) (remove func()) {
	m.listenersMu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: l})
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, e := range m.listeners {
			if e.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the bus is usable.
func (m *ConnectionManager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect establishes the bus connection. It is a no-op while a connection
// is being established or is up. A missing or rejected token is reported to
// listeners and not retried; other failures are retried per the reconnect
// policy.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	return m.connect(ctx, 0, false)
}

func (m *ConnectionManager) connect(ctx context.Context, fromGen uint64, retry bool) error {
	m.mu.Lock()
	if retry && (fromGen != m.gen || m.state != StateErroring) {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.mu.Unlock()

	m.emit(StateChange{State: StateConnecting})
	m.metrics.connectAttempt()

	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("cannot connect without a token")
		m.fail(gen, nil, fmt.Errorf("read token: %w", err), false)
		return err
	}

	conn, err := m.dialer.Dial(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			m.logger.Error().Err(err).Msg("handshake rejected")
			m.fail(gen, nil, err, false)
		} else {
			m.logger.Warn().Err(err).Msg("handshake failed")
			m.fail(gen, nil, fmt.Errorf("dial: %w", err), true)
		}
		return err
	}

	// The server's session layer does not trust the handshake header alone,
	// so AUTH goes out before anyone can publish on the connection.
	auth, _ := json.Marshal(AuthMessage{Type: TypeAuth, Token: token})
	if err := conn.Send(m.publishDest, auth); err != nil {
		conn.Close()
		m.logger.Warn().Err(err).Msg("auth message failed")
		m.fail(gen, nil, fmt.Errorf("send auth: %w", err), true)
		return err
	}

	m.mu.Lock()
	if gen != m.gen {
		// Disconnect won the race.
		m.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	m.conn = conn
	m.state = StateConnected
	m.recon.markConnected()
	m.mu.Unlock()

	m.logger.Info().Msg("connected")
	m.emit(StateChange{State: StateConnected})
	go m.watch(gen, conn)
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	conn := m.conn
	m.conn = nil
	prev := m.state
	m.state = StateDisconnected
	m.recon.reset()
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if prev != StateDisconnected {
		m.logger.Info().Msg("disconnected")
		m.emit(StateChange{State: StateDisconnected})
	}
	return err
}

// Publish sends body to destination over the live connection.
func (m *ConnectionManager) Publish(destination string, body []byte) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	if err := conn.Send(destination, body); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it to the shared publish destination.
func (m *ConnectionManager) PublishJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return m.Publish(m.publishDest, body)
}

// Subscribe registers handler on the live connection.
func (m *ConnectionManager) Subscribe(destination string, handler func([]byte)) (BusSubscription, error) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if conn == nil || !connected {
		return nil, ErrNotConnected
	}
	return conn.Subscribe(destination, handler)
}

func (m *ConnectionManager) watch(gen uint64, conn BusConn) {
	<-conn.Done()

	err := conn.Err()
	if err == nil {
		err = errors.New("connection closed")
	}
	m.fail(gen, conn, fmt.Errorf("connection lost: %w", err), true)
}

// fail moves to StateErroring unless gen is stale, and schedules a
// reconnect when retry is set and the policy allows it.
func (m *ConnectionManager) fail(gen uint64, conn BusConn, err error, retry bool) {
	m.mu.Lock()
	if gen != m.gen || (conn != nil && m.conn != conn) {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateErroring

	var delay time.Duration
	scheduled := false
	if retry {
		if m.recon.shouldReconnect() {
			delay = m.recon.nextDelay()
			m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
			scheduled = true
		} else {
			err = fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
		}
	}
	attempt := m.recon.attempt
	m.mu.Unlock()

	if scheduled {
		m.metrics.reconnectScheduled()
		m.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	}
	m.emit(StateChange{State: StateErroring, Err: err})
}

func (m *ConnectionManager) reconnect(gen uint64) {
	if err := m.connect(context.Background(), gen, true); err != nil {
		m.logger.Debug().Err(err).Msg("reconnect attempt failed")
	}
}

func (m *ConnectionManager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnectionManager) emit(change StateChange) {
	m.metrics.stateChanged(change.State)
	m.logger.Debug().Str("state", string(change.State)).Msg("state change")

	m.listenersMu.Lock()
	handlers := make([]StateListener, len(m.listeners))
	for i, e := range m.listeners {
		handlers[i] = e.fn
	}
	m.listenersMu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().Interface("panic", r).Msg("state listener panicked")
				}
			}()
			h(change)
		}()
	}
}
