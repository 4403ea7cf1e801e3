package pawchat

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// SubState is the lifecycle state of a RoomSubscription.
type SubState int

const (
	SubIdle    SubState = iota // released or superseded
	SubPending                 // waiting for the next connected transition
	SubActive                  // registered on the live bus connection
)

func (s SubState) String() string {
	switch s {
	case SubPending:
		return "pending"
	case SubActive:
		return "active"
	default:
		return "idle"
	}
}

// EnvelopeHandler receives raw envelopes for a room.
type EnvelopeHandler func(Envelope)

// RoomSubscription is the handle returned by Subscriptions.Subscribe.
type RoomSubscription struct {
	RoomID string

	owner      *Subscriptions
	handler    EnvelopeHandler
	state      SubState // guarded by owner.mu
	activating bool
	bus        BusSubscription
}

// State returns the subscription's current state.
func (r *RoomSubscription) State() SubState {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	return r.state
}

// Unsubscribe releases the subscription. It is safe to call more than once,
// and on a nil subscription.
func (r *RoomSubscription) Unsubscribe() {
	if r == nil {
		return
	}
	r.owner.Unsubscribe(r)
}

// Subscriptions keeps at most one live subscription per room on a shared
// ConnectionManager. Subscriptions requested while the bus is down wait for
// the next connected transition; subscriptions lost with a dropped
// connection are re-established the same way.
type Subscriptions struct {
	conn    *ConnectionManager
	logger  zerolog.Logger
	metrics *Metrics
	prefix  string

	mu     sync.Mutex
	rooms  map[string]*RoomSubscription
	epoch  uint64 // bumped whenever the connection leaves StateConnected
	remove func()
}

// NewSubscriptions attaches a subscription registry to conn.
func NewSubscriptions(conn *ConnectionManager, opts ...Option) *Subscriptions {
	o := newOptions(opts)
	s := &Subscriptions{
		conn:    conn,
		logger:  o.logger.With().Str("component", "subscriptions").Logger(),
		metrics: o.metrics,
		prefix:  o.subscribePrefix,
		rooms:   make(map[string]*RoomSubscription),
	}
	s.remove = conn.OnStateChange(s.onStateChange)
	return s
}

// Destination returns the bus destination for roomID.
func (s *Subscriptions) Destination(roomID string) string {
	return s.prefix + roomID
}

// Subscribe delivers roomID's envelopes to h. Any prior subscription for
// the room is cancelled first.
func (s *Subscriptions) Subscribe(roomID string, h EnvelopeHandler) (*RoomSubscription, error) {
	if _, err := parseRoomID(roomID); err != nil {
		return nil, err
	}
	sub := &RoomSubscription{
		RoomID:  roomID,
		owner:   s,
		handler: h,
		state:   SubPending,
	}

	s.mu.Lock()
	prior := s.rooms[roomID]
	s.rooms[roomID] = sub
	var priorBus BusSubscription
	if prior != nil {
		priorBus = prior.bus
		prior.bus = nil
		prior.state = SubIdle
	}
	s.mu.Unlock()

	if priorBus != nil {
		s.release(roomID, priorBus)
	}
	if s.conn.IsConnected() {
		s.activate(sub)
	} else {
		s.logger.Debug().Str("room", roomID).Msg("subscription pending")
	}
	return sub, nil
}

// Unsubscribe releases sub. A pending subscription never becomes active.
func (s *Subscriptions) Unsubscribe(sub *RoomSubscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	if sub.state == SubIdle {
		s.mu.Unlock()
		return
	}
	bus := sub.bus
	sub.bus = nil
	sub.state = SubIdle
	if s.rooms[sub.RoomID] == sub {
		delete(s.rooms, sub.RoomID)
	}
	s.mu.Unlock()

	if bus != nil {
		s.release(sub.RoomID, bus)
	}
	s.logger.Debug().Str("room", sub.RoomID).Msg("unsubscribed")
}

// Close releases every subscription and detaches from the connection.
func (s *Subscriptions) Close() {
	s.remove()
	s.mu.Lock()
	subs := make([]*RoomSubscription, 0, len(s.rooms))
	for _, sub := range s.rooms {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		s.Unsubscribe(sub)
	}
}

func (s *Subscriptions) onStateChange(change StateChange) {
	if change.State == StateConnected {
		s.mu.Lock()
		var pending []*RoomSubscription
		for _, sub := range s.rooms {
			if sub.state == SubPending && !sub.activating {
				pending = append(pending, sub)
			}
		}
		s.mu.Unlock()
		for _, sub := range pending {
			s.activate(sub)
		}
		return
	}

	// The bus registrations died with the connection.
	s.mu.Lock()
	s.epoch++
	for _, sub := range s.rooms {
		if sub.state == SubActive {
			sub.state = SubPending
			sub.bus = nil
		}
	}
	s.mu.Unlock()
}

func (s *Subscriptions) activate(sub *RoomSubscription) {
	s.mu.Lock()
	if s.rooms[sub.RoomID] != sub || sub.state != SubPending || sub.activating {
		s.mu.Unlock()
		return
	}
	sub.activating = true
	epoch := s.epoch
	s.mu.Unlock()

	bus, err := s.conn.Subscribe(s.Destination(sub.RoomID), func(body []byte) {
		s.deliver(sub, body)
	})

	s.mu.Lock()
	sub.activating = false
	switch {
	case err != nil:
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("room", sub.RoomID).Msg("subscribe failed, waiting for reconnect")
		return
	case s.rooms[sub.RoomID] != sub || sub.state != SubPending:
		// Released while the bus call was in flight.
		s.mu.Unlock()
		s.release(sub.RoomID, bus)
		return
	case epoch != s.epoch:
		// Registered on a connection that has since dropped.
		s.mu.Unlock()
		if s.conn.IsConnected() {
			s.activate(sub)
		}
		return
	}
	sub.bus = bus
	sub.state = SubActive
	s.mu.Unlock()
	s.logger.Debug().Str("room", sub.RoomID).Msg("subscribed")
}

func (s *Subscriptions) deliver(sub *RoomSubscription, body []byte) {
	s.mu.Lock()
	current := s.rooms[sub.RoomID] == sub && sub.state != SubIdle
	s.mu.Unlock()
	if !current {
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.logger.Warn().Err(err).Str("room", sub.RoomID).Msg("dropping undecodable envelope")
		return
	}
	s.metrics.messageReceived()
	sub.handler(env)
}

func (s *Subscriptions) release(roomID string, bus BusSubscription) {
	if err := bus.Unsubscribe(); err != nil {
		s.logger.Debug().Err(err).Str("room", roomID).Msg("bus unsubscribe failed")
	}
}
