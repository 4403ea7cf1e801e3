package pawchat

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// RoomInfoFetcher loads room metadata.
type RoomInfoFetcher interface {
	RoomInfo(ctx context.Context, roomID string) (*RoomInfo, error)
}

// SessionOption customizes NewSession.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	tokens     TokenSource
	dialer     Dialer
	history    HistoryFetcher
	marker     ReadMarker
	info       RoomInfoFetcher
	client     []ClientOption
	normalizer Normalizer
	core       []Option
}

// WithTokenSource sets where the bearer token is read from. Required.
func WithTokenSource(ts TokenSource) SessionOption {
	return func(o *sessionOptions) { o.tokens = ts }
}

// WithDialer replaces the STOMP dialer.
func WithDialer(d Dialer) SessionOption {
	return func(o *sessionOptions) { o.dialer = d }
}

// WithHistoryFetcher replaces the REST client for history pages.
func WithHistoryFetcher(f HistoryFetcher) SessionOption {
	return func(o *sessionOptions) { o.history = f }
}

// WithReadMarker replaces the REST client for read acknowledgements.
func WithReadMarker(m ReadMarker) SessionOption {
	return func(o *sessionOptions) { o.marker = m }
}

// WithRoomInfoFetcher replaces the REST client for room metadata.
func WithRoomInfoFetcher(f RoomInfoFetcher) SessionOption {
	return func(o *sessionOptions) { o.info = f }
}

// WithClientOptions is passed to NewClient.
func WithClientOptions(opts ...ClientOption) SessionOption {
	return func(o *sessionOptions) { o.client = append(o.client, opts...) }
}

// WithSessionNormalizer sets how live and history timestamps are read.
func WithSessionNormalizer(n Normalizer) SessionOption {
	return func(o *sessionOptions) { o.normalizer = n }
}

// WithOptions is passed to every core component.
func WithOptions(opts ...Option) SessionOption {
	return func(o *sessionOptions) { o.core = append(o.core, opts...) }
}

// Session owns the chat state of one logged-in user: the shared bus
// connection, its room subscriptions, the sender and the open
// conversations. Create it at login and Close it at logout.
type Session struct {
	cfg        Config
	logger     zerolog.Logger
	normalizer Normalizer
	core       []Option

	client  *Client
	history HistoryFetcher
	marker  ReadMarker
	info    RoomInfoFetcher

	conn   *ConnectionManager
	subs   *Subscriptions
	sender *Sender

	mu     sync.Mutex
	convs  map[*Conversation]struct{}
	closed bool
}

// NewSession validates cfg and wires the components. It does not connect.
func NewSession(cfg Config, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var so sessionOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.tokens == nil {
		return nil, fmt.Errorf("new session: %w", ErrNoToken)
	}

	core := []Option{
		WithReconnectPolicy(cfg.reconnectPolicy()),
	}
	if cfg.PageSize > 0 {
		core = append(core, WithPageSize(cfg.PageSize))
	}
	core = append(core, so.core...)
	o := newOptions(core)

	clientOpts := append([]ClientOption{
		WithBaseURL(cfg.BaseURL),
		WithClientLogger(o.logger.With().Str("component", "api").Logger()),
		WithNormalizer(so.normalizer),
	}, so.client...)
	client := NewClient(so.tokens, clientOpts...)

	dialer := so.dialer
	if dialer == nil {
		dialer = &StompDialer{
			URL:       cfg.WebSocketURL,
			HeartBeat: cfg.HeartBeat,
			Logger:    o.logger,
		}
	}

	s := &Session{
		cfg:        cfg,
		logger:     o.logger.With().Str("component", "session").Logger(),
		normalizer: so.normalizer,
		core:       core,
		client:     client,
		history:    so.history,
		marker:     so.marker,
		info:       so.info,
		convs:      make(map[*Conversation]struct{}),
	}
	if s.history == nil {
		s.history = client
	}
	if s.marker == nil {
		s.marker = client
	}
	if s.info == nil {
		s.info = client
	}

	s.conn = NewConnectionManager(dialer, so.tokens, core...)
	s.subs = NewSubscriptions(s.conn, core...)
	s.sender = NewSender(s.conn, cfg.UserID, core...)
	return s, nil
}

// Start connects the bus. Failures are also reported through
// Connection().OnStateChange, and transport failures are retried.
func (s *Session) Start(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

// Close releases every conversation and disconnects. The session cannot be
// reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	convs := make([]*Conversation, 0, len(s.convs))
	for c := range s.convs {
		convs = append(convs, c)
	}
	s.convs = nil
	s.mu.Unlock()

	for _, c := range convs {
		c.Unfocus()
		c.pager.Wait()
	}
	s.subs.Close()
	err := s.conn.Disconnect()
	s.logger.Info().Int("conversations", len(convs)).Msg("session closed")
	return err
}

// Open returns a conversation for roomID. It starts unfocused and empty.
func (s *Session) Open(roomID string) (*Conversation, error) {
	if _, err := parseRoomID(roomID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("open %s: session closed", roomID)
	}
	c := newConversation(s, roomID)
	s.convs[c] = struct{}{}
	return c, nil
}

func (s *Session) forget(c *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, c)
}

// Connection returns the shared connection manager.
func (s *Session) Connection() *ConnectionManager { return s.conn }

// Client returns the REST client.
func (s *Session) Client() *Client { return s.client }

// UserID returns the current user's id.
func (s *Session) UserID() int64 { return s.cfg.UserID }
