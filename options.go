package pawchat

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures the core components (ConnectionManager, Subscriptions,
// Paginator, Sender, Session).
type Option func(*options)

type options struct {
	logger          zerolog.Logger
	metrics         *Metrics
	reconnect       ReconnectPolicy
	publishDest     string
	subscribePrefix string
	pageSize        int
	now             func() time.Time
}

const (
	DefaultPublishDestination = "/app/chat/message"
	DefaultSubscribePrefix    = "/topic/chatroom/"
	DefaultPageSize           = 20
	DefaultReconnectDelay     = 5 * time.Second
)

func newOptions(opts []Option) options {
	o := options{
		logger:          zerolog.Nop(),
		publishDest:     DefaultPublishDestination,
		subscribePrefix: DefaultSubscribePrefix,
		pageSize:        DefaultPageSize,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.reconnect.defaults()
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithReconnectPolicy overrides the fixed 5s, unbounded reconnect policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(o *options) { o.reconnect = p }
}

// WithDestinations overrides the publish destination and the room
// subscription prefix.
func WithDestinations(publish, subscribePrefix string) Option {
	return func(o *options) {
		if publish != "" {
			o.publishDest = publish
		}
		if subscribePrefix != "" {
			o.subscribePrefix = subscribePrefix
		}
	}
}

// WithClock replaces time.Now for optimistic message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPageSize sets the history page size. Values below 1 are ignored.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}
