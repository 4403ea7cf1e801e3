package pawchat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	stompSubprotocol        = "v12.stomp"
	defaultErrorQueue       = "/user/queue/errors"
	defaultHeartBeat        = 10 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	maxFrameSize            = 1 << 20
)

// StompDialer opens STOMP sessions over a WebSocket. The bearer token is
// sent both on the upgrade request and as a CONNECT header.
type StompDialer struct {
	URL string
	// ErrorQueue is subscribed on every connection to detect failures.
	// Defaults to /user/queue/errors.
	ErrorQueue string
	// HeartBeat is used for both directions. Zero means 10s; negative
	// disables heart-beating.
	HeartBeat time.Duration
	// HandshakeTimeout bounds the upgrade and CONNECT exchange.
	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
	Logger           zerolog.Logger
}

// Dial implements Dialer.
func (d *StompDialer) Dial(ctx context.Context, token string) (BusConn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := websocket.Dial(dialCtx, d.URL, &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   header,
		Subprotocols: []string{stompSubprotocol},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	ws.SetReadLimit(maxFrameSize)

	// The net.Conn outlives the dial context.
	connCtx, stop := context.WithCancel(context.Background())
	netConn := websocket.NetConn(connCtx, ws, websocket.MessageText)

	hb := d.HeartBeat
	if hb == 0 {
		hb = defaultHeartBeat
	}
	if hb < 0 {
		hb = 0
	}
	connOpts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(u.Hostname()),
		stomp.ConnOpt.Header("Authorization", "Bearer "+token),
		stomp.ConnOpt.HeartBeat(hb, hb),
	}

	type result struct {
		conn *stomp.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := stomp.Connect(netConn, connOpts...)
		done <- result{c, err}
	}()

	var sc *stomp.Conn
	select {
	case r := <-done:
		if r.err != nil {
			stop()
			netConn.Close()
			return nil, fmt.Errorf("stomp connect: %w", r.err)
		}
		sc = r.conn
	case <-dialCtx.Done():
		stop()
		netConn.Close()
		return nil, fmt.Errorf("stomp connect: %w", dialCtx.Err())
	}

	c := &stompConn{
		conn:   sc,
		stop:   stop,
		done:   make(chan struct{}),
		logger: d.Logger.With().Str("component", "stomp").Logger(),
	}

	queue := d.ErrorQueue
	if queue == "" {
		queue = defaultErrorQueue
	}
	control, err := sc.Subscribe(queue, stomp.AckAuto)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe %s: %w", queue, err)
	}
	go c.watchControl(control)
	return c, nil
}

// stompConn adapts a *stomp.Conn to BusConn.
type stompConn struct {
	conn   *stomp.Conn
	stop   context.CancelFunc
	logger zerolog.Logger

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (c *stompConn) Subscribe(destination string, handler func([]byte)) (BusSubscription, error) {
	sub, err := c.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}
	s := &stompSubscription{sub: sub, logger: c.logger.With().Str("destination", destination).Logger()}
	go func() {
		for msg := range sub.C {
			if msg.Err != nil {
				s.logger.Debug().Err(msg.Err).Msg("subscription ended")
				return
			}
			if s.released.Load() {
				continue
			}
			handler(msg.Body)
		}
	}()
	return s, nil
}

func (c *stompConn) Send(destination string, body []byte) error {
	return c.conn.Send(destination, "application/json", body)
}

func (c *stompConn) Done() <-chan struct{} { return c.done }

func (c *stompConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *stompConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Disconnect()
		c.stop()
		close(c.done)
	})
	return err
}

// watchControl ends the connection on the first error frame or when the
// control subscription's channel closes.
func (c *stompConn) watchControl(sub *stomp.Subscription) {
	var cause error
	for msg := range sub.C {
		if msg.Err != nil {
			cause = msg.Err
			break
		}
		c.logger.Warn().Str("body", string(msg.Body)).Msg("server error frame")
	}
	if cause == nil {
		cause = errors.New("control subscription closed")
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = cause
	}
	c.mu.Unlock()
	c.once.Do(func() {
		c.conn.MustDisconnect()
		c.stop()
		close(c.done)
	})
}

// stompSubscription stops delivering as soon as Unsubscribe is called. The
// UNSUBSCRIBE frame itself waits for a receipt the broker may never send,
// so it goes out in the background.
type stompSubscription struct {
	sub      *stomp.Subscription
	logger   zerolog.Logger
	released atomic.Bool
}

func (s *stompSubscription) Unsubscribe() error {
	if s.released.Swap(true) || !s.sub.Active() {
		return nil
	}
	go func() {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Debug().Err(err).Msg("unsubscribe not acknowledged")
		}
	}()
	return nil
}
