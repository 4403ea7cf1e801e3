package pawchat

import "context"

// ============================================================================
// Bus Transport
// ============================================================================

// Dialer opens authenticated bus connections.
type Dialer interface {
	Dial(ctx context.Context, token string) (BusConn, error)
}

// BusConn is one live bus connection.
type BusConn interface {
	// Subscribe registers handler for every message sent to destination.
	Subscribe(destination string, handler func(body []byte)) (BusSubscription, error)
	// Send publishes body to destination.
	Send(destination string, body []byte) error
	// Done is closed when the connection fails or is closed.
	Done() <-chan struct{}
	// Err returns the failure that closed Done, if any.
	Err() error
	Close() error
}

// BusSubscription is a registration returned by BusConn.Subscribe.
type BusSubscription interface {
	Unsubscribe() error
}
