package pawchat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Sender publishes user-authored messages and keeps their optimistic
// timeline entries in step with the server echo.
type Sender struct {
	conn    *ConnectionManager
	selfID  int64
	logger  zerolog.Logger
	metrics *Metrics
	now     func() time.Time

	// Held across publish+insert and during reconciliation, so an echo can
	// never be matched before its temp entry exists.
	mu sync.Mutex
}

// NewSender returns a Sender publishing as selfID.
func NewSender(conn *ConnectionManager, selfID int64, opts ...Option) *Sender {
	o := newOptions(opts)
	return &Sender{
		conn:    conn,
		selfID:  selfID,
		logger:  o.logger.With().Str("component", "sender").Logger(),
		metrics: o.metrics,
		now:     o.now,
	}
}

// Send publishes text to tl's room and inserts an optimistic entry at the
// head of tl.
//
// Empty or oversized text and invalid rooms are rejected before any network
// call. When the bus is down a connect attempt is started in the background
// and ErrConnecting is returned. If publishing fails the timeline is left
// untouched.
func (s *Sender) Send(ctx context.Context, tl *Timeline, text string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	text = strings.TrimSpace(text)
	roomID, _ := strconv.ParseInt(tl.RoomID(), 10, 64)
	out := OutboundMessage{Type: TypeMessage, ChatroomID: roomID, Content: text}
	if err := validateOutbound(out); err != nil {
		s.metrics.sendFailed("validation")
		return Message{}, err
	}

	if !s.conn.IsConnected() {
		s.kickConnect()
		s.metrics.sendFailed("connecting")
		return Message{}, ErrConnecting
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.PublishJSON(out); err != nil {
		s.metrics.sendFailed("publish")
		s.logger.Warn().Err(err).Str("room", tl.RoomID()).Msg("publish failed")
		if errors.Is(err, ErrNotConnected) {
			s.kickConnect()
			return Message{}, fmt.Errorf("%w: %w", ErrPublish, err)
		}
		return Message{}, err
	}

	msg := Message{
		ID:       TempIDPrefix + ulid.Make().String(),
		Text:     text,
		SenderID: s.selfID,
		Time:     s.now().UTC(),
		Kind:     KindText,
	}
	tl.Prepend([]Message{msg})
	s.metrics.messageSent()
	return msg, nil
}

// Reconcile replaces the oldest optimistic entry in tl whose sender and
// text match msg with msg itself. It reports whether a temp entry was
// replaced; callers insert msg normally otherwise.
//
// Matching is by (sender, text) only: two identical messages sent in quick
// succession may each be matched to the other's echo.
func (s *Sender) Reconcile(tl *Timeline, msg Message) bool {
	if msg.SenderID != s.selfID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := tl.oldestTemp(s.selfID, msg.Text)
	if !ok {
		return false
	}
	return tl.Replace(id, msg)
}

func (s *Sender) kickConnect() {
	go func() {
		if err := s.conn.Connect(context.Background()); err != nil {
			s.logger.Debug().Err(err).Msg("background connect failed")
		}
	}()
}

func validateOutbound(out OutboundMessage) error {
	err := validate.Struct(out)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		switch {
		case fe.StructField() == "ChatroomID":
			return fmt.Errorf("%w: %d", ErrInvalidRoom, out.ChatroomID)
		case fe.Tag() == "required":
			return ErrEmptyMessage
		case fe.Tag() == "max":
			return ErrMessageTooLong
		}
	}
	return err
}

func parseRoomID(roomID string) (int64, error) {
	id, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRoom, roomID)
	}
	return id, nil
}
