package pawchat

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// ChangeListener is called with the full timeline, newest first, after
// every change.
type ChangeListener func([]Message)

// Conversation is one open chat screen: a room's timeline, its history
// cursor and its live subscription while focused.
type Conversation struct {
	sess   *Session
	tl     *Timeline
	pager  *Paginator
	logger zerolog.Logger

	mu      sync.Mutex
	roomID  string
	focused bool
	sub     *RoomSubscription
	info    *RoomInfo

	listenersMu  sync.Mutex
	listeners    map[int]ChangeListener
	nextListener int
}

func newConversation(s *Session, roomID string) *Conversation {
	tl := NewTimeline(roomID)
	return &Conversation{
		sess:      s,
		tl:        tl,
		pager:     NewPaginator(tl, s.history, s.marker, s.cfg.UserID, s.core...),
		logger:    s.logger.With().Str("component", "conversation").Logger(),
		roomID:    roomID,
		listeners: make(map[int]ChangeListener),
	}
}

// RoomID returns the room currently shown.
func (c *Conversation) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Messages returns the timeline, newest first.
func (c *Conversation) Messages() []Message {
	return c.tl.All()
}

// Cursor returns the history cursor.
func (c *Conversation) Cursor() Cursor {
	return c.pager.Cursor()
}

// OnChange registers l and returns a function that removes it.
func (c *Conversation) OnChange(l ChangeListener) (remove func()) {
	c.listenersMu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners[id] = l
	c.listenersMu.Unlock()
	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// Focus starts live delivery for the room. The subscription waits for the
// connection if it is not up yet.
func (c *Conversation) Focus() error {
	c.mu.Lock()
	if c.focused {
		c.mu.Unlock()
		return nil
	}
	c.focused = true
	roomID := c.roomID
	c.mu.Unlock()
	return c.subscribe(roomID)
}

// Unfocus stops live delivery. The shared connection stays up.
func (c *Conversation) Unfocus() {
	c.mu.Lock()
	c.focused = false
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	sub.Unsubscribe()
}

// SetRoom switches the conversation to roomID: the old subscription is
// released, the timeline and cursor start over, and the new room is
// subscribed if the conversation is focused.
func (c *Conversation) SetRoom(roomID string) error {
	if _, err := parseRoomID(roomID); err != nil {
		return err
	}
	c.mu.Lock()
	if roomID == c.roomID {
		c.mu.Unlock()
		return nil
	}
	sub := c.sub
	c.sub = nil
	c.roomID = roomID
	c.info = nil
	focused := c.focused
	c.tl.Reset(roomID)
	c.pager.Reset(roomID)
	c.mu.Unlock()

	sub.Unsubscribe()
	c.notify()
	if focused {
		return c.subscribe(roomID)
	}
	return nil
}

// LoadMore fetches the next older history page and returns the messages it
// added.
func (c *Conversation) LoadMore(ctx context.Context) (HistoryPage, error) {
	page, err := c.pager.FetchPage(ctx)
	if err != nil {
		return page, err
	}
	if len(page.Messages) > 0 {
		c.notify()
	}
	return page, nil
}

// Send publishes text and shows it optimistically. The room cannot change
// between the publish and the insert.
func (c *Conversation) Send(ctx context.Context, text string) (Message, error) {
	c.mu.Lock()
	msg, err := c.sess.sender.Send(ctx, c.tl, text)
	c.mu.Unlock()
	if err != nil {
		return msg, err
	}
	c.notify()
	return msg, nil
}

// Info returns the room's metadata, fetched once per room.
func (c *Conversation) Info(ctx context.Context) (*RoomInfo, error) {
	c.mu.Lock()
	if c.info != nil {
		info := c.info
		c.mu.Unlock()
		return info, nil
	}
	roomID := c.roomID
	c.mu.Unlock()

	info, err := c.sess.info.RoomInfo(ctx, roomID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.roomID == roomID {
		c.info = info
	}
	c.mu.Unlock()
	return info, nil
}

// Close unfocuses the conversation and detaches it from the session.
func (c *Conversation) Close() {
	c.Unfocus()
	c.sess.forget(c)
}

func (c *Conversation) subscribe(roomID string) error {
	sub, err := c.sess.subs.Subscribe(roomID, func(env Envelope) {
		c.receive(roomID, env)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	if !c.focused || c.roomID != roomID || c.sub != nil {
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

func (c *Conversation) receive(roomID string, env Envelope) {
	msg := c.sess.normalizer.Normalize(env)

	// Held so SetRoom cannot reset the timeline between the check and the
	// insert.
	c.mu.Lock()
	if strconv.FormatInt(env.ChatroomID, 10) != roomID || c.roomID != roomID {
		c.mu.Unlock()
		c.logger.Debug().Str("room", roomID).Int64("chatroom_id", env.ChatroomID).Msg("dropping envelope for another room")
		return
	}
	own := msg.SenderID == c.sess.cfg.UserID
	if !own || !c.sess.sender.Reconcile(c.tl, msg) {
		c.tl.Prepend([]Message{msg})
	}
	c.mu.Unlock()

	if !own {
		c.pager.markRead(msg)
	}
	c.notify()
}

func (c *Conversation) notify() {
	c.listenersMu.Lock()
	handlers := make([]ChangeListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		handlers = append(handlers, l)
	}
	c.listenersMu.Unlock()
	if len(handlers) == 0 {
		return
	}

	msgs := c.tl.All()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().Interface("panic", r).Msg("change listener panicked")
				}
			}()
			h(msgs)
		}()
	}
}
