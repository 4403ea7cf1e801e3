package pawchat

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// ============================================================================
// Messages
// ============================================================================

// MessageKind identifies the payload of a message. Only text is produced.
type MessageKind string

const (
	KindText MessageKind = "text"
)

// TempIDPrefix marks ids generated locally for optimistic sends.
const TempIDPrefix = "temp_"

// Message is the canonical representation of a chat message in a Timeline.
type Message struct {
	ID       string      `json:"id"`
	Text     string      `json:"text"`
	SenderID int64       `json:"senderId"`
	Time     time.Time   `json:"time"`
	Read     bool        `json:"read"`
	Kind     MessageKind `json:"kind"`
}

// IsTemp reports whether m is an optimistic entry awaiting its server echo.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// ============================================================================
// Wire Types
// ============================================================================

// WireTime is the [year, month, day, hour, minute, second(, nanos)] array the
// server uses for timestamps. Decoding never fails: anything that is not an
// array of whole numbers decodes to an empty WireTime.
type WireTime []int

func (w *WireTime) UnmarshalJSON(data []byte) error {
	*w = nil
	var raw []json.RawMessage
	if json.Unmarshal(data, &raw) != nil || raw == nil {
		return nil
	}
	out := make(WireTime, 0, len(raw))
	for _, r := range raw {
		var f float64
		if json.Unmarshal(r, &f) != nil || f != math.Trunc(f) {
			return nil
		}
		out = append(out, int(f))
	}
	*w = out
	return nil
}

// Envelope is a message pushed by the server on a room subscription, and the
// element type of history pages.
type Envelope struct {
	ChatroomID int64    `json:"chatroomId"`
	MessageID  int64    `json:"messageId"`
	SenderID   int64    `json:"senderId"`
	Content    string   `json:"content"`
	CreatedAt  WireTime `json:"createdAt"`
	Read       bool     `json:"read"`
}

// Outbound envelope types.
const (
	TypeMessage = "MESSAGE"
	TypeAuth    = "AUTH"
)

// OutboundMessage is published for every user-authored message. All rooms
// share one publish destination; ChatroomID disambiguates.
type OutboundMessage struct {
	Type       string `json:"type"`
	ChatroomID int64  `json:"chatroomId" validate:"gt=0"`
	Content    string `json:"content" validate:"required,max=1000"`
}

// AuthMessage is published once after every successful handshake.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ============================================================================
// REST Types
// ============================================================================

// HistoryPage is one page of past messages, newest first.
type HistoryPage struct {
	Messages []Message `json:"messages"`
	HasNext  bool      `json:"hasNext"`
}

// historyResponse is the wire form of a history page.
type historyResponse struct {
	Messages []Envelope `json:"messages"`
	HasNext  *bool      `json:"hasNext"`
}

// RoomInfo describes the post and partner behind a chat room.
type RoomInfo struct {
	ChatroomID      int64  `json:"chatroomId"`
	PostID          int64  `json:"postId"`
	PostTitle       string `json:"postTitle"`
	PostType        string `json:"postType,omitempty"` // "LOST" or "FOUND"
	PartnerID       int64  `json:"partnerId"`
	PartnerNickname string `json:"partnerNickname"`
	PartnerImageURL string `json:"partnerImageUrl,omitempty"`
}
