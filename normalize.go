package pawchat

import (
	"strconv"
	"time"
)

// Normalizer converts wire envelopes into Messages.
//
// Wire timestamps carry no zone; they are read in Location (UTC when nil)
// and returned in UTC. Now supplies the receipt time used when a timestamp
// is missing or malformed (time.Now when nil).
type Normalizer struct {
	Location *time.Location
	Now      func() time.Time
}

// Normalize maps env onto a Message. It never fails and has no side effects.
func (n Normalizer) Normalize(env Envelope) Message {
	return Message{
		ID:       strconv.FormatInt(env.MessageID, 10),
		Text:     env.Content,
		SenderID: env.SenderID,
		Time:     n.parseTime(env.CreatedAt),
		Read:     env.Read,
		Kind:     KindText,
	}
}

// NormalizeAll normalizes a page of envelopes, keeping their order.
func (n Normalizer) NormalizeAll(envs []Envelope) []Message {
	out := make([]Message, len(envs))
	for i, env := range envs {
		out[i] = n.Normalize(env)
	}
	return out
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now().UTC()
	}
	return time.Now().UTC()
}

func (n Normalizer) parseTime(w WireTime) time.Time {
	if len(w) < 6 {
		return n.now()
	}
	year, month, day, hour, min, sec := w[0], w[1], w[2], w[3], w[4], w[5]
	if month < 1 || month > 12 || day < 1 || hour < 0 || hour > 23 ||
		min < 0 || min > 59 || sec < 0 || sec > 59 {
		return n.now()
	}
	nanos := 0
	if len(w) > 6 && w[6] >= 0 && w[6] < int(time.Second) {
		nanos = w[6]
	}
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	t := time.Date(year, time.Month(month), day, hour, min, sec, nanos, loc)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); treat that as malformed.
	if t.Day() != day {
		return n.now()
	}
	return t.UTC()
}
