package pawchat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const readReceiptTimeout = 10 * time.Second

// Cursor tracks pagination progress for one room. Page is zero based.
type Cursor struct {
	Page     int
	HasNext  bool
	PageSize int
}

// HistoryFetcher loads one page of a room's history, newest first.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, roomID string, page, size int) (HistoryPage, error)
}

// ReadMarker acknowledges a message as read by the current user.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// Paginator pages a room's history into its Timeline. Calls are serialized:
// a FetchPage made while another is in flight returns at once with an empty
// page.
type Paginator struct {
	fetcher HistoryFetcher
	marker  ReadMarker
	selfID  int64
	tl      *Timeline
	logger  zerolog.Logger
	metrics *Metrics

	mu       sync.Mutex
	roomID   string
	cursor   Cursor
	gen      uint64 // bumped by Reset
	inFlight bool

	receipts sync.WaitGroup
}

// NewPaginator returns a paginator filling tl. marker may be nil, in which
// case no read receipts are sent.
func NewPaginator(tl *Timeline, fetcher HistoryFetcher, marker ReadMarker, selfID int64, opts ...Option) *Paginator {
	o := newOptions(opts)
	return &Paginator{
		fetcher: fetcher,
		marker:  marker,
		selfID:  selfID,
		tl:      tl,
		logger:  o.logger.With().Str("component", "paginator").Logger(),
		metrics: o.metrics,
		roomID:  tl.RoomID(),
		cursor:  Cursor{HasNext: true, PageSize: o.pageSize},
	}
}

// Cursor returns the current cursor.
func (p *Paginator) Cursor() Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// FetchPage loads the page under the cursor, appends the messages not yet
// in the timeline to its oldest end and advances the cursor. The returned
// page holds only those new messages.
//
// Once the history is exhausted it returns an empty page with HasNext false
// and makes no request. A page that arrives after Reset is dropped and the
// new room's HasNext is returned. On error the cursor is left as it was, so calling
// again retries the same page.
func (p *Paginator) FetchPage(ctx context.Context) (HistoryPage, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return HistoryPage{HasNext: true}, nil
	}
	if !p.cursor.HasNext {
		p.mu.Unlock()
		return HistoryPage{}, nil
	}
	p.inFlight = true
	gen := p.gen
	roomID := p.roomID
	cur := p.cursor
	p.mu.Unlock()

	page, err := p.fetcher.FetchHistory(ctx, roomID, cur.Page, cur.PageSize)

	p.mu.Lock()
	if gen != p.gen {
		// The cursor now belongs to the new room.
		hasNext := p.cursor.HasNext
		p.mu.Unlock()
		p.metrics.historyPage("discarded")
		p.logger.Debug().Str("room", roomID).Int("page", cur.Page).Msg("discarding page for previous room")
		return HistoryPage{HasNext: hasNext}, nil
	}
	p.inFlight = false
	if err != nil {
		p.mu.Unlock()
		p.metrics.historyPage("error")
		p.logger.Warn().Err(err).Str("room", roomID).Int("page", cur.Page).Msg("history fetch failed")
		return HistoryPage{HasNext: cur.HasNext}, err
	}

	fresh := MergeOlder(p.tl.IDs(), page.Messages)
	p.tl.AppendOlder(fresh)
	p.cursor.Page++
	if !page.HasNext || len(page.Messages) < cur.PageSize {
		p.cursor.HasNext = false
	}
	hasNext := p.cursor.HasNext
	p.mu.Unlock()

	p.metrics.historyPage("ok")
	p.logger.Debug().
		Str("room", roomID).
		Int("page", cur.Page).
		Int("fetched", len(page.Messages)).
		Int("new", len(fresh)).
		Bool("has_next", hasNext).
		Msg("history page")

	p.acknowledge(fresh)
	return HistoryPage{Messages: fresh, HasNext: hasNext}, nil
}

// Reset points the paginator at roomID with a fresh cursor. A fetch still in
// flight for the previous room is discarded when it completes.
func (p *Paginator) Reset(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.roomID = roomID
	p.inFlight = false
	p.cursor = Cursor{HasNext: true, PageSize: p.cursor.PageSize}
}

// Wait blocks until every read receipt started so far has finished.
func (p *Paginator) Wait() {
	p.receipts.Wait()
}

func (p *Paginator) acknowledge(msgs []Message) {
	for _, m := range msgs {
		p.markRead(m)
	}
}

// markRead acknowledges m in the background when it is an unread message
// from someone else.
func (p *Paginator) markRead(m Message) {
	if p.marker == nil || m.Read || m.SenderID == p.selfID || m.IsTemp() {
		return
	}
	p.receipts.Add(1)
	go func() {
		defer p.receipts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), readReceiptTimeout)
		defer cancel()
		if err := p.marker.MarkRead(ctx, m.ID); err != nil {
			p.metrics.readReceipt("error")
			p.logger.Warn().Err(err).Str("message_id", m.ID).Msg("mark read failed")
			return
		}
		p.metrics.readReceipt("ok")
	}()
}

// MergeOlder filters page down to the messages whose ids are not in
// existing, keeping page order. Ids repeated within page are kept once.
func MergeOlder(existing map[string]struct{}, page []Message) []Message {
	seen := make(map[string]struct{}, len(page))
	out := make([]Message, 0, len(page))
	for _, m := range page {
		if _, ok := existing[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
