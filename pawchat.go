// Package pawchat is the client core of the pet-finder chat: one shared bus
// connection, per-room subscriptions, paged history, optimistic sends and a
// de-duplicated timeline per room.
//
// Example:
//
//	sess, _ := pawchat.NewSession(pawchat.Config{
//		BaseURL:      "https://api.pawtrail.app",
//		WebSocketURL: "wss://api.pawtrail.app/ws",
//		UserID:       42,
//	}, pawchat.WithTokenSource(pawchat.StaticToken(token)))
//	_ = sess.Start(ctx)
//	defer sess.Close()
//
//	conv, _ := sess.Open("17")
//	conv.Focus()
//	_, _ = conv.LoadMore(ctx)
//	_, _ = conv.Send(ctx, "Is that my dog?")
package pawchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client calls the REST endpoints the chat core depends on: history pages,
// read acknowledgements and room metadata.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     zerolog.Logger
	normalizer Normalizer
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithNormalizer controls how history timestamps are interpreted.
func WithNormalizer(n Normalizer) ClientOption {
	return func(c *Client) { c.normalizer = n }
}

// NewClient creates a REST client authenticating with tokens.
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	reqID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Str("request_id", reqID).
		Int("status", resp.StatusCode).
		Msg("api call")

	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func newAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Chat Room API Methods
// ============================================================================

// FetchHistory returns page (zero based) of roomID's history, newest first.
// When the server omits hasNext it is inferred from the page being full.
func (c *Client) FetchHistory(ctx context.Context, roomID string, page, size int) (HistoryPage, error) {
	if _, err := parseRoomID(roomID); err != nil {
		return HistoryPage{}, err
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	data, err := c.doRequest(ctx, http.MethodGet, "/api/chatrooms/"+roomID+"/messages", nil, q)
	if err != nil {
		return HistoryPage{}, err
	}
	resp, err := decodeJSON[historyResponse](data)
	if err != nil {
		return HistoryPage{}, err
	}

	hasNext := len(resp.Messages) >= size
	if resp.HasNext != nil {
		hasNext = *resp.HasNext
	}
	return HistoryPage{
		Messages: c.normalizer.NormalizeAll(resp.Messages),
		HasNext:  hasNext,
	}, nil
}

// MarkRead acknowledges messageID as read by the current user.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, http.MethodPatch, "/api/chatrooms/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
	return err
}

// RoomInfo returns the post and partner behind roomID.
func (c *Client) RoomInfo(ctx context.Context, roomID string) (*RoomInfo, error) {
	if _, err := parseRoomID(roomID); err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/api/chatrooms/"+roomID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[RoomInfo](data)
}
