// Package backend implements the chat.Backend interface against the
// school-management REST API.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/edusys/schoolchat/pkg/auth"
	"github.com/edusys/schoolchat/pkg/chat"
)

const defaultTimeout = 15 * time.Second

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. "https://api.example.com/api".
	BaseURL string
	// Tokens supplies the bearer credential for every call.
	Tokens auth.TokenSource
	// Timeout bounds each request. Defaults to 15s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client is a resty-backed implementation of chat.Backend. HTTP status
// codes are mapped onto the chat error taxonomy so callers never see
// transport details.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

var _ chat.Backend = (*Client)(nil)

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	hc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	hc.JSONMarshal = json.Marshal
	hc.JSONUnmarshal = json.Unmarshal
	hc.OnBeforeRequest(func(c *resty.Client, r *resty.Request) error {
		token, err := opts.Tokens.Token(r.Context())
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		r.SetAuthToken(token)
		return nil
	})

	return &Client{http: hc, logger: opts.Logger}
}

// apiError is the body shape the API uses for failures.
type apiError struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func (e *apiError) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error
}

// classify maps a completed response onto the chat error taxonomy. nil
// means success.
func classify(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var body apiError
	_ = json.Unmarshal(resp.Body(), &body)
	msg := body.message()
	if msg == "" {
		msg = resp.Status()
	}
	switch resp.StatusCode() {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", chat.ErrPermissionDenied, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", chat.ErrNotFound, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", chat.ErrValidation, msg)
	default:
		// 401 handling belongs to the session collaborator; from the
		// chat core's point of view it is just a failed call.
		return fmt.Errorf("%w: %s", chat.ErrNetwork, msg)
	}
}

// netErr wraps a transport-level failure.
func netErr(err error) error {
	return fmt.Errorf("%w: %v", chat.ErrNetwork, err)
}

// Rooms implements chat.Backend.
func (c *Client) Rooms(ctx context.Context) ([]chat.RawRoom, error) {
	var rooms []chat.RawRoom
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&rooms).
		Get("/chat/rooms/")
	if err != nil {
		return nil, netErr(err)
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return rooms, nil
}

// messagePage is the paginated list envelope.
type messagePage struct {
	Results []chat.RawMessage `json:"results"`
	Next    *string           `json:"next"`
}

// Messages implements chat.Backend.
func (c *Client) Messages(ctx context.Context, roomID string, page, pageSize int) (*chat.MessagePage, error) {
	var body messagePage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"chat_room": roomID,
			"page":      strconv.Itoa(page),
			"page_size": strconv.Itoa(pageSize),
		}).
		SetResult(&body).
		Get("/chat/messages/")
	if err != nil {
		return nil, netErr(err)
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return &chat.MessagePage{
		Results: body.Results,
		HasNext: body.Next != nil && *body.Next != "",
	}, nil
}

// Send implements chat.Backend.
func (c *Client) Send(ctx context.Context, in chat.SendInput) (*chat.RawMessage, error) {
	var msg chat.RawMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&msg).
		Post("/chat/messages/")
	if err != nil {
		return nil, netErr(err)
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Reply implements chat.Backend.
func (c *Client) Reply(ctx context.Context, roomID, replyToID, content string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"room_id":     roomID,
			"reply_to_id": replyToID,
			"content":     content,
		}).
		Post("/chat/messages/reply/")
	if err != nil {
		return netErr(err)
	}
	return classify(resp)
}

// Forward implements chat.Backend.
func (c *Client) Forward(ctx context.Context, messageID, targetRoomID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"message_id":     messageID,
			"target_room_id": targetRoomID,
		}).
		Post("/chat/messages/forward/")
	if err != nil {
		return netErr(err)
	}
	return classify(resp)
}

// Delete implements chat.Backend.
func (c *Client) Delete(ctx context.Context, messageID string, forEveryone bool) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"for_everyone": forEveryone}).
		Post(fmt.Sprintf("/chat/messages/%s/delete/", messageID))
	if err != nil {
		return netErr(err)
	}
	return classify(resp)
}

// DeleteMany implements chat.Backend.
func (c *Client) DeleteMany(ctx context.Context, messageIDs []string, forEveryone bool) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"message_ids":  messageIDs,
			"for_everyone": forEveryone,
		}).
		Post("/chat/messages/delete-selected/")
	if err != nil {
		return netErr(err)
	}
	return classify(resp)
}

// DeleteAll implements chat.Backend.
func (c *Client) DeleteAll(ctx context.Context, roomID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/chat/rooms/%s/delete-all/", roomID))
	if err != nil {
		return netErr(err)
	}
	return classify(resp)
}

// Upload implements chat.Backend. The multipart upload creates the message
// server-side; the response is a regular message record.
func (c *Client) Upload(ctx context.Context, in chat.UploadInput) (*chat.RawMessage, error) {
	var msg chat.RawMessage
	req := c.http.R().
		SetContext(ctx).
		SetFileReader("file", in.FileName, in.Body).
		SetFormData(map[string]string{"chat_room": in.RoomID}).
		SetResult(&msg)
	if in.Content != "" {
		req.SetFormData(map[string]string{"content": in.Content})
	}
	if in.ReplyToID != "" {
		req.SetFormData(map[string]string{"reply_to_id": in.ReplyToID})
	}
	resp, err := req.Post("/chat/upload/")
	if err != nil {
		return nil, netErr(err)
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DownloadAttachment implements chat.Backend. The response body is handed
// to the caller unread; closing it is the caller's responsibility.
func (c *Client) DownloadAttachment(ctx context.Context, messageID string) (*chat.Download, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(fmt.Sprintf("/chat/download/%s/", messageID))
	if err != nil {
		return nil, netErr(err)
	}
	if resp.StatusCode() != http.StatusOK {
		defer resp.RawBody().Close()
		switch resp.StatusCode() {
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", chat.ErrNotFound, resp.Status())
		case http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s", chat.ErrPermissionDenied, resp.Status())
		default:
			return nil, fmt.Errorf("%w: %s", chat.ErrNetwork, resp.Status())
		}
	}
	size, _ := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64)
	return &chat.Download{
		Body:        resp.RawBody(),
		ContentType: resp.Header().Get("Content-Type"),
		Size:        size,
	}, nil
}

// MarkRead implements chat.Backend.
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/chat/rooms/%s/read/", roomID))
	if err != nil {
		return netErr(err)
	}
	return classify(resp)
}
