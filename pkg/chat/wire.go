package chat

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// FlexID is an identifier that the backend serializes sometimes as a JSON
// number and sometimes as a string, depending on the endpoint. It always
// decodes to its string form.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(f), 10, 64); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(f))
}

func (f FlexID) String() string { return string(f) }

// RawParticipant is a room member as it appears in participants_info.
type RawParticipant struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// RawLastMessage is the last-message summary attached to a room.
type RawLastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RawRoom is a room as returned by GET /chat/rooms/.
type RawRoom struct {
	ID           FlexID           `json:"id"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	Participants []RawParticipant `json:"participants_info"`
	LastMessage  *RawLastMessage  `json:"last_message"`
	UnreadCount  int              `json:"unread_count"`
	IsActive     bool             `json:"is_active"`
}

// RawSenderInfo is the expanded sender object some endpoints include.
type RawSenderInfo struct {
	ID        FlexID `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// RawRef is the snapshot of a replied-to or forwarded message.
type RawRef struct {
	ID         FlexID `json:"id"`
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
	RoomName   string `json:"room_name,omitempty"`
}

// RawAttachment is the attachment block of an upload-created message.
type RawAttachment struct {
	ID          FlexID `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	DownloadURL string `json:"download_url"`
}

// RawMessage is a message payload as produced by any of the backend's
// surfaces. The sender fields are heterogeneous: the list endpoint includes
// sender_info, the send response only a numeric sender, the upload response
// sender_name. The normalizer resolves them into one canonical record.
type RawMessage struct {
	ID            FlexID          `json:"id"`
	RoomID        FlexID          `json:"chat_room"`
	Content       string          `json:"content"`
	Sender        json.RawMessage `json:"sender,omitempty"`
	SenderName    string          `json:"sender_name,omitempty"`
	SenderInfo    *RawSenderInfo  `json:"sender_info,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ReplyTo       *RawRef         `json:"reply_to,omitempty"`
	ForwardedFrom *RawRef         `json:"forwarded_from,omitempty"`
	Attachment    *RawAttachment  `json:"attachment,omitempty"`
}

// MessagePage is one page of a room's history. HasNext drives the full
// pagination walk in MessageStore.LoadAll.
type MessagePage struct {
	Results []RawMessage
	HasNext bool
}

// SendInput is the payload of POST /chat/messages/.
type SendInput struct {
	RoomID    string `json:"chat_room" validate:"required"`
	Content   string `json:"content" validate:"required"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// UploadInput carries a file upload. The upload call itself creates the
// message server-side; there is no separate send.
type UploadInput struct {
	RoomID    string `validate:"required"`
	FileName  string `validate:"required"`
	Content   string
	ReplyToID string
	Body      io.Reader `validate:"required"`
}

// Download is the result of redeeming an attachment's download reference.
// The caller owns Body and must close it.
type Download struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Backend is the REST surface the chat core consumes. Implementations map
// transport and HTTP-status failures onto the package's error taxonomy
// (ErrNetwork, ErrPermissionDenied, ErrNotFound).
type Backend interface {
	// Rooms returns every room the server grants the caller. Visibility
	// filtering happens client-side in the RoomStore.
	Rooms(ctx context.Context) ([]RawRoom, error)

	// Messages returns one page of a room's history, oldest page first.
	Messages(ctx context.Context, roomID string, page, pageSize int) (*MessagePage, error)

	// Send creates a message and returns the canonical server record.
	Send(ctx context.Context, in SendInput) (*RawMessage, error)

	// Reply creates a reply server-side. The created record is not
	// returned; callers reload the room.
	Reply(ctx context.Context, roomID, replyToID, content string) error

	// Forward copies a message into the target room.
	Forward(ctx context.Context, messageID, targetRoomID string) error

	// Delete removes one message. With forEveryone the server enforces
	// authorship; without it the removal is personal.
	Delete(ctx context.Context, messageID string, forEveryone bool) error

	// DeleteMany removes a batch of messages.
	DeleteMany(ctx context.Context, messageIDs []string, forEveryone bool) error

	// DeleteAll clears a room's history.
	DeleteAll(ctx context.Context, roomID string) error

	// Upload creates a file message and returns the canonical record,
	// attachment reference included.
	Upload(ctx context.Context, in UploadInput) (*RawMessage, error)

	// DownloadAttachment redeems a message's download reference.
	DownloadAttachment(ctx context.Context, messageID string) (*Download, error)

	// MarkRead clears the caller's unread count for the room.
	MarkRead(ctx context.Context, roomID string) error
}
