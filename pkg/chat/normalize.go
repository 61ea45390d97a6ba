package chat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// rawSender is the shape of an object-valued sender field. Some surfaces
// inline the sender this way instead of using sender_info.
type rawSender struct {
	ID        FlexID `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Normalize converts a server message payload from any endpoint into the
// canonical client record. It never fails: missing fields degrade to zero
// values and the sender label falls back to "Unknown".
func Normalize(raw RawMessage) Message {
	id, name := resolveSender(raw)
	m := Message{
		ID:         raw.ID.String(),
		RoomID:     raw.RoomID.String(),
		Content:    raw.Content,
		SenderID:   id,
		SenderName: name,
		SentAt:     raw.CreatedAt,
	}
	if raw.ReplyTo != nil {
		m.ReplyTo = &MessageRef{
			ID:         raw.ReplyTo.ID.String(),
			Content:    raw.ReplyTo.Content,
			SenderName: raw.ReplyTo.SenderName,
		}
	}
	if raw.ForwardedFrom != nil {
		m.ForwardedFrom = &MessageRef{
			ID:         raw.ForwardedFrom.ID.String(),
			Content:    raw.ForwardedFrom.Content,
			SenderName: raw.ForwardedFrom.SenderName,
			RoomName:   raw.ForwardedFrom.RoomName,
		}
	}
	if raw.Attachment != nil {
		m.Attachment = &Attachment{
			ID:          raw.Attachment.ID.String(),
			Name:        raw.Attachment.Name,
			Size:        raw.Attachment.Size,
			ContentType: raw.Attachment.ContentType,
			DownloadRef: raw.Attachment.DownloadURL,
		}
	}
	return m
}

// resolveSender resolves the sender id and display name from whichever
// subset of sender fields the payload carries. The name fallback chain is
// load-bearing: the list, send and upload endpoints each populate different
// fields, and every path must end in a non-empty deterministic label.
func resolveSender(raw RawMessage) (id, name string) {
	var embedded rawSender
	var scalar string
	if len(raw.Sender) > 0 && string(raw.Sender) != "null" {
		if raw.Sender[0] == '{' {
			// Tolerated to fail; the chain below covers the gaps.
			_ = json.Unmarshal(raw.Sender, &embedded)
		} else {
			var f FlexID
			if err := json.Unmarshal(raw.Sender, &f); err == nil {
				scalar = f.String()
			}
		}
	}

	info := raw.SenderInfo
	if info == nil {
		info = &RawSenderInfo{
			ID:        embedded.ID,
			FirstName: embedded.FirstName,
			LastName:  embedded.LastName,
			Username:  embedded.Username,
		}
	}

	id = info.ID.String()
	if id == "" {
		id = scalar
	}

	switch {
	case raw.SenderName != "":
		name = raw.SenderName
	case embedded.Name != "":
		name = embedded.Name
	case strings.TrimSpace(info.FirstName+info.LastName) != "":
		name = strings.TrimSpace(strings.TrimSpace(info.FirstName) + " " + strings.TrimSpace(info.LastName))
	case info.Username != "":
		name = info.Username
	case isNumeric(scalar):
		name = fmt.Sprintf("User %s", scalar)
	case scalar != "":
		name = scalar
	default:
		name = "Unknown"
	}
	return id, name
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// NormalizeRoom converts a room payload into the client record. Unknown
// room types are carried through verbatim; the visibility policy decides
// what to do with them.
func NormalizeRoom(raw RawRoom) Room {
	room := Room{
		ID:          raw.ID.String(),
		Name:        raw.Name,
		Type:        RoomType(raw.Type),
		UnreadCount: raw.UnreadCount,
		Active:      raw.IsActive,
	}
	if raw.UnreadCount < 0 {
		room.UnreadCount = 0
	}
	if raw.LastMessage != nil {
		room.LastMessage = &LastMessage{
			Content: raw.LastMessage.Content,
			SentAt:  raw.LastMessage.Timestamp,
		}
	}
	room.Participants = make([]Participant, 0, len(raw.Participants))
	for _, p := range raw.Participants {
		room.Participants = append(room.Participants, Participant{
			ID:   p.ID.String(),
			Name: p.Name,
			Role: Role(p.Role),
		})
	}
	return room
}
