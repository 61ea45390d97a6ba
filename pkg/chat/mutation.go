package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// localIDPrefix marks optimistic ids so they can never collide with
// server-assigned ones.
const localIDPrefix = "local-"

// MutationService executes message mutations against the backend and folds
// the results into the stores. Send and Upload are optimistic: the local
// entry appears immediately and is reconciled with the canonical server
// record, or marked failed with retry/discard offered. Every other mutation
// changes local state only after the server acknowledges.
type MutationService struct {
	backend Backend
	msgs    *MessageStore
	rooms   *RoomStore
	viewer  User
	logger  *slog.Logger
}

func NewMutationService(backend Backend, msgs *MessageStore, rooms *RoomStore, viewer User, logger *slog.Logger) *MutationService {
	return &MutationService{
		backend: backend,
		msgs:    msgs,
		rooms:   rooms,
		viewer:  viewer,
		logger:  logger,
	}
}

// Send posts a text message to the room. The optimistic entry is inserted
// before the call and reconciled with the server record on success. On
// failure the entry is kept, flagged failed; use Retry or Discard on it.
func (s *MutationService) Send(ctx context.Context, roomID, content, replyToID string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, fmt.Errorf("%w: empty message", ErrValidation)
	}

	local := Message{
		ID:         localIDPrefix + uuid.NewString(),
		RoomID:     roomID,
		Content:    content,
		SenderID:   s.viewer.ID,
		SenderName: s.viewer.Name,
		SentAt:     time.Now(),
		Pending:    true,
	}
	if replyToID != "" {
		if target, ok := s.msgs.Message(replyToID); ok {
			local.ReplyTo = &MessageRef{
				ID:         target.ID,
				Content:    target.Content,
				SenderName: target.SenderName,
			}
		}
	}
	s.msgs.AppendOptimistic(local)

	raw, err := s.backend.Send(ctx, SendInput{
		RoomID:    roomID,
		Content:   content,
		ReplyToID: replyToID,
	})
	if err != nil {
		s.msgs.MarkFailed(local.ID)
		s.logger.Warn("send failed", "room", roomID, "error", err)
		return local, fmt.Errorf("send message: %w", err)
	}

	canonical := s.asOwn(Normalize(*raw))
	if canonical.RoomID == "" {
		canonical.RoomID = roomID
	}
	s.msgs.Reconcile(local.ID, canonical)
	s.rooms.TouchLastMessage(roomID, canonical.Content, canonical.SentAt)
	return canonical, nil
}

// Retry re-sends a failed optimistic entry. The old entry is removed and
// the send runs from scratch, producing a fresh optimistic entry.
func (s *MutationService) Retry(ctx context.Context, localID string) (Message, error) {
	m, ok := s.msgs.Message(localID)
	if !ok {
		return Message{}, ErrUnknownMessage
	}
	if !m.Failed {
		return Message{}, fmt.Errorf("%w: message is not failed", ErrValidation)
	}
	s.msgs.Take(localID)
	replyToID := ""
	if m.ReplyTo != nil {
		replyToID = m.ReplyTo.ID
	}
	return s.Send(ctx, m.RoomID, m.Content, replyToID)
}

// Discard drops a failed optimistic entry without sending it.
func (s *MutationService) Discard(localID string) error {
	m, ok := s.msgs.Message(localID)
	if !ok {
		return ErrUnknownMessage
	}
	if !m.Failed {
		return fmt.Errorf("%w: message is not failed", ErrValidation)
	}
	s.msgs.Take(localID)
	return nil
}

// Reply creates a reply server-side and reloads the room. Replies are not
// rendered optimistically; the reload delivers the canonical record.
func (s *MutationService) Reply(ctx context.Context, roomID, replyToID, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}
	if err := s.backend.Reply(ctx, roomID, replyToID, content); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	if err := s.msgs.LoadAll(ctx, roomID); err != nil && !errors.Is(err, ErrSuperseded) {
		return err
	}
	return nil
}

// Forward copies a message into the target room, then reloads the source
// room. The target room is deliberately not refreshed; a viewer with it
// open sees the copy on their own next load.
func (s *MutationService) Forward(ctx context.Context, messageID, targetRoomID string) error {
	if err := s.backend.Forward(ctx, messageID, targetRoomID); err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	if m, ok := s.msgs.Message(messageID); ok && s.msgs.RoomID() == m.RoomID {
		if err := s.msgs.Reload(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
			return err
		}
	}
	return nil
}

// Delete removes one message. With forEveryone the server checks authorship
// and the removal propagates to every participant; without it only this
// user's view changes. Local removal happens only after the server
// acknowledges.
func (s *MutationService) Delete(ctx context.Context, messageID string, forEveryone bool) error {
	if err := s.backend.Delete(ctx, messageID, forEveryone); err != nil {
		return s.deleteErr(ctx, err)
	}
	s.msgs.RemoveLocal(ctx, messageID)
	return nil
}

// DeleteSelected is the bulk form of Delete with the same
// confirmation-before-removal discipline.
func (s *MutationService) DeleteSelected(ctx context.Context, messageIDs []string, forEveryone bool) error {
	if len(messageIDs) == 0 {
		return fmt.Errorf("%w: no messages selected", ErrValidation)
	}
	if err := s.backend.DeleteMany(ctx, messageIDs, forEveryone); err != nil {
		return s.deleteErr(ctx, err)
	}
	s.msgs.RemoveLocal(ctx, messageIDs...)
	return nil
}

// DeleteAll clears the room's history server-side, then locally.
func (s *MutationService) DeleteAll(ctx context.Context, roomID string) error {
	if err := s.backend.DeleteAll(ctx, roomID); err != nil {
		return s.deleteErr(ctx, err)
	}
	if s.msgs.RoomID() == roomID {
		s.msgs.Clear(ctx)
	}
	return nil
}

// deleteErr handles a failed delete. A stale reference means the local list
// has drifted from the server, so a full reload is forced before the error
// is surfaced.
func (s *MutationService) deleteErr(ctx context.Context, err error) error {
	if errors.Is(err, ErrNotFound) {
		if rerr := s.msgs.Reload(ctx); rerr != nil && !errors.Is(rerr, ErrSuperseded) {
			s.logger.Warn("reload after stale delete failed", "error", rerr)
		}
	}
	return fmt.Errorf("delete: %w", err)
}

// Upload sends a file. The upload call itself creates the message
// server-side; the returned record carries the attachment reference and is
// normalized exactly like any other message. Content may be empty: the
// attachment satisfies the non-empty rule.
func (s *MutationService) Upload(ctx context.Context, in UploadInput) (Message, error) {
	if in.FileName == "" || in.Body == nil {
		return Message{}, fmt.Errorf("%w: no file", ErrValidation)
	}

	local := Message{
		ID:         localIDPrefix + uuid.NewString(),
		RoomID:     in.RoomID,
		Content:    in.Content,
		SenderID:   s.viewer.ID,
		SenderName: s.viewer.Name,
		SentAt:     time.Now(),
		Pending:    true,
		Attachment: &Attachment{Name: in.FileName},
	}
	s.msgs.AppendOptimistic(local)

	raw, err := s.backend.Upload(ctx, in)
	if err != nil {
		s.msgs.MarkFailed(local.ID)
		s.logger.Warn("upload failed", "room", in.RoomID, "error", err)
		return local, fmt.Errorf("upload: %w", err)
	}

	canonical := s.asOwn(Normalize(*raw))
	if canonical.RoomID == "" {
		canonical.RoomID = in.RoomID
	}
	s.msgs.Reconcile(local.ID, canonical)

	summary := canonical.Content
	if summary == "" && canonical.Attachment != nil {
		summary = canonical.Attachment.Name
	}
	s.rooms.TouchLastMessage(in.RoomID, summary, canonical.SentAt)
	return canonical, nil
}

// Download redeems a message's attachment reference. Failures never touch
// the message list.
func (s *MutationService) Download(ctx context.Context, messageID string) (*Download, error) {
	d, err := s.backend.DownloadAttachment(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	return d, nil
}

// asOwn fills sender gaps in a record we know we authored. Send and upload
// responses sometimes omit sender details entirely.
func (s *MutationService) asOwn(m Message) Message {
	if m.SenderID == "" {
		m.SenderID = s.viewer.ID
	}
	if m.SenderName == "" || m.SenderName == "Unknown" {
		m.SenderName = s.viewer.Name
	}
	return m
}
