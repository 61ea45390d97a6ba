package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edusys/schoolchat/pkg/chat"
)

// SQLiteHistoryStore is the SQLite implementation of chat.History.
type SQLiteHistoryStore struct {
	db *sql.DB
}

var _ chat.History = (*SQLiteHistoryStore)(nil)

func NewSQLiteHistoryStore(db *sql.DB) *SQLiteHistoryStore {
	return &SQLiteHistoryStore{db: db}
}

// ReplaceRoom swaps the cached history of a room for the given list in one
// transaction, mirroring the in-memory store's atomic replace.
func (s *SQLiteHistoryStore) ReplaceRoom(ctx context.Context, roomID string, msgs []chat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE room_id = @room_id`,
		sql.Named("room_id", roomID)); err != nil {
		return fmt.Errorf("ExecContext(delete room): %w", err)
	}

	query := `INSERT INTO messages (
			id, room_id, content, sender_id, sender_name, sent_at,
			reply_to_id, reply_to_content, reply_to_sender,
			forwarded_from_id, forwarded_from_content, forwarded_from_sender, forwarded_from_room,
			attachment_id, attachment_name, attachment_size, attachment_type, attachment_ref)
		VALUES (
			@id, @room_id, @content, @sender_id, @sender_name, @sent_at,
			@reply_to_id, @reply_to_content, @reply_to_sender,
			@forwarded_from_id, @forwarded_from_content, @forwarded_from_sender, @forwarded_from_room,
			@attachment_id, @attachment_name, @attachment_size, @attachment_type, @attachment_ref)
		ON CONFLICT DO NOTHING`

	for _, m := range msgs {
		if m.Pending {
			// Unconfirmed entries never hit the cache.
			continue
		}
		args := []any{
			sql.Named("id", m.ID),
			sql.Named("room_id", roomID),
			sql.Named("content", m.Content),
			sql.Named("sender_id", m.SenderID),
			sql.Named("sender_name", m.SenderName),
			sql.Named("sent_at", m.SentAt),
		}
		args = append(args, refArgs("reply_to", m.ReplyTo)...)
		args = append(args, forwardArgs(m.ForwardedFrom)...)
		args = append(args, attachmentArgs(m.Attachment)...)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("ExecContext(insert message): %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

// RoomMessages returns the cached history of a room ascending by sent time.
func (s *SQLiteHistoryStore) RoomMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	query := `SELECT id, content, sender_id, sender_name, sent_at,
			reply_to_id, reply_to_content, reply_to_sender,
			forwarded_from_id, forwarded_from_content, forwarded_from_sender, forwarded_from_room,
			attachment_id, attachment_name, attachment_size, attachment_type, attachment_ref
		FROM messages WHERE room_id = @room_id ORDER BY sent_at, id`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var replyID, replyContent, replySender sql.NullString
		var fwdID, fwdContent, fwdSender, fwdRoom sql.NullString
		var attID, attName, attType, attRef sql.NullString
		var attSize sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Content, &m.SenderID, &m.SenderName, &m.SentAt,
			&replyID, &replyContent, &replySender,
			&fwdID, &fwdContent, &fwdSender, &fwdRoom,
			&attID, &attName, &attSize, &attType, &attRef); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		m.RoomID = roomID
		if replyID.Valid {
			m.ReplyTo = &chat.MessageRef{
				ID:         replyID.String,
				Content:    replyContent.String,
				SenderName: replySender.String,
			}
		}
		if fwdID.Valid {
			m.ForwardedFrom = &chat.MessageRef{
				ID:         fwdID.String,
				Content:    fwdContent.String,
				SenderName: fwdSender.String,
				RoomName:   fwdRoom.String,
			}
		}
		if attID.Valid {
			m.Attachment = &chat.Attachment{
				ID:          attID.String,
				Name:        attName.String,
				Size:        attSize.Int64,
				ContentType: attType.String,
				DownloadRef: attRef.String,
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return msgs, nil
}

// Remove deletes the given messages from a room's cached history.
func (s *SQLiteHistoryStore) Remove(ctx context.Context, roomID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()
	for _, id := range messageIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE room_id = @room_id AND id = @id`,
			sql.Named("room_id", roomID), sql.Named("id", id)); err != nil {
			return fmt.Errorf("ExecContext: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

// ClearRoom drops a room's cached history.
func (s *SQLiteHistoryStore) ClearRoom(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE room_id = @room_id`,
		sql.Named("room_id", roomID)); err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	return nil
}

func refArgs(prefix string, ref *chat.MessageRef) []any {
	if ref == nil {
		return []any{
			sql.Named(prefix+"_id", nil),
			sql.Named(prefix+"_content", nil),
			sql.Named(prefix+"_sender", nil),
		}
	}
	return []any{
		sql.Named(prefix+"_id", ref.ID),
		sql.Named(prefix+"_content", ref.Content),
		sql.Named(prefix+"_sender", ref.SenderName),
	}
}

func forwardArgs(ref *chat.MessageRef) []any {
	args := refArgs("forwarded_from", ref)
	if ref == nil {
		return append(args, sql.Named("forwarded_from_room", nil))
	}
	return append(args, sql.Named("forwarded_from_room", ref.RoomName))
}

func attachmentArgs(a *chat.Attachment) []any {
	if a == nil {
		return []any{
			sql.Named("attachment_id", nil),
			sql.Named("attachment_name", nil),
			sql.Named("attachment_size", nil),
			sql.Named("attachment_type", nil),
			sql.Named("attachment_ref", nil),
		}
	}
	return []any{
		sql.Named("attachment_id", a.ID),
		sql.Named("attachment_name", a.Name),
		sql.Named("attachment_size", a.Size),
		sql.Named("attachment_type", a.ContentType),
		sql.Named("attachment_ref", a.DownloadRef),
	}
}
