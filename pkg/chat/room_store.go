package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RoomStore holds the viewer's room list: role-filtered, recency-sorted,
// refreshed by polling. Readers always observe a complete list; Refresh
// swaps the whole slice in one step and a failed refresh leaves the
// previous list untouched.
type RoomStore struct {
	backend Backend
	viewer  User
	logger  *slog.Logger

	mu          sync.RWMutex
	rooms       []Room
	refreshedAt time.Time
}

func NewRoomStore(backend Backend, viewer User, logger *slog.Logger) *RoomStore {
	return &RoomStore{
		backend: backend,
		viewer:  viewer,
		logger:  logger,
	}
}

// Viewer returns the user the store filters for.
func (s *RoomStore) Viewer() User { return s.viewer }

// Refresh fetches the room list, applies the visibility policy and the
// recency sort, and replaces the in-memory set atomically. On error the
// previous list stays intact; the error is retryable by the next poll.
func (s *RoomStore) Refresh(ctx context.Context) error {
	raw, err := s.backend.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("refresh rooms: %w", err)
	}

	rooms := make([]Room, 0, len(raw))
	for _, r := range raw {
		rooms = append(rooms, NormalizeRoom(r))
	}
	rooms = VisibleRooms(rooms, s.viewer)
	SortRooms(rooms)

	s.mu.Lock()
	s.rooms = rooms
	s.refreshedAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("room list refreshed", "rooms", len(rooms))
	return nil
}

// Rooms returns a snapshot of the current list in display order.
func (s *RoomStore) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// Room returns a copy of the room with the given id.
func (s *RoomStore) Room(id string) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.rooms {
		if s.rooms[i].ID == id {
			return s.rooms[i], true
		}
	}
	return Room{}, false
}

// RefreshedAt returns the time of the last successful refresh, zero if the
// list has never loaded.
func (s *RoomStore) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

// TouchLastMessage records a just-sent message as the room's latest and
// re-sorts, so the list reorders immediately instead of on the next poll.
func (s *RoomStore) TouchLastMessage(roomID, content string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rooms {
		if s.rooms[i].ID != roomID {
			continue
		}
		s.rooms[i].LastMessage = &LastMessage{Content: content, SentAt: at}
		SortRooms(s.rooms)
		return
	}
}

// ClearUnread zeroes a room's unread count locally. Used after a mark-read
// call so the badge clears without waiting for the next poll.
func (s *RoomStore) ClearUnread(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			s.rooms[i].UnreadCount = 0
			return
		}
	}
}
