package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// LoadState is the lifecycle of the selected room's message list.
type LoadState int

const (
	// LoadIdle means no room is selected.
	LoadIdle LoadState = iota
	// LoadLoading means a history fetch for the selected room is in flight.
	LoadLoading
	// LoadLoaded means the full history of the selected room is in memory.
	LoadLoaded
	// LoadError means the last fetch for the selected room failed. The
	// next selection or reload retries it.
	LoadError
)

func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case LoadLoading:
		return "loading"
	case LoadLoaded:
		return "loaded"
	case LoadError:
		return "error"
	}
	return "unknown"
}

// History is an optional local persistence hook for message history. The
// store treats it as best-effort: persistence failures are logged, never
// propagated.
type History interface {
	// ReplaceRoom swaps the stored history of a room for the given list.
	ReplaceRoom(ctx context.Context, roomID string, msgs []Message) error
	// RoomMessages returns the stored history of a room in ascending
	// sent order.
	RoomMessages(ctx context.Context, roomID string) ([]Message, error)
	// Remove deletes the given messages from a room's stored history.
	Remove(ctx context.Context, roomID string, messageIDs []string) error
	// ClearRoom drops a room's stored history.
	ClearRoom(ctx context.Context, roomID string) error
}

// MessageStore holds the ordered message list of the currently selected
// room. Loads walk the backend's pagination to exhaustion and replace the
// list atomically; a load that finishes after the selection has moved on is
// discarded, keyed by a monotonically increasing selection token.
type MessageStore struct {
	backend  Backend
	history  History
	logger   *slog.Logger
	pageSize int

	mu     sync.RWMutex
	seq    uint64
	roomID string
	state  LoadState
	msgs   []Message
}

// DefaultPageSize is used when NewMessageStore receives a non-positive
// page size.
const DefaultPageSize = 50

// NewMessageStore returns a store reading through the given backend.
// history may be nil.
func NewMessageStore(backend Backend, history History, pageSize int, logger *slog.Logger) *MessageStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MessageStore{
		backend:  backend,
		history:  history,
		logger:   logger,
		pageSize: pageSize,
	}
}

// begin selects a room and returns the token guarding the load. Any load
// holding an older token is superseded from this point on.
func (s *MessageStore) begin(roomID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.roomID = roomID
	s.state = LoadLoading
	// Never show the previous room's messages while the new room loads.
	s.msgs = nil
	return s.seq
}

// current reports whether the token still owns the selection.
func (s *MessageStore) current(token uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return token == s.seq
}

// LoadAll selects roomID and reconstructs its full history: every page is
// fetched, each record normalized, and the result sorted ascending by sent
// time and deduplicated by id before replacing the list in one step.
//
// If the selection changes while the fetch is in flight the result is
// thrown away and ErrSuperseded returned; the messages shown remain those
// of the newer selection.
func (s *MessageStore) LoadAll(ctx context.Context, roomID string) error {
	token := s.begin(roomID)

	if s.history != nil {
		// Render cached history while the fresh load runs.
		if cached, err := s.history.RoomMessages(ctx, roomID); err != nil {
			s.logger.Warn("history read failed", "room", roomID, "error", err)
		} else if len(cached) > 0 {
			s.mu.Lock()
			if token == s.seq {
				s.msgs = cached
			}
			s.mu.Unlock()
		}
	}

	var raw []RawMessage
	for page := 1; ; page++ {
		p, err := s.backend.Messages(ctx, roomID, page, s.pageSize)
		if err != nil {
			s.mu.Lock()
			if token == s.seq {
				s.state = LoadError
			}
			s.mu.Unlock()
			return fmt.Errorf("load messages for room %s: %w", roomID, err)
		}
		raw = append(raw, p.Results...)
		if !p.HasNext {
			break
		}
		if !s.current(token) {
			return ErrSuperseded
		}
	}

	msgs := make([]Message, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		m := Normalize(r)
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		msgs = append(msgs, m)
	}
	sortMessages(msgs)

	s.mu.Lock()
	if token != s.seq {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.msgs = msgs
	s.state = LoadLoaded
	s.mu.Unlock()

	s.persistReplace(ctx, roomID, msgs)
	return nil
}

// Reload re-fetches the currently selected room. No-op when nothing is
// selected.
func (s *MessageStore) Reload(ctx context.Context) error {
	s.mu.RLock()
	roomID := s.roomID
	s.mu.RUnlock()
	if roomID == "" {
		return nil
	}
	return s.LoadAll(ctx, roomID)
}

// AppendOptimistic inserts a locally created message ahead of server
// confirmation. Appending an id already present is a no-op, which guards
// against the race between an optimistic insert and a concurrent reload
// that already delivered the canonical record.
func (s *MessageStore) AppendOptimistic(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.RoomID != s.roomID {
		return
	}
	for i := range s.msgs {
		if s.msgs[i].ID == m.ID {
			return
		}
	}
	s.msgs = append(s.msgs, m)
	sortMessages(s.msgs)
}

// Reconcile replaces the optimistic entry localID with the canonical server
// record. If a reload already delivered the canonical id, the optimistic
// entry is simply dropped so the message appears exactly once.
func (s *MessageStore) Reconcile(localID string, canonical Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonicalPresent := false
	for i := range s.msgs {
		if s.msgs[i].ID == canonical.ID {
			canonicalPresent = true
			break
		}
	}

	for i := range s.msgs {
		if s.msgs[i].ID != localID {
			continue
		}
		if canonicalPresent {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		} else {
			s.msgs[i] = canonical
		}
		sortMessages(s.msgs)
		return
	}

	// Optimistic entry already gone (e.g. cleared by a room switch).
	// Nothing to reconcile.
}

// MarkFailed flags an optimistic entry whose send was rejected. The entry
// stays in the list so the user can retry or discard it.
func (s *MessageStore) MarkFailed(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == localID {
			s.msgs[i].Failed = true
			return
		}
	}
}

// Take removes and returns a message by id. Used to pull a failed entry out
// of the list for retry.
func (s *MessageStore) Take(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			m := s.msgs[i]
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return m, true
		}
	}
	return Message{}, false
}

// RemoveLocal drops the given messages from the current view only. The
// server copy, if any, is untouched.
func (s *MessageStore) RemoveLocal(ctx context.Context, messageIDs ...string) {
	drop := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		drop[id] = true
	}

	s.mu.Lock()
	roomID := s.roomID
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	s.msgs = kept
	s.mu.Unlock()

	if s.history != nil && roomID != "" {
		if err := s.history.Remove(ctx, roomID, messageIDs); err != nil {
			s.logger.Warn("history remove failed", "room", roomID, "error", err)
		}
	}
}

// Clear empties the list. Used for delete-all and on deselection.
func (s *MessageStore) Clear(ctx context.Context) {
	s.mu.Lock()
	roomID := s.roomID
	s.msgs = nil
	s.mu.Unlock()

	if s.history != nil && roomID != "" {
		if err := s.history.ClearRoom(ctx, roomID); err != nil {
			s.logger.Warn("history clear failed", "room", roomID, "error", err)
		}
	}
}

// Deselect drops the selection entirely. Subsequent late responses for any
// prior load are discarded.
func (s *MessageStore) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.roomID = ""
	s.state = LoadIdle
	s.msgs = nil
}

// Messages returns a snapshot of the current list in ascending sent order.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Message returns a copy of the message with the given id.
func (s *MessageStore) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return s.msgs[i], true
		}
	}
	return Message{}, false
}

// RoomID returns the currently selected room, empty if none.
func (s *MessageStore) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// State returns the load state of the current selection.
func (s *MessageStore) State() LoadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *MessageStore) persistReplace(ctx context.Context, roomID string, msgs []Message) {
	if s.history == nil {
		return
	}
	if err := s.history.ReplaceRoom(ctx, roomID, msgs); err != nil {
		s.logger.Warn("history write failed", "room", roomID, "error", err)
	}
}

// sortMessages orders messages ascending by sent time. The sort is stable
// so records sharing a timestamp keep their arrival order.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
}
