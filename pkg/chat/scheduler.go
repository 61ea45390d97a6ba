package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshInterval is how often the room list is re-polled for unread
// counts and ordering freshness.
const DefaultRefreshInterval = 30 * time.Second

// Scheduler drives the polling sync: one room-list refresh at session
// start, then one on a fixed interval. Message history is loaded only when
// a room is selected, never by the timer.
type Scheduler struct {
	backend  Backend
	rooms    *RoomStore
	msgs     *MessageStore
	interval time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

func NewScheduler(backend Backend, rooms *RoomStore, msgs *MessageStore, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Scheduler{
		backend:  backend,
		rooms:    rooms,
		msgs:     msgs,
		interval: interval,
		logger:   logger,
	}
}

// Run performs the initial room load and then refreshes on the interval
// until the context is cancelled. A failed refresh keeps the previous list
// and waits for the next tick; there is no tighter retry loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.rooms.Refresh(ctx); err != nil {
		// Retryable: the ticker below is the retry.
		s.logger.Warn("initial room refresh failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			if err := s.rooms.Refresh(ctx); err != nil {
				s.logger.Warn("room refresh failed", "error", err)
			}
		}
	}
}

// Select makes roomID the active room: its full history is loaded and the
// room is marked read. Mark-read is fire-and-forget; its failure never
// blocks or fails message display. A selection made while a previous load
// is still in flight supersedes it.
func (s *Scheduler) Select(ctx context.Context, roomID string) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.backend.MarkRead(ctx, roomID); err != nil {
			s.logger.Warn("mark read failed", "room", roomID, "error", err)
			return
		}
		s.rooms.ClearUnread(roomID)
	}()

	if err := s.msgs.LoadAll(ctx, roomID); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		return err
	}
	return nil
}

// Deselect clears the active room.
func (s *Scheduler) Deselect() {
	s.msgs.Deselect()
}
