package chat

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// at returns a deterministic timestamp n minutes into the test epoch.
func at(n int) time.Time {
	return testEpoch.Add(time.Duration(n) * time.Minute)
}

func rawText(id, roomID, content string, sentAt time.Time) RawMessage {
	return RawMessage{
		ID:         FlexID(id),
		RoomID:     FlexID(roomID),
		Content:    content,
		SenderName: "Sender " + id,
		Sender:     json.RawMessage(`9`),
		CreatedAt:  sentAt,
	}
}

func oneToOneRoom(id string, t RoomType, a, b Participant) RawRoom {
	return RawRoom{
		ID:   FlexID(id),
		Name: a.Name + " / " + b.Name,
		Type: string(t),
		Participants: []RawParticipant{
			{ID: FlexID(a.ID), Name: a.Name, Role: string(a.Role)},
			{ID: FlexID(b.ID), Name: b.Name, Role: string(b.Role)},
		},
	}
}

// fakeBackend is an in-memory chat.Backend with error and latency knobs.
type fakeBackend struct {
	mu       sync.Mutex
	rooms    []RawRoom
	messages map[string][]RawMessage
	files    map[string][]byte
	nextID   int

	roomsErr    error
	sendErr     error
	replyErr    error
	forwardErr  error
	deleteErr   error
	uploadErr   error
	downloadErr error
	markReadErr error

	sends      []SendInput
	uploads    []string
	forwards   [][2]string
	deletes    []string
	deleteAll  []string
	markReads  []string
	roomsCalls int

	// senderRaw is the sender field stamped on created messages.
	// Defaults to a bare numeric id unknown to the tests.
	senderRaw json.RawMessage

	// messagesHook runs at the start of every Messages call, outside the
	// lock, so a test can stall one room's fetch.
	messagesHook func(roomID string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages:  make(map[string][]RawMessage),
		files:     make(map[string][]byte),
		senderRaw: json.RawMessage(`42`),
	}
}

func (f *fakeBackend) addRoom(r RawRoom) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, r)
}

func (f *fakeBackend) addMessage(roomID string, m RawMessage) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID == "" {
		f.nextID++
		m.ID = FlexID(strconv.Itoa(f.nextID + 1000))
	}
	m.RoomID = FlexID(roomID)
	f.messages[roomID] = append(f.messages[roomID], m)
	return m.ID.String()
}

func (f *fakeBackend) setMarkReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadErr = err
}

func (f *fakeBackend) setRoomsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomsErr = err
}

func (f *fakeBackend) roomsCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomsCalls
}

func (f *fakeBackend) Rooms(ctx context.Context) ([]RawRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomsCalls++
	if f.roomsErr != nil {
		return nil, f.roomsErr
	}
	out := make([]RawRoom, len(f.rooms))
	copy(out, f.rooms)
	return out, nil
}

func (f *fakeBackend) Messages(ctx context.Context, roomID string, page, pageSize int) (*MessagePage, error) {
	if f.messagesHook != nil {
		f.messagesHook(roomID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[roomID]
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	results := make([]RawMessage, end-start)
	copy(results, all[start:end])
	return &MessagePage{Results: results, HasNext: end < len(all)}, nil
}

func (f *fakeBackend) Send(ctx context.Context, in SendInput) (*RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, in)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	m := RawMessage{
		ID:        FlexID(strconv.Itoa(f.nextID)),
		RoomID:    FlexID(in.RoomID),
		Content:   in.Content,
		Sender:    f.senderRaw,
		CreatedAt: time.Now().UTC(),
	}
	f.messages[in.RoomID] = append(f.messages[in.RoomID], m)
	return &m, nil
}

func (f *fakeBackend) Reply(ctx context.Context, roomID, replyToID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.nextID++
	f.messages[roomID] = append(f.messages[roomID], RawMessage{
		ID:        FlexID(strconv.Itoa(f.nextID)),
		RoomID:    FlexID(roomID),
		Content:   content,
		Sender:    f.senderRaw,
		CreatedAt: time.Now().UTC(),
		ReplyTo:   &RawRef{ID: FlexID(replyToID)},
	})
	return nil
}

func (f *fakeBackend) Forward(ctx context.Context, messageID, targetRoomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, [2]string{messageID, targetRoomID})
	if f.forwardErr != nil {
		return f.forwardErr
	}
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.ID.String() == messageID {
				f.nextID++
				copied := m
				copied.ID = FlexID(strconv.Itoa(f.nextID))
				copied.RoomID = FlexID(targetRoomID)
				copied.ForwardedFrom = &RawRef{ID: m.ID, Content: m.Content}
				f.messages[targetRoomID] = append(f.messages[targetRoomID], copied)
				return nil
			}
		}
	}
	return ErrNotFound
}

func (f *fakeBackend) Delete(ctx context.Context, messageID string, forEveryone bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if forEveryone {
		f.removeLocked(messageID)
	}
	return nil
}

func (f *fakeBackend) DeleteMany(ctx context.Context, messageIDs []string, forEveryone bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageIDs...)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if forEveryone {
		for _, id := range messageIDs {
			f.removeLocked(id)
		}
	}
	return nil
}

func (f *fakeBackend) DeleteAll(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteAll = append(f.deleteAll, roomID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.messages, roomID)
	return nil
}

func (f *fakeBackend) Upload(ctx context.Context, in UploadInput) (*RawMessage, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, in.FileName)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	m := RawMessage{
		ID:        FlexID(id),
		RoomID:    FlexID(in.RoomID),
		Content:   in.Content,
		Sender:    f.senderRaw,
		CreatedAt: time.Now().UTC(),
		Attachment: &RawAttachment{
			ID:          FlexID("att-" + id),
			Name:        in.FileName,
			Size:        int64(len(data)),
			ContentType: "application/octet-stream",
			DownloadURL: "/chat/download/" + id + "/",
		},
	}
	f.files[id] = data
	f.messages[in.RoomID] = append(f.messages[in.RoomID], m)
	return &m, nil
}

func (f *fakeBackend) DownloadAttachment(ctx context.Context, messageID string) (*Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.files[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Download{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: "application/octet-stream",
		Size:        int64(len(data)),
	}, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads = append(f.markReads, roomID)
	return f.markReadErr
}

func (f *fakeBackend) markReadRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.markReads))
	copy(out, f.markReads)
	return out
}

func (f *fakeBackend) serverMessages(roomID string) []RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RawMessage, len(f.messages[roomID]))
	copy(out, f.messages[roomID])
	return out
}

func (f *fakeBackend) removeLocked(messageID string) {
	for roomID, msgs := range f.messages {
		for i, m := range msgs {
			if m.ID.String() == messageID {
				f.messages[roomID] = append(msgs[:i], msgs[i+1:]...)
				return
			}
		}
	}
}

