// Package chattest provides an in-memory fake of the school-management
// chat API. Tests point the real backend client at it; the CLI can run
// against it with -fake for an offline dev loop.
package chattest

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/edusys/schoolchat/pkg/chat"
)

// Server holds the fake backend's state. All mutating helpers are safe for
// concurrent use with the handler.
type Server struct {
	mu       sync.Mutex
	rooms    []chat.RawRoom
	messages map[string][]chat.RawMessage
	files    map[string][]byte
	nextID   int
	calls    map[string]int

	// Token, when set, is the only accepted bearer credential; other
	// requests get a 401.
	Token string
	// SenderID is the numeric user id stamped on created messages. Send
	// and upload responses deliberately carry only this bare sender
	// field, like the real API.
	SenderID int64
	// FailNext makes the next request fail with a 500, then resets.
	FailNext bool
}

func New() *Server {
	return &Server{
		messages: make(map[string][]chat.RawMessage),
		files:    make(map[string][]byte),
		calls:    make(map[string]int),
		SenderID: 1,
	}
}

// Handler returns the chi router serving the fake API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(s.countAndGate)

	r.Get("/chat/rooms/", s.listRooms)
	r.Post("/chat/rooms/{roomID}/read/", s.markRead)
	r.Post("/chat/rooms/{roomID}/delete-all/", s.deleteAll)
	r.Get("/chat/messages/", s.listMessages)
	r.Post("/chat/messages/", s.sendMessage)
	r.Post("/chat/messages/reply/", s.reply)
	r.Post("/chat/messages/forward/", s.forward)
	r.Post("/chat/messages/{messageID}/delete/", s.deleteOne)
	r.Post("/chat/messages/delete-selected/", s.deleteSelected)
	r.Post("/chat/upload/", s.upload)
	r.Get("/chat/download/{messageID}/", s.download)
	return r
}

func (s *Server) countAndGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		fail := s.FailNext
		s.FailNext = false
		token := s.Token
		s.mu.Unlock()

		if fail {
			writeErr(w, http.StatusInternalServerError, "induced failure")
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeErr(w, http.StatusUnauthorized, "missing or bad credential")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Calls returns how many times "METHOD /path" was hit.
func (s *Server) Calls(methodAndPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[methodAndPath]
}

// AddRoom seeds a room.
func (s *Server) AddRoom(room chat.RawRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
}

// AddMessage seeds a message into a room and returns its id.
func (s *Server) AddMessage(roomID string, msg chat.RawMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = chat.FlexID(s.newIDLocked())
	}
	msg.RoomID = chat.FlexID(roomID)
	s.messages[roomID] = append(s.messages[roomID], msg)
	return msg.ID.String()
}

// RoomMessages returns a copy of a room's stored messages, insertion order.
func (s *Server) RoomMessages(roomID string) []chat.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.RawMessage, len(s.messages[roomID]))
	copy(out, s.messages[roomID])
	return out
}

func (s *Server) newIDLocked() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rooms := make([]chat.RawRoom, len(s.rooms))
	copy(rooms, s.rooms)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rooms {
		if s.rooms[i].ID.String() == roomID {
			s.rooms[i].UnreadCount = 0
			writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
			return
		}
	}
	writeErr(w, http.StatusNotFound, "room not found")
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("chat_room")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	s.mu.Lock()
	all := s.messages[roomID]
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	results := make([]chat.RawMessage, end-start)
	copy(results, all[start:end])
	hasNext := end < len(all)
	s.mu.Unlock()

	var next *string
	if hasNext {
		u := fmt.Sprintf("/chat/messages/?chat_room=%s&page=%d&page_size=%d", roomID, page+1, pageSize)
		next = &u
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"next":    next,
	})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RoomID    chat.FlexID `json:"chat_room"`
		Content   string      `json:"content"`
		ReplyToID chat.FlexID `json:"reply_to_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, "bad payload")
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		writeErr(w, http.StatusBadRequest, "empty content")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg := chat.RawMessage{
		ID:        chat.FlexID(s.newIDLocked()),
		RoomID:    in.RoomID,
		Content:   in.Content,
		Sender:    json.RawMessage(strconv.FormatInt(s.SenderID, 10)),
		CreatedAt: time.Now().UTC(),
	}
	if in.ReplyToID != "" {
		if ref, ok := s.findLocked(in.ReplyToID.String()); ok {
			msg.ReplyTo = &chat.RawRef{ID: ref.ID, Content: ref.Content, SenderName: ref.SenderName}
		}
	}
	roomID := in.RoomID.String()
	s.messages[roomID] = append(s.messages[roomID], msg)
	s.touchRoomLocked(roomID, msg)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RoomID    chat.FlexID `json:"room_id"`
		ReplyToID chat.FlexID `json:"reply_to_id"`
		Content   string      `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, "bad payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.findLocked(in.ReplyToID.String())
	if !ok {
		writeErr(w, http.StatusNotFound, "reply target not found")
		return
	}
	msg := chat.RawMessage{
		ID:        chat.FlexID(s.newIDLocked()),
		RoomID:    in.RoomID,
		Content:   in.Content,
		Sender:    json.RawMessage(strconv.FormatInt(s.SenderID, 10)),
		CreatedAt: time.Now().UTC(),
		ReplyTo:   &chat.RawRef{ID: target.ID, Content: target.Content, SenderName: target.SenderName},
	}
	roomID := in.RoomID.String()
	s.messages[roomID] = append(s.messages[roomID], msg)
	s.touchRoomLocked(roomID, msg)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	var in struct {
		MessageID    chat.FlexID `json:"message_id"`
		TargetRoomID chat.FlexID `json:"target_room_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, "bad payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.findLocked(in.MessageID.String())
	if !ok {
		writeErr(w, http.StatusNotFound, "message not found")
		return
	}
	originName := s.roomNameLocked(src.RoomID.String())
	msg := chat.RawMessage{
		ID:        chat.FlexID(s.newIDLocked()),
		RoomID:    in.TargetRoomID,
		Content:   src.Content,
		Sender:    json.RawMessage(strconv.FormatInt(s.SenderID, 10)),
		CreatedAt: time.Now().UTC(),
		ForwardedFrom: &chat.RawRef{
			ID:         src.ID,
			Content:    src.Content,
			SenderName: src.SenderName,
			RoomName:   originName,
		},
	}
	roomID := in.TargetRoomID.String()
	s.messages[roomID] = append(s.messages[roomID], msg)
	s.touchRoomLocked(roomID, msg)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "forwarded"})
}

func (s *Server) deleteOne(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	var in struct {
		ForEveryone bool `json:"for_everyone"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findLocked(messageID); !ok {
		writeErr(w, http.StatusNotFound, "message not found")
		return
	}
	// A personal hide leaves the server copy in place; only a
	// delete-for-everyone removes it for other clients.
	if in.ForEveryone {
		s.removeLocked(messageID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) deleteSelected(w http.ResponseWriter, r *http.Request) {
	var in struct {
		MessageIDs  []chat.FlexID `json:"message_ids"`
		ForEveryone bool          `json:"for_everyone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, "bad payload")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ForEveryone {
		for _, id := range in.MessageIDs {
			s.removeLocked(id.String())
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) deleteAll(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, roomID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, "bad multipart")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "read file")
		return
	}

	roomID := r.FormValue("chat_room")
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newIDLocked()
	msg := chat.RawMessage{
		ID:         chat.FlexID(id),
		RoomID:     chat.FlexID(roomID),
		Content:    r.FormValue("content"),
		SenderName: "",
		Sender:     json.RawMessage(strconv.FormatInt(s.SenderID, 10)),
		CreatedAt:  time.Now().UTC(),
		Attachment: &chat.RawAttachment{
			ID:          chat.FlexID(uuid.NewString()),
			Name:        header.Filename,
			Size:        int64(len(data)),
			ContentType: contentType,
			DownloadURL: fmt.Sprintf("/chat/download/%s/", id),
		},
	}
	if replyTo := r.FormValue("reply_to_id"); replyTo != "" {
		if ref, ok := s.findLocked(replyTo); ok {
			msg.ReplyTo = &chat.RawRef{ID: ref.ID, Content: ref.Content, SenderName: ref.SenderName}
		}
	}
	s.files[id] = data
	s.messages[roomID] = append(s.messages[roomID], msg)
	s.touchRoomLocked(roomID, msg)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	s.mu.Lock()
	data, ok := s.files[messageID]
	var contentType string
	if msg, found := s.findLocked(messageID); found && msg.Attachment != nil {
		contentType = msg.Attachment.ContentType
	}
	s.mu.Unlock()
	if !ok {
		writeErr(w, http.StatusNotFound, "no file")
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) findLocked(messageID string) (chat.RawMessage, bool) {
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID.String() == messageID {
				return m, true
			}
		}
	}
	return chat.RawMessage{}, false
}

func (s *Server) removeLocked(messageID string) {
	for roomID, msgs := range s.messages {
		for i, m := range msgs {
			if m.ID.String() == messageID {
				s.messages[roomID] = append(msgs[:i], msgs[i+1:]...)
				return
			}
		}
	}
}

func (s *Server) roomNameLocked(roomID string) string {
	for _, r := range s.rooms {
		if r.ID.String() == roomID {
			return r.Name
		}
	}
	return ""
}

func (s *Server) touchRoomLocked(roomID string, msg chat.RawMessage) {
	for i := range s.rooms {
		if s.rooms[i].ID.String() == roomID {
			s.rooms[i].LastMessage = &chat.RawLastMessage{
				Content:   msg.Content,
				Timestamp: msg.CreatedAt,
			}
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
