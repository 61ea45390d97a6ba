package chat

import (
	"time"
)

// RoomType classifies a chat room. The one-to-one types are constrained to
// exactly two participants; the rest are open-membership rooms.
type RoomType string

const (
	// AdminToAdmin is a one-to-one room between two school admins.
	AdminToAdmin RoomType = "admin_to_admin"
	// AdminToSecretary is a one-to-one room between a school admin and a secretary.
	AdminToSecretary RoomType = "admin_to_secretary"
	// AdminToTeacher is a one-to-one room between a school admin and a teacher.
	AdminToTeacher RoomType = "admin_to_teacher"
	// SecretaryToTeacher is a one-to-one room between a secretary and a teacher.
	SecretaryToTeacher RoomType = "secretary_to_teacher"
	// ClassRoom is the discussion room of a class.
	ClassRoom RoomType = "class"
	// StaffRoom is a room for the staff of a single school.
	StaffRoom RoomType = "staff"
	// GeneralRoom is a school-wide room open to every role.
	GeneralRoom RoomType = "general"
	// GeneralStaffRoom is a cross-school room open to every staff role.
	GeneralStaffRoom RoomType = "general_staff"
	// SystemSchoolAdmin is the support channel between the platform
	// operators and a school's admin.
	SystemSchoolAdmin RoomType = "system_school_admin"
)

// OneToOne reports whether the room type is constrained to exactly two
// participants.
func (t RoomType) OneToOne() bool {
	switch t {
	case AdminToAdmin, AdminToSecretary, AdminToTeacher, SecretaryToTeacher:
		return true
	}
	return false
}

// Role is the platform role of a user, as reported by the backend.
type Role string

const (
	SuperAdmin  Role = "super_admin"
	SchoolAdmin Role = "school_admin"
	Secretary   Role = "secretary"
	Teacher     Role = "teacher"
)

// User is the viewer on whose behalf the client operates. Identity and role
// come from the out-of-scope auth collaborator.
type User struct {
	ID   string
	Name string
	Role Role
}

// Participant is a member of a room.
type Participant struct {
	ID   string
	Name string
	Role Role
}

// LastMessage is the summary of the most recent message in a room. It is the
// room-list sort key.
type LastMessage struct {
	Content string
	SentAt  time.Time
}

// Room represents a conversation room as held by the RoomStore.
// Name is the raw stored name; the name shown to a viewer is derived by
// DisplayName and depends on the viewer.
type Room struct {
	ID           string
	Name         string
	Type         RoomType
	Participants []Participant
	LastMessage  *LastMessage
	UnreadCount  int
	Active       bool
}

// Counterpart returns the participant whose id differs from the viewer's.
// It is only meaningful for one-to-one rooms; for other types it returns
// false.
func (r *Room) Counterpart(viewerID string) (Participant, bool) {
	if !r.Type.OneToOne() {
		return Participant{}, false
	}
	for _, p := range r.Participants {
		if p.ID != viewerID {
			return p, true
		}
	}
	return Participant{}, false
}

// HasParticipant reports whether the user is in the room's participant set.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// MessageRef is a snapshot of another message, carried by a reply or a
// forward. The snapshot is taken server-side at creation time and does not
// track later edits or deletions of the referenced message.
type MessageRef struct {
	ID         string
	Content    string
	SenderName string
	// RoomName is the origin room's name. Only set on forwards.
	RoomName string
}

// Attachment is the metadata of a file attached to a message. The file body
// is never held client-side; DownloadRef is redeemed on demand.
type Attachment struct {
	ID          string
	Name        string
	Size        int64
	ContentType string
	DownloadRef string
}

// Message is the canonical client-side message record produced by the
// normalizer.
type Message struct {
	ID            string
	RoomID        string
	Content       string
	SenderID      string
	SenderName    string
	SentAt        time.Time
	ReplyTo       *MessageRef
	ForwardedFrom *MessageRef
	Attachment    *Attachment

	// Pending marks an optimistic local entry that has not been confirmed
	// by the server yet.
	Pending bool
	// Failed marks an optimistic entry whose send was rejected. The entry
	// stays visible until the user retries or discards it.
	Failed bool
}

// Own reports whether the message was sent by the given user. Ownership is
// structural: it compares sender ids, never display names.
func (m *Message) Own(userID string) bool {
	return m.SenderID == userID
}
