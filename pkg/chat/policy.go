package chat

import (
	"sort"
	"strings"
)

// SupportLabel is what a school admin sees as the name of their
// system-school-admin room, regardless of the stored room name.
const SupportLabel = "Support"

// supportNameSeparator splits a system room's stored name into its fixed
// prefix and the school name.
const supportNameSeparator = " - "

// capability describes which rooms a role may see. participantOf lists room
// types visible only when the viewer is in the participant set; always lists
// types visible unconditionally; all short-circuits both.
type capability struct {
	participantOf map[RoomType]bool
	always        map[RoomType]bool
	all           bool
}

func typeSet(types ...RoomType) map[RoomType]bool {
	s := make(map[RoomType]bool, len(types))
	for _, t := range types {
		s[t] = true
	}
	return s
}

// capabilities is the single place room visibility is defined. Call sites
// look the role up here instead of re-branching on it.
var capabilities = map[Role]capability{
	SchoolAdmin: {
		participantOf: typeSet(SystemSchoolAdmin, AdminToAdmin, AdminToSecretary, AdminToTeacher),
		always:        typeSet(GeneralRoom, GeneralStaffRoom),
	},
	Secretary: {
		participantOf: typeSet(AdminToSecretary, SecretaryToTeacher),
		always:        typeSet(GeneralRoom, GeneralStaffRoom),
	},
	Teacher: {
		participantOf: typeSet(AdminToTeacher, SecretaryToTeacher),
		always:        typeSet(GeneralRoom, GeneralStaffRoom),
	},
	SuperAdmin: {all: true},
}

// fallbackCapability applies to any role without an entry: general rooms
// only.
var fallbackCapability = capability{
	always: typeSet(GeneralRoom, GeneralStaffRoom),
}

// Visible reports whether the viewer may see the room. It is pure and
// total: every room classifies without error, unknown types and roles
// included.
func Visible(room *Room, viewer User) bool {
	c, ok := capabilities[viewer.Role]
	if !ok {
		c = fallbackCapability
	}
	if c.all {
		return true
	}
	if c.always[room.Type] {
		return true
	}
	if c.participantOf[room.Type] {
		return room.HasParticipant(viewer.ID)
	}
	return false
}

// VisibleRooms filters rooms down to those the viewer may see. The input
// slice is not mutated and relative order is preserved, which makes the
// function idempotent.
func VisibleRooms(rooms []Room, viewer User) []Room {
	out := make([]Room, 0, len(rooms))
	for i := range rooms {
		if Visible(&rooms[i], viewer) {
			out = append(out, rooms[i])
		}
	}
	return out
}

// DisplayName derives the room name shown to the viewer.
//
// System rooms read "Support" to the school admin they belong to; anyone
// else sees the school's name, recovered from the stored room name. A
// one-to-one room is named after the other participant. Everything else uses
// the stored name verbatim.
func DisplayName(room *Room, viewer User) string {
	switch {
	case room.Type == SystemSchoolAdmin:
		if viewer.Role == SchoolAdmin {
			return SupportLabel
		}
		if _, after, found := strings.Cut(room.Name, supportNameSeparator); found {
			return after
		}
		return room.Name
	case room.Type.OneToOne():
		if p, ok := room.Counterpart(viewer.ID); ok {
			return p.Name
		}
		return room.Name
	default:
		return room.Name
	}
}

// SortRooms orders rooms by last-message time, most recent first. Rooms
// that have never seen a message go last. Ties keep their relative order.
func SortRooms(rooms []Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		a, b := rooms[i].LastMessage, rooms[j].LastMessage
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.SentAt.After(b.SentAt)
		}
	})
}
