package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin     = User{ID: "10", Name: "Ada Admin", Role: SchoolAdmin}
	secretary = User{ID: "20", Name: "Sam Secretary", Role: Secretary}
	teacher   = User{ID: "30", Name: "Tess Teacher", Role: Teacher}
	superUser = User{ID: "1", Name: "Root", Role: SuperAdmin}
	student   = User{ID: "40", Name: "Stu Student", Role: Role("student")}
)

func participant(u User) Participant {
	return Participant{ID: u.ID, Name: u.Name, Role: u.Role}
}

func testRooms() []Room {
	return []Room{
		{ID: "r1", Name: "Ada / Sam", Type: AdminToSecretary,
			Participants: []Participant{participant(admin), participant(secretary)}},
		{ID: "r2", Name: "Sam / Tess", Type: SecretaryToTeacher,
			Participants: []Participant{participant(secretary), participant(teacher)}},
		{ID: "r3", Name: "Ada / Tess", Type: AdminToTeacher,
			Participants: []Participant{participant(admin), participant(teacher)}},
		{ID: "r4", Name: "School announcements", Type: GeneralRoom},
		{ID: "r5", Name: "All staff", Type: GeneralStaffRoom},
		{ID: "r6", Name: "Support - Greenfield Primary", Type: SystemSchoolAdmin,
			Participants: []Participant{participant(admin), participant(superUser)}},
		{ID: "r7", Name: "Year 4 maths", Type: ClassRoom},
		{ID: "r8", Name: "Support - Hillside High", Type: SystemSchoolAdmin,
			Participants: []Participant{{ID: "99", Name: "Other Admin", Role: SchoolAdmin}, participant(superUser)}},
	}
}

func roomIDs(rooms []Room) []string {
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	return ids
}

func Test_VisibleRooms(t *testing.T) {
	rooms := testRooms()

	tests := []struct {
		name   string
		viewer User
		want   []string
	}{
		{
			name:   "school admin sees own one-to-ones, own support room and general rooms",
			viewer: admin,
			want:   []string{"r1", "r3", "r4", "r5", "r6"},
		},
		{
			name:   "secretary sees own one-to-ones and general rooms",
			viewer: secretary,
			want:   []string{"r1", "r2", "r4", "r5"},
		},
		{
			name:   "teacher sees own one-to-ones and general rooms",
			viewer: teacher,
			want:   []string{"r2", "r3", "r4", "r5"},
		},
		{
			name:   "super admin sees everything",
			viewer: superUser,
			want:   []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8"},
		},
		{
			name:   "unknown role falls back to general rooms only",
			viewer: student,
			want:   []string{"r4", "r5"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := VisibleRooms(rooms, tc.viewer)
			assert.Equal(t, tc.want, roomIDs(got))
		})
	}
}

func Test_VisibleRooms_Idempotent(t *testing.T) {
	rooms := testRooms()
	for _, viewer := range []User{admin, secretary, teacher, superUser, student} {
		once := VisibleRooms(rooms, viewer)
		twice := VisibleRooms(once, viewer)
		assert.Equal(t, roomIDs(once), roomIDs(twice), "role %s", viewer.Role)
	}
}

func Test_VisibleRooms_DoesNotMutateInput(t *testing.T) {
	rooms := testRooms()
	before := roomIDs(rooms)
	VisibleRooms(rooms, secretary)
	assert.Equal(t, before, roomIDs(rooms))
}

func Test_DisplayName_SupportRoom(t *testing.T) {
	room := Room{
		ID:           "r6",
		Name:         "Support - Greenfield Primary",
		Type:         SystemSchoolAdmin,
		Participants: []Participant{participant(admin), participant(superUser)},
	}

	// The label holds whatever the stored name says.
	assert.Equal(t, "Support", DisplayName(&room, admin))
	room.Name = "anything at all"
	assert.Equal(t, "Support", DisplayName(&room, admin))

	room.Name = "Support - Greenfield Primary"
	assert.Equal(t, "Greenfield Primary", DisplayName(&room, superUser))

	// No separator: fall back to the stored name.
	room.Name = "Greenfield"
	assert.Equal(t, "Greenfield", DisplayName(&room, superUser))
}

func Test_DisplayName_OneToOne(t *testing.T) {
	room := Room{
		ID:           "r1",
		Name:         "Ada / Sam",
		Type:         AdminToSecretary,
		Participants: []Participant{participant(admin), participant(secretary)},
	}

	// Each side sees the other's name, never the raw room name.
	assert.Equal(t, secretary.Name, DisplayName(&room, admin))
	assert.Equal(t, admin.Name, DisplayName(&room, secretary))
}

func Test_DisplayName_OtherRooms(t *testing.T) {
	room := Room{ID: "r4", Name: "School announcements", Type: GeneralRoom}
	assert.Equal(t, "School announcements", DisplayName(&room, teacher))
}

func Test_SortRooms(t *testing.T) {
	rooms := []Room{
		{ID: "silent-a"},
		{ID: "old", LastMessage: &LastMessage{SentAt: at(1)}},
		{ID: "silent-b"},
		{ID: "new", LastMessage: &LastMessage{SentAt: at(10)}},
		{ID: "mid", LastMessage: &LastMessage{SentAt: at(5)}},
	}

	SortRooms(rooms)

	require.Equal(t, []string{"new", "mid", "old", "silent-a", "silent-b"}, roomIDs(rooms))
}

func Test_SortRooms_StableTies(t *testing.T) {
	rooms := []Room{
		{ID: "first", LastMessage: &LastMessage{SentAt: at(3)}},
		{ID: "second", LastMessage: &LastMessage{SentAt: at(3)}},
		{ID: "third", LastMessage: &LastMessage{SentAt: at(3)}},
	}
	SortRooms(rooms)
	assert.Equal(t, []string{"first", "second", "third"}, roomIDs(rooms))
}
