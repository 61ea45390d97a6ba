package chat

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mutationFixture struct {
	fb    *fakeBackend
	rooms *RoomStore
	msgs  *MessageStore
	svc   *MutationService
}

func setUpMutations(t *testing.T, viewer User) (context.Context, *mutationFixture) {
	t.Helper()
	ctx := context.Background()
	fb := newFakeBackend()
	fb.senderRaw = json.RawMessage(viewer.ID)
	fb.addRoom(RawRoom{ID: "7", Name: "School announcements", Type: string(GeneralRoom)})
	fb.addRoom(RawRoom{ID: "8", Name: "All staff", Type: string(GeneralStaffRoom)})

	rooms := NewRoomStore(fb, viewer, testLogger())
	require.NoError(t, rooms.Refresh(ctx))
	msgs := NewMessageStore(fb, nil, 50, testLogger())
	svc := NewMutationService(fb, msgs, rooms, viewer, testLogger())

	return ctx, &mutationFixture{fb: fb, rooms: rooms, msgs: msgs, svc: svc}
}

func Test_Send_OptimisticThenReconciled(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	sent, err := f.svc.Send(ctx, "7", "hello", "")
	require.NoError(t, err)

	msgs := f.msgs.Messages()
	require.Len(t, msgs, 1, "exactly one message after reconciliation, not two")
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "7", msgs[0].RoomID)
	assert.Equal(t, admin.ID, msgs[0].SenderID)
	assert.False(t, msgs[0].Pending)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.False(t, strings.HasPrefix(msgs[0].ID, localIDPrefix), "canonical id replaces the local one")

	// A subsequent full reload does not duplicate it.
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	assert.Len(t, f.msgs.Messages(), 1)
}

func Test_Send_TouchesRoomOrdering(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	require.Equal(t, []string{"7", "8"}, roomIDs(f.rooms.Rooms()))

	_, err := f.svc.Send(ctx, "8", "bump", "")
	require.NoError(t, err)

	got := f.rooms.Rooms()
	require.Equal(t, []string{"8", "7"}, roomIDs(got), "send re-sorts immediately, without waiting for the poll")
	require.NotNil(t, got[0].LastMessage)
	assert.Equal(t, "bump", got[0].LastMessage.Content)
}

func Test_Send_EmptyContentRejectedBeforeNetwork(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	_, err := f.svc.Send(ctx, "7", "   ", "")
	require.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.fb.sends, "no network call for empty content")
	assert.Empty(t, f.msgs.Messages())
}

func Test_Send_FailureKeepsFlaggedEntry(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	f.fb.sendErr = ErrNetwork

	local, err := f.svc.Send(ctx, "7", "doomed", "")
	require.ErrorIs(t, err, ErrNetwork)

	msgs := f.msgs.Messages()
	require.Len(t, msgs, 1, "the failed send is not silently rolled back")
	assert.True(t, msgs[0].Failed)
	assert.Equal(t, local.ID, msgs[0].ID)
}

func Test_Send_RetryAfterFailure(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	f.fb.sendErr = ErrNetwork

	local, err := f.svc.Send(ctx, "7", "second try", "")
	require.Error(t, err)

	f.fb.sendErr = nil
	sent, err := f.svc.Retry(ctx, local.ID)
	require.NoError(t, err)

	msgs := f.msgs.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.False(t, msgs[0].Failed)
}

func Test_Send_DiscardFailure(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	f.fb.sendErr = ErrNetwork

	local, err := f.svc.Send(ctx, "7", "never mind", "")
	require.Error(t, err)

	require.NoError(t, f.svc.Discard(local.ID))
	assert.Empty(t, f.msgs.Messages())

	// Only failed entries may be discarded.
	assert.ErrorIs(t, f.svc.Discard("no-such-id"), ErrUnknownMessage)
}

func Test_Send_ReplySnapshotAttached(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	targetID := f.fb.addMessage("7", rawText("", "7", "original question", at(1)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	sent, err := f.svc.Send(ctx, "7", "an answer", targetID)
	require.NoError(t, err)

	m, ok := f.msgs.Message(sent.ID)
	require.True(t, ok)
	// The canonical record comes from the server; the fake does not echo
	// reply_to on send, so the reply linkage is asserted on the wire.
	require.NotEmpty(t, f.fb.sends)
	assert.Equal(t, targetID, f.fb.sends[len(f.fb.sends)-1].ReplyToID)
	assert.Equal(t, "an answer", m.Content)
}

func Test_Reply_TriggersFullReload(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	targetID := f.fb.addMessage("7", rawText("", "7", "question", at(1)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	require.Len(t, f.msgs.Messages(), 1)

	require.NoError(t, f.svc.Reply(ctx, "7", targetID, "answer"))

	msgs := f.msgs.Messages()
	require.Len(t, msgs, 2, "the reply arrives via reload, not optimistic render")
	assert.Equal(t, "answer", msgs[1].Content)
}

func Test_Reply_EmptyContentRejected(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.ErrorIs(t, f.svc.Reply(ctx, "7", "1", ""), ErrValidation)
}

func Test_Forward_ReloadsSourceRoomOnly(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	srcID := f.fb.addMessage("7", rawText("", "7", "worth sharing", at(1)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	before := messageIDs(f.msgs.Messages())

	require.NoError(t, f.svc.Forward(ctx, srcID, "8"))

	// Source view content is unchanged by the forward.
	assert.Equal(t, before, messageIDs(f.msgs.Messages()))
	// The copy exists server-side in the target room, but nothing here
	// refreshed the target. A client with room 8 open sees it only on
	// its own next load.
	require.Len(t, f.fb.serverMessages("8"), 1)
	assert.NotNil(t, f.fb.serverMessages("8")[0].ForwardedFrom)
}

func Test_Delete_ForMe_LocalOnly(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	id := f.fb.addMessage("7", rawText("", "7", "embarrassing", at(1)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	require.NoError(t, f.svc.Delete(ctx, id, false))
	assert.Empty(t, f.msgs.Messages())

	// A second client, simulated by a fresh full load, still sees it.
	other := NewMessageStore(f.fb, nil, 50, testLogger())
	require.NoError(t, other.LoadAll(ctx, "7"))
	assert.Equal(t, []string{id}, messageIDs(other.Messages()))
}

func Test_Delete_ForEveryone_Propagates(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	id := f.fb.addMessage("7", rawText("", "7", "retracted", at(1)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	require.NoError(t, f.svc.Delete(ctx, id, true))
	assert.Empty(t, f.msgs.Messages())

	other := NewMessageStore(f.fb, nil, 50, testLogger())
	require.NoError(t, other.LoadAll(ctx, "7"))
	assert.Empty(t, other.Messages())
}

func Test_Delete_FailureLeavesListIntact(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	id := f.fb.addMessage("7", rawText("", "7", "still here", at(1)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	f.fb.deleteErr = ErrPermissionDenied
	err := f.svc.Delete(ctx, id, true)
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Len(t, f.msgs.Messages(), 1, "no local removal without server acknowledgment")
}

func Test_Delete_StaleReferenceForcesReload(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	f.fb.addMessage("7", rawText("1", "7", "a", at(1)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	f.fb.addMessage("7", rawText("2", "7", "b", at(2)))

	f.fb.deleteErr = ErrNotFound
	err := f.svc.Delete(ctx, "gone", true)
	require.ErrorIs(t, err, ErrNotFound)

	// The reload picked up the drift.
	assert.Equal(t, []string{"1", "2"}, messageIDs(f.msgs.Messages()))
}

func Test_DeleteSelected(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	id1 := f.fb.addMessage("7", rawText("", "7", "a", at(1)))
	f.fb.addMessage("7", rawText("", "7", "b", at(2)))
	id3 := f.fb.addMessage("7", rawText("", "7", "c", at(3)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	require.NoError(t, f.svc.DeleteSelected(ctx, []string{id1, id3}, false))
	require.Len(t, f.msgs.Messages(), 1)
	assert.Equal(t, "b", f.msgs.Messages()[0].Content)

	require.ErrorIs(t, f.svc.DeleteSelected(ctx, nil, false), ErrValidation)
}

func Test_DeleteAll_ClearsAfterConfirmation(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	f.fb.addMessage("7", rawText("", "7", "a", at(1)))
	f.fb.addMessage("7", rawText("", "7", "b", at(2)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	require.NoError(t, f.svc.DeleteAll(ctx, "7"))
	assert.Empty(t, f.msgs.Messages())
	assert.Empty(t, f.fb.serverMessages("7"))
}

func Test_Upload_SingleMessageWithAttachment(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	sent, err := f.svc.Upload(ctx, UploadInput{
		RoomID:   "7",
		FileName: "report.pdf",
		Content:  "term report",
		Body:     bytes.NewReader([]byte("%PDF-")),
	})
	require.NoError(t, err)

	msgs := f.msgs.Messages()
	require.Len(t, msgs, 1, "the upload call creates exactly one message")
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, "report.pdf", msgs[0].Attachment.Name)
	assert.Equal(t, "term report", msgs[0].Content)
	assert.Equal(t, sent.ID, msgs[0].ID)

	// Reload does not duplicate the upload-created message.
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	assert.Len(t, f.msgs.Messages(), 1)
}

func Test_Upload_RequiresFile(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	_, err := f.svc.Upload(ctx, UploadInput{RoomID: "7", Content: "no file"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.fb.uploads)
}

func Test_Download_FailureDoesNotTouchList(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	id := f.fb.addMessage("7", rawText("", "7", "with file", at(1)))
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))
	before := messageIDs(f.msgs.Messages())

	f.fb.downloadErr = ErrNetwork
	_, err := f.svc.Download(ctx, id)
	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, before, messageIDs(f.msgs.Messages()))
}

func Test_Download_StreamsBody(t *testing.T) {
	ctx, f := setUpMutations(t, admin)
	require.NoError(t, f.msgs.LoadAll(ctx, "7"))

	sent, err := f.svc.Upload(ctx, UploadInput{
		RoomID:   "7",
		FileName: "notes.txt",
		Body:     bytes.NewReader([]byte("hello notes")),
	})
	require.NoError(t, err)

	d, err := f.svc.Download(ctx, sent.ID)
	require.NoError(t, err)
	defer d.Body.Close()
	data, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello notes", string(data))
	assert.Equal(t, int64(len("hello notes")), d.Size)
}
