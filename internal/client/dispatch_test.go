package client

import (
	"testing"

	"github.com/LiquidCake/instantchat/internal/config"
	"github.com/LiquidCake/instantchat/internal/protocol"
	"github.com/LiquidCake/instantchat/internal/ws"
)

func i64(v int64) *int64 { return &v }

func itn(v int) *int { return &v }

func str(s string) *string { return &s }

func testConfig() config.Config {
	return config.Config{
		PickBackendURL:      "http://localhost:8080/pick_backend",
		WSPath:              "/ws_entry",
		WSScheme:            "ws",
		BuildNumber:         "7",
		Env:                 "test",
		KeepAliveSeconds:    5,
		ReconnectStepMillis: 1,
		MaxReconnectStep:    10,
	}
}

func testClient(t *testing.T) *RoomClient {
	t.Helper()
	c := New(testConfig(), protocol.RoomRef{Name: "general"}, "alice")
	t.Cleanup(c.Close)
	return c
}

func syncedClient(t *testing.T) *RoomClient {
	t.Helper()
	c := testClient(t)
	c.mu.Lock()
	c.state = ws.StateSynced
	c.everSynced = true
	c.mu.Unlock()
	c.store.SetSelfUserID("me")
	return c
}

// drainEvents 非阻塞取空事件队列。
func drainEvents(c *RoomClient) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []Event, kind EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func tmFrame(id int64, text, author string) protocol.InFrame {
	return protocol.InFrame{
		Command: protocol.TextMessage,
		Messages: []protocol.MessageDTO{{
			ID:             i64(id),
			Text:           str(protocol.EncodeText(text)),
			UserInRoomUUID: str(author),
			CreatedAtSec:   i64(1_700_000_000),
		}},
	}
}

func editFrame(id int64, text string, editedAt int64) protocol.InFrame {
	return protocol.InFrame{
		Command: protocol.TextMessageEdit,
		Messages: []protocol.MessageDTO{{
			ID:           i64(id),
			Text:         str(protocol.EncodeText(text)),
			LastEditedAt: i64(editedAt),
		}},
	}
}

func voteFrame(id int64, support, reject int, votedAt int64) protocol.InFrame {
	return protocol.InFrame{
		Command: protocol.TextMessageSupportOrReject,
		Messages: []protocol.MessageDTO{{
			ID:             i64(id),
			SupportedCount: itn(support),
			RejectedCount:  itn(reject),
			LastVotedAt:    i64(votedAt),
		}},
	}
}

func deleteFrame(id int64) protocol.InFrame {
	return protocol.InFrame{
		Command:  protocol.TextMessageDelete,
		Messages: []protocol.MessageDTO{{ID: i64(id)}},
	}
}

func errorFrame(code string) protocol.InFrame {
	return protocol.InFrame{
		Command:  protocol.Error,
		Messages: []protocol.MessageDTO{{Text: str(code)}},
	}
}

func rosterFrame(at int64, idNames ...string) protocol.InFrame {
	f := protocol.InFrame{Command: protocol.RoomMembersChanged, CreatedAt: i64(at)}
	online := true
	for i := 0; i+1 < len(idNames); i += 2 {
		f.RoomUsers = append(f.RoomUsers, protocol.RoomUserDTO{
			UserInRoomUUID: str(idNames[i]),
			UserName:       str(idNames[i+1]),
			IsOnlineInRoom: &online,
		})
	}
	return f
}

func descriptionFrame(text string, at int64, creator string) protocol.InFrame {
	return protocol.InFrame{
		Command:         protocol.RoomChangeDescription,
		Messages:        []protocol.MessageDTO{{Text: str(protocol.EncodeText(text))}},
		CreatedAt:       i64(at),
		RoomCreatorUUID: str(creator),
	}
}

func joinAckFrame(build string) protocol.InFrame {
	return protocol.InFrame{
		Command:           protocol.RequestProcessed,
		RequestID:         str(protocol.JoinRequestTag),
		BuildNumber:       str(build),
		RoomUUID:          str("room-1"),
		UserInRoomUUID:    str("me"),
		ProcessingDetails: str("room_created;password=false"),
		CreatedAt:         i64(1_700_000_000_000_000_000),
	}
}

func TestHandleTextMessage_Inserted(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(tmFrame(1, "hello there", "u-1"))

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len(Messages()) = %d, want 1", len(msgs))
	}
	if msgs[0].Text != "hello there" {
		t.Errorf("Text = %q, want hello there", msgs[0].Text)
	}
	// The author is not in the roster yet.
	if msgs[0].AuthorName != protocol.UnknownUserName {
		t.Errorf("AuthorName = %q, want %q", msgs[0].AuthorName, protocol.UnknownUserName)
	}
}

func TestEditBeforeMessage_BufferedThenReplayed(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(editFrame(1, "edited text", 500))
	if c.pend.size() != 1 {
		t.Fatalf("pending size = %d, want 1", c.pend.size())
	}
	if len(c.Messages()) != 0 {
		t.Fatal("edit applied before the message body arrived")
	}

	c.handleFrame(tmFrame(1, "original", "u-1"))

	m, ok := c.Message(1)
	if !ok {
		t.Fatal("message not inserted")
	}
	if m.Text != "edited text" {
		t.Errorf("Text = %q, want edited text", m.Text)
	}
	if !m.WasEdited {
		t.Error("WasEdited = false after replayed edit")
	}
	if c.pend.size() != 0 {
		t.Errorf("pending size = %d, want 0 after replay", c.pend.size())
	}
}

func TestVoteBeforeMessage_BufferedThenReplayed(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(voteFrame(1, 3, 1, 500))
	c.handleFrame(tmFrame(1, "msg", "u-1"))

	m, _ := c.Message(1)
	if m.SupportCount != 3 || m.RejectCount != 1 {
		t.Errorf("counts = %d/%d, want 3/1", m.SupportCount, m.RejectCount)
	}
}

func TestDeleteBeforeMessage_TombstonesAndEvicts(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(editFrame(1, "edited", 500))
	c.handleFrame(deleteFrame(1))

	if c.pend.size() != 0 {
		t.Errorf("pending size = %d, want 0 after delete", c.pend.size())
	}

	// Late-arriving body must not resurrect the message.
	c.handleFrame(tmFrame(1, "late", "u-1"))
	if len(c.Messages()) != 0 {
		t.Error("deleted message was resurrected by its late body")
	}
}

func TestStaleEditDropped(t *testing.T) {
	c := syncedClient(t)

	f := tmFrame(1, "v2", "u-1")
	f.Messages[0].LastEditedAt = i64(200)
	c.handleFrame(f)

	c.handleFrame(editFrame(1, "stale", 150))

	m, _ := c.Message(1)
	if m.Text != "v2" {
		t.Errorf("Text = %q, want v2", m.Text)
	}
}

func TestStaleRosterDiscarded(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(rosterFrame(200, "u-1", "alice"))
	c.handleFrame(rosterFrame(100, "u-1", "old-name"))

	users := c.Users()
	if len(users) != 1 || users[0].Name != "alice" {
		t.Errorf("Users() = %+v, want single alice", users)
	}
}

func TestDescriptionQueuedUntilJoinAck(t *testing.T) {
	c := testClient(t)
	c.mu.Lock()
	c.state = ws.StateAwaitingJoinAck
	c.mu.Unlock()

	c.handleFrame(descriptionFrame("welcome", 100, "creator-1"))
	if got := c.Room().Description; got != "" {
		t.Fatalf("Description = %q before join ack, want empty", got)
	}

	c.handleFrame(joinAckFrame("7"))

	r := c.Room()
	if r.Description != "welcome" {
		t.Errorf("Description = %q, want welcome", r.Description)
	}
	if r.CreatorUserID != "creator-1" {
		t.Errorf("CreatorUserID = %q, want creator-1", r.CreatorUserID)
	}
	if c.State() != ws.StateSynced {
		t.Errorf("State() = %v, want synced", c.State())
	}
	if c.SelfUserID() != "me" {
		t.Errorf("SelfUserID() = %q, want me", c.SelfUserID())
	}
}

func TestJoinAck_ResetsReconnectAttempts(t *testing.T) {
	c := testClient(t)
	c.mu.Lock()
	c.state = ws.StateAwaitingJoinAck
	c.attempt = 6
	c.mu.Unlock()

	c.handleFrame(joinAckFrame("7"))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != 0 {
		t.Errorf("attempt = %d, want 0 after successful join", c.attempt)
	}
}

func TestJoinAck_RedeliveredWhileSyncedIgnored(t *testing.T) {
	c := testClient(t)
	c.mu.Lock()
	c.state = ws.StateAwaitingJoinAck
	c.mu.Unlock()

	c.handleFrame(joinAckFrame("7"))
	drainEvents(c)
	c.mu.Lock()
	c.attempt = 3
	c.mu.Unlock()

	// At-least-once delivery: a second copy of the ack is a no-op.
	c.handleFrame(joinAckFrame("7"))

	if events := drainEvents(c); len(events) != 0 {
		t.Errorf("redelivered join ack produced %d events, want 0", len(events))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != 3 {
		t.Errorf("attempt = %d after redelivered ack, want 3 untouched", c.attempt)
	}
}

func TestPendingReplay_ArrivalOrder(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(editFrame(1, "first edit", 500))
	c.handleFrame(voteFrame(1, 2, 0, 400))
	c.handleFrame(editFrame(1, "second edit", 600))

	queued := c.pend.byID[1]
	wantCommands := []protocol.Command{
		protocol.TextMessageEdit,
		protocol.TextMessageSupportOrReject,
		protocol.TextMessageEdit,
	}
	if len(queued) != len(wantCommands) {
		t.Fatalf("len(queued) = %d, want %d", len(queued), len(wantCommands))
	}
	for i, want := range wantCommands {
		if queued[i].Command != want {
			t.Errorf("queued[%d].Command = %v, want %v", i, queued[i].Command, want)
		}
	}

	c.handleFrame(tmFrame(1, "original", "u-1"))

	m, _ := c.Message(1)
	if m.Text != "second edit" {
		t.Errorf("Text = %q, want second edit", m.Text)
	}
	if m.SupportCount != 2 {
		t.Errorf("SupportCount = %d, want 2", m.SupportCount)
	}
	if c.pend.size() != 0 {
		t.Errorf("pending size = %d, want 0 after replay", c.pend.size())
	}
}

func TestJoinAck_BuildMismatchIsTerminal(t *testing.T) {
	c := testClient(t)
	c.mu.Lock()
	c.state = ws.StateAwaitingJoinAck
	c.mu.Unlock()

	c.handleFrame(joinAckFrame("8"))

	if c.State() != ws.StateVersionMismatch {
		t.Errorf("State() = %v, want version_mismatch", c.State())
	}
	events := drainEvents(c)
	if !hasEvent(events, EventFatal) {
		t.Error("no fatal event after build mismatch")
	}
	for _, ev := range events {
		if ev.Kind == EventFatal && ev.Err != ErrVersionMismatch {
			t.Errorf("fatal err = %v, want %v", ev.Err, ErrVersionMismatch)
		}
	}
	select {
	case <-c.Done():
	default:
		t.Error("session not shut down after build mismatch")
	}
}

func TestDuplicateSessionIsTerminal(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(errorFrame("209"))

	if c.State() != ws.StateDuplicateSession {
		t.Errorf("State() = %v, want duplicate_session", c.State())
	}
	select {
	case <-c.Done():
	default:
		t.Error("session not shut down after duplicate session error")
	}
}

func TestErrorBeforeSyncIsFatal(t *testing.T) {
	c := testClient(t)
	c.mu.Lock()
	c.state = ws.StateAwaitingJoinAck
	c.mu.Unlock()

	f := errorFrame("203")
	f.ProcessingDetails = str("_2;_3")
	c.handleFrame(f)

	events := drainEvents(c)
	if !hasEvent(events, EventFatal) {
		t.Fatal("no fatal event for pre-join business error")
	}
	for _, ev := range events {
		if ev.Kind == EventFatal && ev.Business != nil {
			if ev.Business.Code != protocol.CodeInvalidPassword {
				t.Errorf("Code = %d, want %d", ev.Business.Code, protocol.CodeInvalidPassword)
			}
			if len(ev.Business.AlternativeNamePostfixes) != 2 {
				t.Errorf("postfixes = %v, want 2 entries", ev.Business.AlternativeNamePostfixes)
			}
		}
	}
}

func TestActionErrorRejectsTrackedAction(t *testing.T) {
	c := syncedClient(t)
	c.mu.Lock()
	tag := c.tracker.begin()
	c.mu.Unlock()

	f := errorFrame("207")
	f.RequestID = str(tag)
	c.handleFrame(f)

	if !hasEvent(drainEvents(c), EventActionRejected) {
		t.Error("no rejection event for tracked action")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracker.busy() {
		t.Error("tracker still busy after rejection")
	}
}

func TestResync_PurgesMarkedWithoutDuplicates(t *testing.T) {
	c := syncedClient(t)
	c.handleFrame(tmFrame(1, "one", "u-1"))
	c.handleFrame(tmFrame(2, "two", "u-1"))

	c.prepareReconnect()

	// A live message lands between reconnect and the full sync.
	c.handleFrame(tmFrame(3, "three", "u-1"))

	resync := protocol.InFrame{
		Command:   protocol.AllTextMessages,
		CreatedAt: i64(900),
		Messages: []protocol.MessageDTO{
			{ID: i64(1), Text: str("one"), UserInRoomUUID: str("u-1"), CreatedAtSec: i64(1_700_000_000)},
			{ID: i64(2), Text: str("two"), UserInRoomUUID: str("u-1"), CreatedAtSec: i64(1_700_000_000)},
			{ID: i64(3), Text: str("three"), UserInRoomUUID: str("u-1"), CreatedAtSec: i64(1_700_000_000)},
		},
	}
	c.handleFrame(resync)

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len(Messages()) = %d, want 3", len(msgs))
	}
	for i, want := range []int64{1, 2, 3} {
		if msgs[i].ID != want {
			t.Errorf("Messages()[%d].ID = %d, want %d", i, msgs[i].ID, want)
		}
		if msgs[i].MarkedForCleanup {
			t.Errorf("message %d still marked for cleanup", msgs[i].ID)
		}
	}
	// Snapshot entries inherit the sync timestamp as their edit watermark.
	if msgs[0].EditedAt != 900 {
		t.Errorf("EditedAt = %d, want 900", msgs[0].EditedAt)
	}
	// Stale edits from before the snapshot are now rejected.
	c.handleFrame(editFrame(1, "stale", 800))
	m, _ := c.Message(1)
	if m.Text != "one" {
		t.Errorf("Text = %q, want one", m.Text)
	}
}

func TestResync_RespectsTombstones(t *testing.T) {
	c := syncedClient(t)
	c.handleFrame(deleteFrame(5))

	resync := protocol.InFrame{
		Command:   protocol.AllTextMessages,
		CreatedAt: i64(900),
		Messages: []protocol.MessageDTO{
			{ID: i64(5), Text: str("ghost"), UserInRoomUUID: str("u-1")},
		},
	}
	c.handleFrame(resync)

	if len(c.Messages()) != 0 {
		t.Error("tombstoned message reappeared through full sync")
	}
}

func TestLimitNotifications(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(protocol.InFrame{Command: protocol.NotifyMessagesLimitApproaching})
	c.handleFrame(protocol.InFrame{Command: protocol.NotifyMessagesLimitReached})

	events := drainEvents(c)
	if !hasEvent(events, EventLimitApproaching) {
		t.Error("no limit-approaching event")
	}
	if !hasEvent(events, EventLimitReached) {
		t.Error("no limit-reached event")
	}
}

func TestRename_BackfillsUnknownAuthors(t *testing.T) {
	c := syncedClient(t)

	c.handleFrame(tmFrame(1, "hi", "u-9"))
	c.handleFrame(rosterFrame(100, "u-9", "bob"))

	m, _ := c.Message(1)
	if m.AuthorName != "bob" {
		t.Errorf("AuthorName = %q, want bob", m.AuthorName)
	}
}

func TestMessageViews_MarksSelfAndCreator(t *testing.T) {
	c := syncedClient(t)
	c.handleFrame(descriptionFrame("d", 10, "creator-1"))
	c.handleFrame(tmFrame(1, "mine", "me"))
	c.handleFrame(tmFrame(2, "theirs", "creator-1"))

	views := c.MessageViews()
	if len(views) != 2 {
		t.Fatalf("len(MessageViews()) = %d, want 2", len(views))
	}
	if !views[0].IsSelf || views[0].IsRoomCreator {
		t.Errorf("view #1 = self:%v creator:%v, want self only", views[0].IsSelf, views[0].IsRoomCreator)
	}
	if views[1].IsSelf || !views[1].IsRoomCreator {
		t.Errorf("view #2 = self:%v creator:%v, want creator only", views[1].IsSelf, views[1].IsRoomCreator)
	}
}

func TestSearch_RebuildOnDataChange(t *testing.T) {
	c := syncedClient(t)
	c.handleFrame(tmFrame(1, "alpha beta", "u-1"))

	hit, ok := c.SearchNext("beta")
	if !ok || hit.MessageID != 1 {
		t.Fatalf("SearchNext() = (%+v, %v), want hit in message 1", hit, ok)
	}

	// New data invalidates the index; the next search sees message 2.
	c.handleFrame(tmFrame(2, "beta again", "u-1"))
	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		h, ok := c.SearchNext("beta")
		if !ok {
			t.Fatal("SearchNext() found nothing after rebuild")
		}
		seen[h.MessageID] = true
	}
	if !seen[2] {
		t.Error("SearchNext() never reached the newly arrived message")
	}
}

func TestDrawingMessageParsed(t *testing.T) {
	c := syncedClient(t)

	f := protocol.InFrame{
		Command: protocol.UserDrawingMessage,
		Messages: []protocol.MessageDTO{{
			ID:             i64(1),
			Text:           str(protocol.EncodeText(protocol.DrawingMetaMarker + "sketch-17.png")),
			UserInRoomUUID: str("u-1"),
		}},
	}
	c.handleFrame(f)

	m, _ := c.Message(1)
	if !m.IsDrawing {
		t.Fatal("IsDrawing = false for drawing message")
	}
	if m.DrawingName != "sketch-17.png" {
		t.Errorf("DrawingName = %q, want sketch-17.png", m.DrawingName)
	}
}
