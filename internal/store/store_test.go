package store

import (
	"path/filepath"
	"strings"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.AppendMessage(&Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Timestamp: 1000, Status: StatusSent}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
}

func TestAppendAssignsSeq(t *testing.T) {
	db := testDB(t)

	a := &Message{ID: "a", SenderID: "u1", ReceiverID: "u2", Content: "one", Status: StatusSent, Timestamp: 1000}
	b := &Message{ID: "b", SenderID: "u1", ReceiverID: "u2", Content: "two", Status: StatusSent, Timestamp: 999}
	if err := db.AppendMessage(a); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendMessage(b); err != nil {
		t.Fatal(err)
	}
	if a.Seq == 0 || b.Seq <= a.Seq {
		t.Errorf("seqs = %d, %d; want strictly increasing", a.Seq, b.Seq)
	}

	// Arrival order wins over timestamp order.
	msgs, err := db.Conversation("u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Errorf("conversation order = %v, want [a b]", ids(msgs))
	}
}

func TestReplaceKeepsPosition(t *testing.T) {
	db := testDB(t)

	tmp := &Message{ID: NewTempID(), SenderID: "u1", ReceiverID: "u2", Content: "hi", Status: StatusSent, Timestamp: 1000}
	if err := db.AppendMessage(tmp); err != nil {
		t.Fatal(err)
	}
	later := &Message{ID: "later", SenderID: "u2", ReceiverID: "u1", Content: "yo", Status: StatusSent, Timestamp: 2000}
	if err := db.AppendMessage(later); err != nil {
		t.Fatal(err)
	}

	confirmed := &Message{ID: "42", SenderID: "u1", ReceiverID: "u2", Content: "hi", Status: StatusDelivered, Timestamp: 1100}
	if err := db.ReplaceMessage(tmp.Seq, confirmed); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.Conversation("u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "42" {
		t.Errorf("first message id = %q, want 42 (replaced in place)", msgs[0].ID)
	}
	if msgs[0].Seq != tmp.Seq {
		t.Errorf("seq = %d, want %d (position unchanged)", msgs[0].Seq, tmp.Seq)
	}
	if old, _ := db.GetMessage(tmp.ID); old != nil {
		t.Error("temporary id still present after replace")
	}
}

func TestFindEchoCandidate(t *testing.T) {
	db := testDB(t)
	tmp := &Message{ID: NewTempID(), SenderID: "u1", ReceiverID: "u2", Content: "hi", Status: StatusSent, Timestamp: 10_000}
	if err := db.AppendMessage(tmp); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		sender   string
		content  string
		aroundMs int64
		want     bool
	}{
		{"within window", "u1", "hi", 12_000, true},
		{"window edge excluded", "u1", "hi", 15_000, false},
		{"different content", "u1", "hello", 10_000, false},
		{"different sender", "u3", "hi", 10_000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.FindEchoCandidate(tt.sender, "u2", tt.content, tt.aroundMs, 5000)
			if err != nil {
				t.Fatal(err)
			}
			if (got != nil) != tt.want {
				t.Errorf("match = %v, want %v", got != nil, tt.want)
			}
		})
	}
}

func TestConversationFiltersUnorderedPair(t *testing.T) {
	db := testDB(t)
	seed := []*Message{
		{ID: "1", SenderID: "u1", ReceiverID: "u2", Timestamp: 1, Status: StatusSent},
		{ID: "2", SenderID: "u2", ReceiverID: "u1", Timestamp: 2, Status: StatusSent},
		{ID: "3", SenderID: "u1", ReceiverID: "u3", Timestamp: 3, Status: StatusSent},
		{ID: "4", SenderID: "u3", ReceiverID: "u2", Timestamp: 4, Status: StatusSent},
	}
	for _, m := range seed {
		if err := db.AppendMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.Conversation("u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(msgs); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("conversation = %v, want [1 2]", got)
	}
}

func TestBulkMarkRead(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := db.AppendMessage(&Message{ID: id, SenderID: "u1", ReceiverID: "u2", Timestamp: 1, Status: StatusSent}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkRead("a", 100); err != nil {
		t.Fatal(err)
	}

	// "a" is already read; only b and c change.
	n, err := db.BulkMarkRead([]string{"a", "b", "c", "missing"}, 200)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("changed = %d, want 2", n)
	}
	for _, id := range []string{"a", "b", "c"} {
		m, err := db.GetMessage(id)
		if err != nil {
			t.Fatal(err)
		}
		if m.Status != StatusRead || !m.IsRead {
			t.Errorf("message %s status = %s isRead = %v, want read/true", id, m.Status, m.IsRead)
		}
	}
}

func TestRoomUpsertAndUnread(t *testing.T) {
	db := testDB(t)

	m1 := &Message{ID: "m1", SenderID: "peer", ReceiverID: "me", Content: "hey", Timestamp: 100}
	if err := db.UpsertRoomLastMessage("peer", m1, true); err != nil {
		t.Fatal(err)
	}
	m2 := &Message{ID: "m2", SenderID: "me", ReceiverID: "peer", Content: "hey back", Timestamp: 200}
	if err := db.UpsertRoomLastMessage("peer", m2, false); err != nil {
		t.Fatal(err)
	}

	r, err := db.GetRoom("peer")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("room not created")
	}
	if r.LastMessageID != "m2" || r.LastMessageSenderID != "me" {
		t.Errorf("last message = %s by %s, want m2 by me", r.LastMessageID, r.LastMessageSenderID)
	}
	if r.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", r.UnreadCount)
	}
}

func TestDecrementUnreadFloorsAtZero(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceRooms([]Room{{PeerID: "peer", UnreadCount: 1}}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := db.DecrementUnread("peer"); err != nil {
			t.Fatal(err)
		}
	}
	r, err := db.GetRoom("peer")
	if err != nil {
		t.Fatal(err)
	}
	if r.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 (floored)", r.UnreadCount)
	}
}

func TestSumUnread(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceRooms([]Room{
		{PeerID: "a", UnreadCount: 2},
		{PeerID: "b", UnreadCount: 3},
	}); err != nil {
		t.Fatal(err)
	}
	n, err := db.SumUnread()
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("SumUnread = %d, want 5", n)
	}
}

func TestClearWipesSession(t *testing.T) {
	db := testDB(t)
	if err := db.AppendMessage(&Message{ID: "m", SenderID: "a", ReceiverID: "b", Timestamp: 1, Status: StatusSent}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceRooms([]Room{{PeerID: "a", UnreadCount: 2}}); err != nil {
		t.Fatal(err)
	}

	if err := db.Clear(); err != nil {
		t.Fatal(err)
	}

	if m, _ := db.GetMessage("m"); m != nil {
		t.Error("message survived Clear")
	}
	rooms, _ := db.ListRooms()
	if len(rooms) != 0 {
		t.Errorf("%d rooms survived Clear", len(rooms))
	}
}

func TestNewTempID(t *testing.T) {
	id := NewTempID()
	if !strings.HasPrefix(id, TempIDPrefix) {
		t.Errorf("temp id %q missing prefix", id)
	}
	if id == NewTempID() {
		t.Error("temp ids collide")
	}
	m := Message{ID: id}
	if !m.IsTemp() {
		t.Error("IsTemp() = false for temp id")
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
