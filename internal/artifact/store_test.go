package artifact

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStore_AppendAssignsIncreasingIDs(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Append("conv-1", "猫 草地 阳光", "AAAA", "image/png")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	b, err := s.Append("conv-1", "狗 海边", "BBBB", "image/jpeg")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if a.ID <= 0 {
		t.Errorf("first id = %d, want > 0", a.ID)
	}
	if b.ID <= a.ID {
		t.Errorf("ids not increasing: %d then %d", a.ID, b.ID)
	}
}

func TestStore_ListForConversationOrderAndIsolation(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Append("conv-1", "first", "AA", "image/png"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append("conv-2", "other", "BB", "image/png"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append("conv-1", "second", "CC", "image/png"); err != nil {
		t.Fatalf("append: %v", err)
	}

	imgs, err := s.ListForConversation("conv-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(imgs) != 2 {
		t.Fatalf("got %d images, want 2", len(imgs))
	}
	if imgs[0].Prompt != "first" || imgs[1].Prompt != "second" {
		t.Errorf("wrong order: %q, %q", imgs[0].Prompt, imgs[1].Prompt)
	}
}

func TestStore_ListForConversationEmpty(t *testing.T) {
	s := newTestStore(t)

	imgs, err := s.ListForConversation("nothing-here")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if imgs == nil {
		t.Error("want empty slice, got nil")
	}
	if len(imgs) != 0 {
		t.Errorf("got %d images, want 0", len(imgs))
	}
}

func TestStore_GetByID(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Append("conv-1", "一只猫", "DATA", "image/png")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	img, err := s.GetByID(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if img == nil {
		t.Fatal("image not found")
	}
	if img.Prompt != "一只猫" || img.Data != "DATA" {
		t.Errorf("got %+v", img)
	}

	missing, err := s.GetByID(created.ID + 100)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing id, got %+v", missing)
	}
}

func TestStore_ListRecentWindow(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Append("conv-1", "fresh", "AA", "image/png"); err != nil {
		t.Fatalf("append: %v", err)
	}

	recent, err := s.ListRecent("conv-1", 2*time.Minute, 5)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("got %d recent, want 1", len(recent))
	}

	// A zero-width window excludes the row just written.
	none, err := s.ListRecent("conv-1", -time.Second, 5)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d images outside window, want 0", len(none))
	}
}

func TestStore_DeleteForConversation(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Append("conv-1", "a", "AA", "image/png"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append("conv-2", "b", "BB", "image/png"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.DeleteForConversation("conv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	n, err := s.Count("conv-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("conv-1 count = %d, want 0", n)
	}

	n, err = s.Count("conv-2")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("conv-2 count = %d, want 1", n)
	}
}

func TestStore_PromptTruncation(t *testing.T) {
	s := newTestStore(t)

	long := ""
	for i := 0; i < 50; i++ {
		long += "abcdefghij"
	}
	img, err := s.Append("conv-1", long, "AA", "image/png")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(img.Prompt) != promptLimit {
		t.Errorf("prompt length = %d, want %d", len(img.Prompt), promptLimit)
	}
}

func TestStore_PromptTruncationRuneBoundary(t *testing.T) {
	s := newTestStore(t)

	// 199 ASCII bytes followed by multi-byte runes. A byte slice at the
	// limit would cut 猫 in half.
	long := strings.Repeat("a", promptLimit-1) + "猫草地"
	img, err := s.Append("conv-1", long, "AA", "image/png")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !utf8.ValidString(img.Prompt) {
		t.Errorf("stored prompt is not valid UTF-8: %q", img.Prompt)
	}
	if len(img.Prompt) > promptLimit {
		t.Errorf("prompt length = %d, want <= %d", len(img.Prompt), promptLimit)
	}
	if img.Prompt != strings.Repeat("a", promptLimit-1) {
		t.Errorf("prompt tail = %q, want the partial rune dropped", img.Prompt[promptLimit-10:])
	}
}
