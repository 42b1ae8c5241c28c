package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "cortana.db"))
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStoreReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cortana.db")

	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Idempotent reopen against the same path.
	s2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore reopen error: %v", err)
	}
	defer s2.Close()
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)

	if err := s.EnsureUser("u1", "Dana"); err != nil {
		t.Fatalf("EnsureUser error: %v", err)
	}
	// Second call must not fail and keeps the name current.
	if err := s.EnsureUser("u1", "DanaK"); err != nil {
		t.Fatalf("EnsureUser second call error: %v", err)
	}

	u, err := s.GetUser("u1")
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	if u.Name != "DanaK" {
		t.Errorf("name = %q, want DanaK", u.Name)
	}

	if _, err := s.GetUser("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(missing) = %v, want ErrNotFound", err)
	}
}

func TestSetUserTimezone(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureUser("u1", ""); err != nil {
		t.Fatalf("EnsureUser error: %v", err)
	}

	if err := s.SetUserTimezone("u1", "Europe/Berlin"); err != nil {
		t.Fatalf("SetUserTimezone error: %v", err)
	}
	u, err := s.GetUser("u1")
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	if u.Timezone != "Europe/Berlin" {
		t.Errorf("timezone = %q", u.Timezone)
	}

	if err := s.SetUserTimezone("missing", "UTC"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetUserTimezone(missing) = %v, want ErrNotFound", err)
	}
}

func TestTodosLifecycle(t *testing.T) {
	s := newTestStore(t)

	due := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	id, err := s.AddTodo("u1", "buy milk", &due, 2)
	if err != nil {
		t.Fatalf("AddTodo error: %v", err)
	}
	if _, err := s.AddTodo("u1", "call dentist", nil, 3); err != nil {
		t.Fatalf("AddTodo error: %v", err)
	}
	if _, err := s.AddTodo("u2", "other user's task", nil, 3); err != nil {
		t.Fatalf("AddTodo error: %v", err)
	}

	todos, err := s.ListTodos("u1", "PENDING", 10)
	if err != nil {
		t.Fatalf("ListTodos error: %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("len(todos) = %d, want 2", len(todos))
	}
	var withDue *Todo
	for i := range todos {
		if todos[i].ID == id {
			withDue = &todos[i]
		}
	}
	if withDue == nil {
		t.Fatal("added todo not listed")
	}
	if withDue.DueDate == nil || !withDue.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", withDue.DueDate, due)
	}
	if withDue.Priority != 2 {
		t.Errorf("priority = %d, want 2", withDue.Priority)
	}

	if err := s.CompleteTodo("u1", id); err != nil {
		t.Fatalf("CompleteTodo error: %v", err)
	}
	pending, err := s.ListTodos("u1", "PENDING", 10)
	if err != nil {
		t.Fatalf("ListTodos error: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending after complete = %d, want 1", len(pending))
	}
	completed, err := s.ListTodos("u1", "COMPLETED", 10)
	if err != nil {
		t.Fatalf("ListTodos error: %v", err)
	}
	if len(completed) != 1 {
		t.Errorf("completed = %d, want 1", len(completed))
	}
}

func TestCompleteTodoOwnership(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddTodo("u1", "private task", nil, 3)
	if err != nil {
		t.Fatalf("AddTodo error: %v", err)
	}

	if err := s.CompleteTodo("u2", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user complete = %v, want ErrNotFound", err)
	}
	if err := s.CompleteTodo("u1", 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id complete = %v, want ErrNotFound", err)
	}
}

func TestEventsOverlapping(t *testing.T) {
	s := newTestStore(t)

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	if _, err := s.AddEvent("u1", "standup", start, end, "office"); err != nil {
		t.Fatalf("AddEvent error: %v", err)
	}

	// overlapping range
	events, err := s.EventsOverlapping("u1", start.Add(30*time.Minute), start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("EventsOverlapping error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("overlap count = %d, want 1", len(events))
	}
	if events[0].Title != "standup" || events[0].Location != "office" {
		t.Errorf("event = %+v", events[0])
	}

	// adjacent ranges touch at the boundary and count as conflicts
	events, err = s.EventsOverlapping("u1", end, end.Add(time.Hour))
	if err != nil {
		t.Fatalf("EventsOverlapping error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("boundary overlap count = %d, want 1", len(events))
	}

	// disjoint range
	events, err = s.EventsOverlapping("u1", end.Add(time.Minute), end.Add(time.Hour))
	if err != nil {
		t.Fatalf("EventsOverlapping error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("disjoint overlap count = %d, want 0", len(events))
	}

	// other user sees nothing
	events, err = s.EventsOverlapping("u2", start, end)
	if err != nil {
		t.Fatalf("EventsOverlapping error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("cross-user overlap count = %d, want 0", len(events))
	}
}

func TestRemindersLifecycle(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	past, err := s.AddReminder("u1", "chat1", "telegram", "water the plants", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("AddReminder error: %v", err)
	}
	if _, err := s.AddReminder("u1", "chat1", "telegram", "future thing", now.Add(time.Hour)); err != nil {
		t.Fatalf("AddReminder error: %v", err)
	}

	pending, err := s.ListPendingReminders("u1")
	if err != nil {
		t.Fatalf("ListPendingReminders error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	due, err := s.DueReminders(now)
	if err != nil {
		t.Fatalf("DueReminders error: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	if due[0].ID != past || due[0].Message != "water the plants" {
		t.Errorf("due reminder = %+v", due[0])
	}
	if due[0].Channel != "telegram" || due[0].ChatID != "chat1" {
		t.Errorf("delivery target = %+v", due[0])
	}

	if err := s.MarkReminderSent(past); err != nil {
		t.Fatalf("MarkReminderSent error: %v", err)
	}
	due, err = s.DueReminders(now)
	if err != nil {
		t.Fatalf("DueReminders error: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("due after send = %d, want 0", len(due))
	}
}

func TestCancelReminder(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddReminder("u1", "c", "telegram", "msg", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("AddReminder error: %v", err)
	}

	if err := s.CancelReminder("u2", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user cancel = %v, want ErrNotFound", err)
	}
	if err := s.CancelReminder("u1", id); err != nil {
		t.Fatalf("CancelReminder error: %v", err)
	}
	if err := s.CancelReminder("u1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("double cancel = %v, want ErrNotFound", err)
	}
}

func TestMemoriesSearch(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddMemory("u1", "Dana's favorite coffee is a flat white"); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}
	if _, err := s.AddMemory("u1", "The cat is called Miso"); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}
	if _, err := s.AddMemory("u2", "someone else likes coffee too"); err != nil {
		t.Fatalf("AddMemory error: %v", err)
	}

	found, err := s.SearchMemories("u1", "what coffee does she like?", 5)
	if err != nil {
		t.Fatalf("SearchMemories error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found = %d, want 1", len(found))
	}
	if found[0].Content != "Dana's favorite coffee is a flat white" {
		t.Errorf("content = %q", found[0].Content)
	}

	// FTS operator words and punctuation must not break the query
	if _, err := s.SearchMemories("u1", `AND OR NOT "unbalanced`, 5); err != nil {
		t.Fatalf("SearchMemories with operators error: %v", err)
	}

	none, err := s.SearchMemories("u1", "???", 5)
	if err != nil {
		t.Fatalf("SearchMemories error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("empty-token search found %d", len(none))
	}
}

func TestRecentMemories(t *testing.T) {
	s := newTestStore(t)

	for _, content := range []string{"first", "second", "third"} {
		if _, err := s.AddMemory("u1", content); err != nil {
			t.Fatalf("AddMemory error: %v", err)
		}
	}

	recent, err := s.RecentMemories("u1", 2)
	if err != nil {
		t.Fatalf("RecentMemories error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	if recent[0].Content != "third" {
		t.Errorf("newest first, got %q", recent[0].Content)
	}
}

func TestBuildFTSMatchQuery(t *testing.T) {
	got := buildFTSMatchQuery("What's Dana's favorite coffee?")
	want := `"what" OR "s" OR "dana" OR "favorite" OR "coffee"`
	if got != want {
		t.Errorf("buildFTSMatchQuery = %q, want %q", got, want)
	}

	if got := buildFTSMatchQuery("AND OR NOT"); got != "" {
		t.Errorf("operators-only query = %q, want empty", got)
	}
}
