// Package store persists assistant state (users, to-dos, calendar events,
// reminders and long-term memories) in a local sqlite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("store: not found")

const timeLayout = time.RFC3339

// Store wraps the sqlite handle. Writes are serialized through mu; sqlite
// in WAL mode handles concurrent readers on its own.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS todos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			due_date TEXT,
			priority INTEGER NOT NULL DEFAULT 3,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_todos_user_status ON todos(user_id, status, created_at)`,
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_range ON calendar_events(user_id, start_time, end_time)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			chat_id TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			remind_time TEXT NOT NULL,
			is_sent INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(is_sent, remind_time)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			content='memories',
			content_rowid='id',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.id, old.content);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// EnsureUser creates the user row if it does not exist and refreshes the
// display name when one is provided.
func (s *Store) EnsureUser(userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, name) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET name = excluded.name WHERE excluded.name != ''
	`, userID, name)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

type User struct {
	UserID   string
	Name     string
	Timezone string
}

func (s *Store) GetUser(userID string) (*User, error) {
	var u User
	err := s.db.QueryRow(`SELECT user_id, name, timezone FROM users WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Name, &u.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) SetUserTimezone(userID, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE users SET timezone = ? WHERE user_id = ?`, tz, userID)
	if err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type Todo struct {
	ID        int64
	UserID    string
	Content   string
	Status    string
	DueDate   *time.Time
	Priority  int
	CreatedAt time.Time
}

func (s *Store) AddTodo(userID, content string, dueDate *time.Time, priority int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due any
	if dueDate != nil {
		due = dueDate.UTC().Format(timeLayout)
	}
	res, err := s.db.Exec(`
		INSERT INTO todos (user_id, content, due_date, priority) VALUES (?, ?, ?, ?)
	`, userID, content, due, priority)
	if err != nil {
		return 0, fmt.Errorf("add todo: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ListTodos(userID, status string, limit int) ([]Todo, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, content, status, due_date, priority, created_at
		FROM todos
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := make([]Todo, 0)
	for rows.Next() {
		var t Todo
		var due sql.NullString
		var created string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Content, &t.Status, &due, &t.Priority, &created); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		if due.Valid {
			if parsed, err := parseStoredTime(due.String); err == nil {
				t.DueDate = &parsed
			}
		}
		t.CreatedAt, _ = parseStoredTime(created)
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate todos: %w", err)
	}
	return todos, nil
}

// CompleteTodo marks a todo COMPLETED. Ownership is enforced in the WHERE
// clause so one user cannot complete another's item.
func (s *Store) CompleteTodo(userID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE todos SET status = 'COMPLETED' WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return fmt.Errorf("complete todo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type CalendarEvent struct {
	ID        int64
	UserID    string
	Title     string
	StartTime time.Time
	EndTime   time.Time
	Location  string
}

func (s *Store) AddEvent(userID, title string, start, end time.Time, location string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		INSERT INTO calendar_events (user_id, title, start_time, end_time, location)
		VALUES (?, ?, ?, ?, ?)
	`, userID, title, start.UTC().Format(timeLayout), end.UTC().Format(timeLayout), location)
	if err != nil {
		return 0, fmt.Errorf("add event: %w", err)
	}
	return res.LastInsertId()
}

// EventsOverlapping returns the user's events intersecting [start, end]:
// startA <= endB and endA >= startB.
func (s *Store) EventsOverlapping(userID string, start, end time.Time) ([]CalendarEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, start_time, end_time, location
		FROM calendar_events
		WHERE user_id = ? AND start_time <= ? AND end_time >= ?
		ORDER BY start_time
	`, userID, end.UTC().Format(timeLayout), start.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]CalendarEvent, 0)
	for rows.Next() {
		var e CalendarEvent
		var startStr, endStr string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &startStr, &endStr, &e.Location); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.StartTime, _ = parseStoredTime(startStr)
		e.EndTime, _ = parseStoredTime(endStr)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type Reminder struct {
	ID         int64
	UserID     string
	ChatID     string
	Channel    string
	Message    string
	RemindTime time.Time
	Sent       bool
}

func (s *Store) AddReminder(userID, chatID, channel, message string, remindTime time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		INSERT INTO reminders (user_id, chat_id, channel, message, remind_time)
		VALUES (?, ?, ?, ?, ?)
	`, userID, chatID, channel, message, remindTime.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("add reminder: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ListPendingReminders(userID string) ([]Reminder, error) {
	return s.queryReminders(`
		SELECT id, user_id, chat_id, channel, message, remind_time, is_sent
		FROM reminders
		WHERE user_id = ? AND is_sent = 0
		ORDER BY remind_time
	`, userID)
}

// DueReminders returns every unsent reminder whose time has passed.
func (s *Store) DueReminders(now time.Time) ([]Reminder, error) {
	return s.queryReminders(`
		SELECT id, user_id, chat_id, channel, message, remind_time, is_sent
		FROM reminders
		WHERE is_sent = 0 AND remind_time <= ?
		ORDER BY remind_time
	`, now.UTC().Format(timeLayout))
}

func (s *Store) queryReminders(query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	reminders := make([]Reminder, 0)
	for rows.Next() {
		var r Reminder
		var remindAt string
		var sent int
		if err := rows.Scan(&r.ID, &r.UserID, &r.ChatID, &r.Channel, &r.Message, &remindAt, &sent); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.RemindTime, _ = parseStoredTime(remindAt)
		r.Sent = sent != 0
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return reminders, nil
}

func (s *Store) CancelReminder(userID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM reminders WHERE id = ? AND user_id = ? AND is_sent = 0`, id, userID)
	if err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReminderSent flags the reminder delivered. Called even when delivery
// failed so a broken recipient never causes endless resends.
func (s *Store) MarkReminderSent(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE reminders SET is_sent = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// PurgeSentReminders deletes delivered reminders older than cutoff and
// returns how many rows were removed.
func (s *Store) PurgeSentReminders(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM reminders WHERE is_sent = 1 AND remind_time < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("purge sent reminders: %w", err)
	}
	return res.RowsAffected()
}

type Memory struct {
	ID        int64
	UserID    string
	Content   string
	CreatedAt time.Time
}

func (s *Store) AddMemory(userID, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`INSERT INTO memories (user_id, content) VALUES (?, ?)`, userID, content)
	if err != nil {
		return 0, fmt.Errorf("add memory: %w", err)
	}
	return res.LastInsertId()
}

// SearchMemories runs a full-text search over the user's memories. Query
// terms are sanitized and OR-joined so free-form model text never produces
// an FTS syntax error.
func (s *Store) SearchMemories(userID, query string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	match := buildFTSMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT m.id, m.user_id, m.content, m.created_at
		FROM memories m
		JOIN memories_fts f ON m.id = f.rowid
		WHERE memories_fts MATCH ? AND m.user_id = ?
		ORDER BY bm25(memories_fts)
		LIMIT ?
	`, match, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	memories := make([]Memory, 0)
	for rows.Next() {
		var m Memory
		var created string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt, _ = parseStoredTime(created)
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return memories, nil
}

// RecentMemories returns the newest memories for prompt context.
func (s *Store) RecentMemories(userID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, content, created_at
		FROM memories
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	defer rows.Close()

	memories := make([]Memory, 0)
	for rows.Next() {
		var m Memory
		var created string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CreatedAt, _ = parseStoredTime(created)
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return memories, nil
}

func parseStoredTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse stored time %q", s)
}

const maxFTSTokens = 16

// buildFTSMatchQuery turns free text into a safe fts5 MATCH expression:
// lowercased word tokens, reserved operators dropped, each term quoted and
// OR-joined.
func buildFTSMatchQuery(query string) string {
	reserved := map[string]struct{}{
		"and": {}, "or": {}, "not": {}, "near": {},
	}

	var b strings.Builder
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteByte(' ')
	}

	seen := make(map[string]struct{})
	quoted := make([]string, 0)
	for _, token := range strings.Fields(b.String()) {
		if _, blocked := reserved[token]; blocked {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		quoted = append(quoted, `"`+token+`"`)
		if len(quoted) >= maxFTSTokens {
			break
		}
	}
	return strings.Join(quoted, " OR ")
}
