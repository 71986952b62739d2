// Package store implements SQLite persistence for users and search tasks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/seqbox/blastweb/app/web/enums"
)

// ErrNotFound is returned when the requested record doesn't exist.
var ErrNotFound = errors.New("not found")

// User is a registered account. Passwords are kept as bcrypt hashes only.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Task is one search submission with its current state and, once finished,
// the JSON-encoded result summary or the failure message.
type Task struct {
	ID         string // uuid
	TaskName   string // "<program>_<database>_<timestamp>", unique
	UserID     int64
	Program    string
	Database   string
	Sequence   string
	Status     enums.TaskStatus
	Result     string // JSON array of hits, empty until success
	Error      string // failure message, empty unless failed
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store provides persistence using SQLite
type Store struct {
	db *sqlx.DB
}

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			taskname TEXT NOT NULL UNIQUE,
			user_id INTEGER NOT NULL,
			program TEXT NOT NULL,
			db_name TEXT NOT NULL,
			sequence TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// row types keep timestamps as unix seconds in the database

type userRow struct {
	ID           int64  `db:"id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    int64  `db:"created_at"`
}

func (r userRow) user() User {
	return User{ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash, CreatedAt: time.Unix(r.CreatedAt, 0)}
}

type taskRow struct {
	ID         string        `db:"id"`
	TaskName   string        `db:"taskname"`
	UserID     int64         `db:"user_id"`
	Program    string        `db:"program"`
	Database   string        `db:"db_name"`
	Sequence   string        `db:"sequence"`
	Status     string        `db:"status"`
	Result     string        `db:"result"`
	Error      string        `db:"error"`
	CreatedAt  int64         `db:"created_at"`
	StartedAt  sql.NullInt64 `db:"started_at"`
	FinishedAt sql.NullInt64 `db:"finished_at"`
}

func (r taskRow) task() Task {
	t := Task{
		ID:        r.ID,
		TaskName:  r.TaskName,
		UserID:    r.UserID,
		Program:   r.Program,
		Database:  r.Database,
		Sequence:  r.Sequence,
		Result:    r.Result,
		Error:     r.Error,
		CreatedAt: time.Unix(r.CreatedAt, 0),
	}
	if status, err := enums.ParseTaskStatus(r.Status); err == nil {
		t.Status = status
	}
	if r.StartedAt.Valid && r.StartedAt.Int64 > 0 {
		t.StartedAt = time.Unix(r.StartedAt.Int64, 0)
	}
	if r.FinishedAt.Valid && r.FinishedAt.Int64 > 0 {
		t.FinishedAt = time.Unix(r.FinishedAt.Int64, 0)
	}
	return t
}

// CreateUser inserts a new user and returns it with the assigned ID.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, now.Unix())
	if err != nil {
		return User{}, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("failed to get user id: %w", err)
	}
	return User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetUser retrieves a user by username. Returns ErrNotFound if missing.
func (s *Store) GetUser(ctx context.Context, username string) (User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user %s: %w", username, err)
	}
	return row.user(), nil
}

// CreateTask inserts a new task in pending state. A zero CreatedAt is
// replaced with the current time, the zero time must never reach the
// database where it would break newest-first ordering.
func (s *Store) CreateTask(ctx context.Context, task Task) error {
	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, taskname, user_id, program, db_name, sequence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.TaskName, task.UserID, task.Program, task.Database, task.Sequence,
		enums.TaskStatusPending.String(), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.TaskName, err)
	}
	return nil
}

const taskColumns = `id, taskname, user_id, program, db_name, sequence, status, result, error, created_at, started_at, finished_at`

// GetTask retrieves a task by ID. Returns ErrNotFound if missing.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return row.task(), nil
}

// ListTasks returns all tasks of a user, newest first.
func (s *Store) ListTasks(ctx context.Context, userID int64) ([]Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, taskname DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for user %d: %w", userID, err)
	}
	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.task())
	}
	return tasks, nil
}

// ListPending returns all tasks still in pending state, oldest first. Used
// to re-dispatch tasks stranded by a restart or a full submission queue.
func (s *Store) ListPending(ctx context.Context) ([]Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC`,
		enums.TaskStatusPending.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.task())
	}
	return tasks, nil
}

// HasActive reports whether the user has a pending or running task.
func (s *Store) HasActive(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tasks WHERE user_id = ? AND status IN (?, ?)`,
		userID, enums.TaskStatusPending.String(), enums.TaskStatusRunning.String())
	if err != nil {
		return false, fmt.Errorf("failed to count active tasks for user %d: %w", userID, err)
	}
	return count > 0, nil
}

// SetRunning marks a task as started.
func (s *Store) SetRunning(ctx context.Context, id string, startedAt time.Time) error {
	return s.updateStatus(ctx, id, `UPDATE tasks SET status = ?, started_at = ? WHERE id = ?`,
		enums.TaskStatusRunning.String(), startedAt.Unix(), id)
}

// Complete marks a task as succeeded and stores the result JSON.
func (s *Store) Complete(ctx context.Context, id, result string, finishedAt time.Time) error {
	return s.updateStatus(ctx, id, `UPDATE tasks SET status = ?, result = ?, finished_at = ? WHERE id = ?`,
		enums.TaskStatusSuccess.String(), result, finishedAt.Unix(), id)
}

// Fail marks a task as failed and stores the error message.
func (s *Store) Fail(ctx context.Context, id, errMsg string, finishedAt time.Time) error {
	return s.updateStatus(ctx, id, `UPDATE tasks SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		enums.TaskStatusFailed.String(), errMsg, finishedAt.Unix(), id)
}

func (s *Store) updateStatus(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of task %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task, enforcing ownership. Returns ErrNotFound when
// the task doesn't exist or belongs to another user.
func (s *Store) DeleteTask(ctx context.Context, id string, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete of task %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeFinished deletes succeeded and failed tasks finished before the
// cutoff, returns the number of removed rows.
func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE status IN (?, ?) AND finished_at < ?`,
		enums.TaskStatusSuccess.String(), enums.TaskStatusFailed.String(), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished tasks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged tasks: %w", err)
	}
	return affected, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
