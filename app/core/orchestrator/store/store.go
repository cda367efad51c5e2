package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aide0/app/core/orchestrator/db"
)

// Store owns task and event rows. Every mutation is individually
// transactional at the sqlite layer; no lock is held across calls.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) CreateTask(ctx context.Context, userID string, title string, due string, notes string) (Task, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Task{}, fmt.Errorf("user_id is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Task"
	}
	now := time.Now().Unix()
	t := Task{
		ID:        "task-" + uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Status:    TaskStatusOpen,
		Due:       strings.TrimSpace(due),
		Notes:     strings.TrimSpace(notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	query := `INSERT INTO tasks (id, user_id, title, status, due, notes, created_at, updated_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`
	if _, err := s.db.Conn().ExecContext(ctx, query, t.ID, t.UserID, t.Title, t.Status, t.Due, t.Notes, t.CreatedAt, t.UpdatedAt); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (Task, error) {
	query := `SELECT id, user_id, title, status, COALESCE(due, ''), COALESCE(notes, ''), created_at, updated_at, COALESCE(completed_at, 0) FROM tasks WHERE id = ?`
	var t Task
	err := s.db.Conn().QueryRowContext(ctx, query, taskID).Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Status,
		&t.Due,
		&t.Notes,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, userID string, status string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		query string
		args  []interface{}
	)
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "all":
		query = `SELECT id, user_id, title, status, COALESCE(due, ''), COALESCE(notes, ''), created_at, updated_at, COALESCE(completed_at, 0) FROM tasks WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`
		args = []interface{}{userID, limit}
	case TaskStatusOpen, TaskStatusDone:
		query = `SELECT id, user_id, title, status, COALESCE(due, ''), COALESCE(notes, ''), created_at, updated_at, COALESCE(completed_at, 0) FROM tasks WHERE user_id = ? AND status = ? ORDER BY updated_at DESC LIMIT ?`
		args = []interface{}{userID, strings.ToLower(strings.TrimSpace(status)), limit}
	default:
		return nil, fmt.Errorf("invalid status: %s", status)
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Task, 0, limit)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Status, &t.Due, &t.Notes, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) (Task, error) {
	current, err := s.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) != "" {
		current.Title = strings.TrimSpace(*update.Title)
	}
	if update.Due != nil {
		current.Due = strings.TrimSpace(*update.Due)
	}
	if update.Notes != nil {
		current.Notes = strings.TrimSpace(*update.Notes)
	}
	current.UpdatedAt = time.Now().Unix()

	query := `UPDATE tasks SET title = ?, due = ?, notes = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.Conn().ExecContext(ctx, query, current.Title, current.Due, current.Notes, current.UpdatedAt, taskID); err != nil {
		return Task{}, err
	}
	return current, nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	now := time.Now().Unix()
	query := `UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`
	if _, err := s.db.Conn().ExecContext(ctx, query, TaskStatusDone, now, now, taskID, TaskStatusOpen); err != nil {
		return Task{}, err
	}
	return s.GetTask(ctx, taskID)
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.Conn().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	return err
}

// DeleteTasks removes the given IDs and reports how many rows existed.
// Missing IDs are skipped, which keeps a replayed batch harmless.
func (s *Store) DeleteTasks(ctx context.Context, taskIDs []string) (int, error) {
	deleted := 0
	for _, id := range taskIDs {
		res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return deleted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	return deleted, nil
}

func (s *Store) CompleteTasks(ctx context.Context, taskIDs []string) (int, error) {
	now := time.Now().Unix()
	completed := 0
	for _, id := range taskIDs {
		res, err := s.db.Conn().ExecContext(ctx, `UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`, TaskStatusDone, now, now, id, TaskStatusOpen)
		if err != nil {
			return completed, err
		}
		if n, err := res.RowsAffected(); err == nil {
			completed += int(n)
		}
	}
	return completed, nil
}

func (s *Store) UpdateTasks(ctx context.Context, taskIDs []string, update TaskUpdate) (int, error) {
	updated := 0
	for _, id := range taskIDs {
		if _, err := s.UpdateTask(ctx, id, update); err != nil {
			continue
		}
		updated++
	}
	return updated, nil
}

func (s *Store) CreateEvent(ctx context.Context, userID string, title string, startTime string, endTime string, location string) (Event, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Event{}, fmt.Errorf("user_id is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Event"
	}
	now := time.Now().Unix()
	e := Event{
		ID:        "event-" + uuid.NewString(),
		UserID:    userID,
		Title:     title,
		StartTime: strings.TrimSpace(startTime),
		EndTime:   strings.TrimSpace(endTime),
		Location:  strings.TrimSpace(location),
		Status:    EventStatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	query := `INSERT INTO events (id, user_id, title, start_time, end_time, location, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Conn().ExecContext(ctx, query, e.ID, e.UserID, e.Title, e.StartTime, e.EndTime, e.Location, e.Status, e.CreatedAt, e.UpdatedAt); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (Event, error) {
	query := `SELECT id, user_id, title, COALESCE(start_time, ''), COALESCE(end_time, ''), COALESCE(location, ''), status, created_at, updated_at FROM events WHERE id = ?`
	var e Event
	err := s.db.Conn().QueryRowContext(ctx, query, eventID).Scan(
		&e.ID,
		&e.UserID,
		&e.Title,
		&e.StartTime,
		&e.EndTime,
		&e.Location,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return Event{}, err
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, user_id, title, COALESCE(start_time, ''), COALESCE(end_time, ''), COALESCE(location, ''), status, created_at, updated_at FROM events WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.db.Conn().QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.StartTime, &e.EndTime, &e.Location, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *Store) UpdateEvent(ctx context.Context, eventID string, update EventUpdate) (Event, error) {
	current, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return Event{}, err
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) != "" {
		current.Title = strings.TrimSpace(*update.Title)
	}
	if update.StartTime != nil {
		current.StartTime = strings.TrimSpace(*update.StartTime)
	}
	if update.EndTime != nil {
		current.EndTime = strings.TrimSpace(*update.EndTime)
	}
	if update.Location != nil {
		current.Location = strings.TrimSpace(*update.Location)
	}
	current.UpdatedAt = time.Now().Unix()

	query := `UPDATE events SET title = ?, start_time = ?, end_time = ?, location = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.Conn().ExecContext(ctx, query, current.Title, current.StartTime, current.EndTime, current.Location, current.UpdatedAt, eventID); err != nil {
		return Event{}, err
	}
	return current, nil
}

func (s *Store) CancelEvents(ctx context.Context, eventIDs []string) (int, error) {
	now := time.Now().Unix()
	canceled := 0
	for _, id := range eventIDs {
		res, err := s.db.Conn().ExecContext(ctx, `UPDATE events SET status = ?, updated_at = ? WHERE id = ? AND status = ?`, EventStatusCanceled, now, id, EventStatusScheduled)
		if err != nil {
			return canceled, err
		}
		if n, err := res.RowsAffected(); err == nil {
			canceled += int(n)
		}
	}
	return canceled, nil
}

func (s *Store) DeleteEvents(ctx context.Context, eventIDs []string) (int, error) {
	deleted := 0
	for _, id := range eventIDs {
		res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
		if err != nil {
			return deleted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	return deleted, nil
}
