package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hangw/agentcheck/internal/db/driver"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

// reserveSeqSQL claims the next per-task event sequence number. The
// SELECT seeds the counter from existing events when no counter row
// exists yet; the upsert increments it otherwise. Executed inside the
// same transaction as the event insert so seq assignment and the event
// row commit together.
const reserveSeqSQL = `INSERT INTO task_event_counters (task_id, last_seq)
SELECT ?, COALESCE(MAX(seq), 0) + 1 FROM task_events WHERE task_id = ?
ON CONFLICT (task_id) DO UPDATE SET last_seq = task_event_counters.last_seq + 1
RETURNING last_seq`

// SQLStore implements Store on top of a SQL database.
type SQLStore struct {
	db *DB
}

// NewSQLStore wraps an opened, migrated database.
func NewSQLStore(database *DB) *SQLStore {
	return &SQLStore{db: database}
}

// rebind rewrites ? placeholders to $N when talking to PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.db.Dialect() != driver.DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isBusy reports whether an error is a transient SQLite lock contention
// error worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// withBusyRetry runs fn, retrying lock contention with capped backoff.
func withBusyRetry(ctx context.Context, fn func() error) error {
	backoff := 2 * time.Millisecond
	var err error
	for attempt := 0; attempt < 12; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 200*time.Millisecond {
			backoff = 200 * time.Millisecond
		}
	}
	return err
}

func (s *SQLStore) CreateTask(ctx context.Context, t *task.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", taskColumnCount), ", ")
	query := s.rebind(fmt.Sprintf("INSERT INTO tasks (%s) VALUES (%s)", taskColumns, placeholders))

	return withBusyRetry(ctx, func() error {
		_, err := s.db.Driver().Exec(ctx, query, encodeTask(t)...)
		if err != nil {
			return fmt.Errorf("create task %s: %w", t.TaskID, err)
		}
		return nil
	})
}

func (s *SQLStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	query := s.rebind(fmt.Sprintf("SELECT %s FROM tasks WHERE task_id = ?", taskColumns))
	row := s.db.Driver().QueryRow(ctx, query, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return t, nil
}

func (s *SQLStore) ListTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks ORDER BY created_at DESC, task_id DESC", taskColumns)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Driver().Query(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// buildStatusUpdate renders the shared SET clause for status updates.
func buildStatusUpdate(status task.Status, opts []UpdateOption) (string, []any) {
	params := updateParams{}
	for _, opt := range opts {
		opt(&params)
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), encodeTime(time.Now())}
	if params.reason != nil {
		set = append(set, "last_gate_reason = ?")
		args = append(args, nullString(*params.reason))
	}
	if params.roundsCompleted != nil {
		set = append(set, "rounds_completed = ?")
		args = append(args, *params.roundsCompleted)
	}
	if params.cancelRequested != nil {
		set = append(set, "cancel_requested = ?")
		args = append(args, boolInt(*params.cancelRequested))
	}
	return strings.Join(set, ", "), args
}

func (s *SQLStore) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status, opts ...UpdateOption) error {
	setClause, args := buildStatusUpdate(status, opts)
	query := s.rebind(fmt.Sprintf("UPDATE tasks SET %s WHERE task_id = ?", setClause))
	args = append(args, taskID)

	return withBusyRetry(ctx, func() error {
		res, err := s.db.Driver().Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) UpdateTaskStatusIf(ctx context.Context, taskID string, expect, next task.Status, opts ...UpdateOption) (*task.Task, error) {
	setClause, args := buildStatusUpdate(next, opts)
	query := s.rebind(fmt.Sprintf("UPDATE tasks SET %s WHERE task_id = ? AND status = ?", setClause))
	args = append(args, taskID, string(expect))

	var affected int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.Driver().Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetTask(ctx, taskID)
}

func (s *SQLStore) SetCancelRequested(ctx context.Context, taskID string, requested bool) error {
	query := s.rebind("UPDATE tasks SET cancel_requested = ?, updated_at = ? WHERE task_id = ?")
	return withBusyRetry(ctx, func() error {
		res, err := s.db.Driver().Exec(ctx, query, boolInt(requested), encodeTime(time.Now()), taskID)
		if err != nil {
			return fmt.Errorf("set cancel flag %s: %w", taskID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("set cancel flag %s: %w", taskID, err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) IsCancelRequested(ctx context.Context, taskID string) (bool, error) {
	query := s.rebind("SELECT cancel_requested FROM tasks WHERE task_id = ?")
	var flag int
	err := s.db.Driver().QueryRow(ctx, query, taskID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag %s: %w", taskID, err)
	}
	return flag != 0, nil
}

func (s *SQLStore) AppendEvent(ctx context.Context, taskID string, eventType events.EventType, round *int, payload map[string]any) (*events.Event, error) {
	evt := events.NewEvent(taskID, eventType, payload, round)

	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.Driver().BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var seq int64
		if err := tx.QueryRow(ctx, s.rebind(reserveSeqSQL), taskID, taskID).Scan(&seq); err != nil {
			return fmt.Errorf("reserve seq for %s: %w", taskID, err)
		}

		var roundArg any
		if round != nil {
			roundArg = *round
		}
		insert := s.rebind(`INSERT INTO task_events (task_id, seq, type, round, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)
		if _, err := tx.Exec(ctx, insert, taskID, seq, string(eventType), roundArg,
			encodePayload(payload), encodeTime(evt.CreatedAt)); err != nil {
			return fmt.Errorf("insert event for %s: %w", taskID, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append for %s: %w", taskID, err)
		}
		evt.Seq = seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (s *SQLStore) ListEvents(ctx context.Context, taskID string, sinceSeq int64, limit int) ([]*events.Event, error) {
	query := "SELECT task_id, seq, type, round, payload, created_at FROM task_events WHERE task_id = ? AND seq > ? ORDER BY seq ASC"
	args := []any{taskID, sinceSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Driver().Query(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var list []*events.Event
	for rows.Next() {
		var (
			evt       events.Event
			evtType   string
			round     sql.NullInt64
			payload   string
			createdAt string
		)
		if err := rows.Scan(&evt.TaskID, &evt.Seq, &evtType, &round, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = events.EventType(evtType)
		if round.Valid {
			r := int(round.Int64)
			evt.Round = &r
		}
		evt.Payload = decodePayload(payload)
		evt.CreatedAt = decodeTime(createdAt)
		list = append(list, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events %s: %w", taskID, err)
	}
	return list, nil
}

func (s *SQLStore) DeleteTasks(ctx context.Context, taskIDs ...string) (int, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(taskIDs)), ", ")
	query := s.rebind(fmt.Sprintf("DELETE FROM tasks WHERE task_id IN (%s)", placeholders))
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}

	var deleted int
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.Driver().Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		deleted = int(affected)
		return nil
	})
	return deleted, err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
