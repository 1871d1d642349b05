package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

// Manager implements interfaces.SessionStore and interfaces.PresentationStore
// on SQLite. All mutations pass through a single writer goroutine so the
// JSON roster/answer columns can be read-modify-written without contention.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation is one queued mutation. ctx is the caller's context; a
// mutation whose caller has given up is dropped instead of executed.
type writeOperation struct {
	ctx       context.Context
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a store manager over an opened database.
func NewManager(db *sql.DB) *Manager {
	m := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m
}

// writeLoop processes all write operations in a single goroutine. Failed
// writes are retried once after a short delay.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			if err := op.ctx.Err(); err != nil {
				// The caller already timed out; an abandoned write must
				// not commit behind its back.
				op.result <- err
				continue
			}
			err := op.operation(m.db)
			if err != nil && !isRejection(err) && op.ctx.Err() == nil {
				log.Printf("store: write failed, retrying: %v", err)
				time.Sleep(500 * time.Millisecond)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("store: write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

// isRejection reports whether the error is an expected outcome rather than
// a transient failure; rejections are returned immediately without retry.
func isRejection(err error) bool {
	return errors.Is(err, interfaces.ErrSessionNotFound) ||
		errors.Is(err, interfaces.ErrCodeInUse)
}

// executeWrite queues a mutation and waits for it to complete, honoring the
// caller's context deadline. Every statement runs under that context, so a
// write abandoned at the deadline is cancelled rather than committed after
// the caller reported failure. A commit landing at the same instant the
// deadline fires still reports a timeout; durable state can then be ahead of
// what clients were told, never behind.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return fmt.Errorf("write not queued: %w", ctx.Err())
	case <-m.shutdown:
		return fmt.Errorf("store is shutting down")
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write timed out: %w", ctx.Err())
	}
}

// CreateSession persists a new session. The partial unique index on
// (code, live) rejects a second live session with the same code.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		viewersJSON, err := json.Marshal(session.Viewers)
		if err != nil {
			return fmt.Errorf("failed to marshal viewers: %w", err)
		}
		answersJSON, err := json.Marshal(session.Answers)
		if err != nil {
			return fmt.Errorf("failed to marshal answers: %w", err)
		}
		activityJSON, err := marshalActivity(session.ActiveActivity)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO sessions (id, code, presentation_id, presenter_name, current_slide, live, active_activity, viewers, answers, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			session.ID,
			session.Code,
			session.PresentationID,
			session.PresenterName,
			session.CurrentSlide,
			session.Live,
			activityJSON,
			string(viewersJSON),
			string(answersJSON),
			session.CreatedAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return interfaces.ErrCodeInUse
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}

		return nil
	})
}

// GetSessionByCode returns the most recent session with the code, live or
// ended.
func (m *Manager) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	query := sessionSelect + ` WHERE code = ? ORDER BY created_at DESC LIMIT 1`
	return m.querySession(ctx, query, code)
}

// GetLiveSession returns the live session with the code.
func (m *Manager) GetLiveSession(ctx context.Context, code string) (*types.Session, error) {
	query := sessionSelect + ` WHERE code = ? AND live = 1`
	return m.querySession(ctx, query, code)
}

// UpdateSlide persists the slide index of a live session.
func (m *Manager) UpdateSlide(ctx context.Context, code string, slideIndex int) error {
	return m.updateLive(ctx, code, `UPDATE sessions SET current_slide = ? WHERE code = ? AND live = 1`, slideIndex, code)
}

// SetActiveActivity persists the frozen activity snapshot; nil clears it.
func (m *Manager) SetActiveActivity(ctx context.Context, code string, activity *types.Activity) error {
	activityJSON, err := marshalActivity(activity)
	if err != nil {
		return err
	}
	return m.updateLive(ctx, code, `UPDATE sessions SET active_activity = ? WHERE code = ? AND live = 1`, activityJSON, code)
}

// AppendViewer appends a roster entry to a live session.
func (m *Manager) AppendViewer(ctx context.Context, code string, viewer types.Viewer) error {
	return m.appendJSON(ctx, code, "viewers", func(raw []byte) ([]byte, error) {
		var viewers []types.Viewer
		if err := json.Unmarshal(raw, &viewers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal viewers: %w", err)
		}
		return json.Marshal(append(viewers, viewer))
	})
}

// AppendAnswer appends an answer record to a live session.
func (m *Manager) AppendAnswer(ctx context.Context, code string, answer types.Answer) error {
	return m.appendJSON(ctx, code, "answers", func(raw []byte) ([]byte, error) {
		var answers []types.Answer
		if err := json.Unmarshal(raw, &answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
		return json.Marshal(append(answers, answer))
	})
}

// EndSession clears the live flag and the active activity. Idempotent at
// the storage level: ending an already ended session reports not found.
func (m *Manager) EndSession(ctx context.Context, code string) error {
	return m.updateLive(ctx, code, `UPDATE sessions SET live = 0, active_activity = NULL WHERE code = ? AND live = 1`, code)
}

// ListLiveSessions returns all live sessions, newest first.
func (m *Manager) ListLiveSessions(ctx context.Context) ([]*types.Session, error) {
	query := sessionSelect + ` WHERE live = 1 ORDER BY created_at DESC`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query live sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close shuts down the writer goroutine and the database connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

const sessionSelect = `
	SELECT id, code, presentation_id, presenter_name, current_slide, live, active_activity, viewers, answers, created_at
	FROM sessions`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var activityJSON sql.NullString
	var viewersJSON, answersJSON string

	err := row.Scan(
		&session.ID,
		&session.Code,
		&session.PresentationID,
		&session.PresenterName,
		&session.CurrentSlide,
		&session.Live,
		&activityJSON,
		&viewersJSON,
		&answersJSON,
		&session.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}

	if activityJSON.Valid && activityJSON.String != "" {
		var activity types.Activity
		if err := json.Unmarshal([]byte(activityJSON.String), &activity); err != nil {
			return nil, fmt.Errorf("failed to unmarshal active activity: %w", err)
		}
		session.ActiveActivity = &activity
	}
	if err := json.Unmarshal([]byte(viewersJSON), &session.Viewers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal viewers: %w", err)
	}
	if err := json.Unmarshal([]byte(answersJSON), &session.Answers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
	}

	return &session, nil
}

func (m *Manager) querySession(ctx context.Context, query string, args ...any) (*types.Session, error) {
	return scanSession(m.db.QueryRowContext(ctx, query, args...))
}

// updateLive runs a mutation scoped to a live session and reports not found
// when no live row matched.
func (m *Manager) updateLive(ctx context.Context, code, query string, args ...any) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update session %s: %w", code, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// appendJSON read-modify-writes one of the session's JSON list columns.
// Safe because all mutations serialize through the writer goroutine.
func (m *Manager) appendJSON(ctx context.Context, code, column string, grow func([]byte) ([]byte, error)) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		var raw string
		query := fmt.Sprintf(`SELECT %s FROM sessions WHERE code = ? AND live = 1`, column)
		if err := db.QueryRowContext(ctx, query, code).Scan(&raw); err != nil {
			if err == sql.ErrNoRows {
				return interfaces.ErrSessionNotFound
			}
			return fmt.Errorf("failed to read %s for session %s: %w", column, code, err)
		}

		grown, err := grow([]byte(raw))
		if err != nil {
			return err
		}

		update := fmt.Sprintf(`UPDATE sessions SET %s = ? WHERE code = ? AND live = 1`, column)
		if _, err := db.ExecContext(ctx, update, string(grown), code); err != nil {
			return fmt.Errorf("failed to update %s for session %s: %w", column, code, err)
		}

		return nil
	})
}

func marshalActivity(activity *types.Activity) (any, error) {
	if activity == nil {
		return nil, nil
	}
	raw, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}
	return string(raw), nil
}
