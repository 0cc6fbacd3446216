package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/closer/internal/domain"
)

// SQLiteStore implements Store on a DB.
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a store using the given database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

const sessionColumns = `id, channel_id, chat_id, sender_id, mode, stage, intent_score, sentiment,
	consecutive_negative, facts, requests_human, notes, pending_follow_up, message_count,
	last_message_at, last_inbound_at, created_at, updated_at`

func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess domain.Session) error {
	return saveSession(ctx, s.db.sql, sess)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	id, err := insertMessage(ctx, s.db.sql, msg)
	if err != nil {
		return msg, err
	}
	msg.ID = id
	return msg, nil
}

func (s *SQLiteStore) UpsertFollowUp(ctx context.Context, fu domain.FollowUp) error {
	return upsertFollowUp(ctx, s.db.sql, fu)
}

// Commit writes the turn in one transaction. On error nothing is applied.
func (s *SQLiteStore) Commit(ctx context.Context, turn Turn) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin turn: %w", err)
	}
	defer tx.Rollback()

	if err := saveSession(ctx, tx, turn.Session); err != nil {
		return err
	}
	// Follow-ups first so a cancellation frees the pending slot before a
	// replacement is inserted.
	for _, fu := range orderFollowUps(turn.FollowUps) {
		if err := upsertFollowUp(ctx, tx, fu); err != nil {
			return err
		}
	}
	for _, msg := range turn.Messages {
		if _, err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Messages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `SELECT id, session_id, sender, text, timestamp FROM messages WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Timestamp = fromNanos(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]domain.Session, error) {
	var where []string
	var args []any
	if filter.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(filter.Mode))
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

const followUpColumns = `id, session_id, tier, status, template, scheduled_at, created_at, updated_at, error`

func (s *SQLiteStore) ListFollowUps(ctx context.Context, sessionID string) ([]domain.FollowUp, error) {
	return s.queryFollowUps(ctx,
		`SELECT `+followUpColumns+` FROM follow_ups WHERE session_id = ? ORDER BY created_at, tier`, sessionID)
}

func (s *SQLiteStore) GetFollowUp(ctx context.Context, id string) (*domain.FollowUp, error) {
	fus, err := s.queryFollowUps(ctx, `SELECT `+followUpColumns+` FROM follow_ups WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(fus) == 0 {
		return nil, fmt.Errorf("follow-up %s: %w", id, domain.ErrNotFound)
	}
	return &fus[0], nil
}

func (s *SQLiteStore) DueFollowUps(ctx context.Context, now time.Time, limit int) ([]domain.FollowUp, error) {
	query := `SELECT ` + followUpColumns + ` FROM follow_ups
		WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at, id`
	args := []any{string(domain.FollowUpPending), now.UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryFollowUps(ctx, query, args...)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryFollowUps(ctx context.Context, query string, args ...any) ([]domain.FollowUp, error) {
	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying follow-ups: %w", err)
	}
	defer rows.Close()

	var out []domain.FollowUp
	for rows.Next() {
		var fu domain.FollowUp
		var scheduled, created, updated int64
		if err := rows.Scan(&fu.ID, &fu.SessionID, &fu.Tier, &fu.Status, &fu.Template,
			&scheduled, &created, &updated, &fu.Error); err != nil {
			return nil, fmt.Errorf("scanning follow-up: %w", err)
		}
		fu.ScheduledAt = fromNanos(scheduled)
		fu.CreatedAt = fromNanos(created)
		fu.UpdatedAt = fromNanos(updated)
		out = append(out, fu)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var sess domain.Session
	var facts string
	var requestsHuman int
	var lastMsg, lastIn, created, updated int64

	if err := row.Scan(
		&sess.ID, &sess.Key.ChannelID, &sess.Key.ChatID, &sess.Key.SenderID,
		&sess.Mode, &sess.Stage, &sess.IntentScore, &sess.Sentiment,
		&sess.ConsecutiveNegative, &facts, &requestsHuman, &sess.Notes,
		&sess.PendingFollowUp, &sess.MessageCount,
		&lastMsg, &lastIn, &created, &updated,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(facts), &sess.Facts); err != nil {
		return nil, fmt.Errorf("decoding facts for %s: %w", sess.ID, err)
	}
	sess.RequestsHuman = requestsHuman != 0
	sess.LastMessageAt = fromNanos(lastMsg)
	sess.LastInboundAt = fromNanos(lastIn)
	sess.CreatedAt = fromNanos(created)
	sess.UpdatedAt = fromNanos(updated)
	return &sess, nil
}

func saveSession(ctx context.Context, db execer, sess domain.Session) error {
	facts, err := json.Marshal(sess.Facts)
	if err != nil {
		return fmt.Errorf("encoding facts: %w", err)
	}
	requestsHuman := 0
	if sess.RequestsHuman {
		requestsHuman = 1
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   mode = excluded.mode,
		   stage = excluded.stage,
		   intent_score = excluded.intent_score,
		   sentiment = excluded.sentiment,
		   consecutive_negative = excluded.consecutive_negative,
		   facts = excluded.facts,
		   requests_human = excluded.requests_human,
		   notes = excluded.notes,
		   pending_follow_up = excluded.pending_follow_up,
		   message_count = excluded.message_count,
		   last_message_at = excluded.last_message_at,
		   last_inbound_at = excluded.last_inbound_at,
		   updated_at = excluded.updated_at`,
		sess.ID, sess.Key.ChannelID, sess.Key.ChatID, sess.Key.SenderID,
		string(sess.Mode), string(sess.Stage), domain.ClampScore(sess.IntentScore), string(sess.Sentiment),
		sess.ConsecutiveNegative, string(facts), requestsHuman, sess.Notes,
		sess.PendingFollowUp, sess.MessageCount,
		nanos(sess.LastMessageAt), nanos(sess.LastInboundAt), nanos(sess.CreatedAt), nanos(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

func insertMessage(ctx context.Context, db execer, msg domain.Message) (int64, error) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO messages (session_id, sender, text, timestamp) VALUES (?, ?, ?, ?)`,
		msg.SessionID, string(msg.Sender), msg.Text, ts.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("appending message to %s: %w", msg.SessionID, err)
	}
	return res.LastInsertId()
}

func upsertFollowUp(ctx context.Context, db execer, fu domain.FollowUp) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO follow_ups (`+followUpColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   template = excluded.template,
		   scheduled_at = excluded.scheduled_at,
		   updated_at = excluded.updated_at,
		   error = excluded.error`,
		fu.ID, fu.SessionID, fu.Tier, string(fu.Status), fu.Template,
		nanos(fu.ScheduledAt), nanos(fu.CreatedAt), nanos(fu.UpdatedAt), fu.Error,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: follow_ups.session_id") {
			return fmt.Errorf("follow-up %s: %w", fu.ID, ErrPendingConflict)
		}
		return fmt.Errorf("saving follow-up %s: %w", fu.ID, err)
	}
	return nil
}

// orderFollowUps puts closed follow-ups before pending ones.
func orderFollowUps(fus []domain.FollowUp) []domain.FollowUp {
	out := make([]domain.FollowUp, 0, len(fus))
	for _, fu := range fus {
		if !fu.Pending() {
			out = append(out, fu)
		}
	}
	for _, fu := range fus {
		if fu.Pending() {
			out = append(out, fu)
		}
	}
	return out
}
