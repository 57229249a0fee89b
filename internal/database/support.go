package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"github.com/google/uuid"
)

const threadColumns = `id, status, email, name,
    last_message_from, last_message_text, last_message_at,
    last_read_by_support_at, last_read_by_member_at, last_member_message_at,
    created_at, updated_at`

func scanThread(row rowScanner) (*models.SupportThread, error) {
	var (
		t                                         models.SupportThread
		lastFrom, lastText                        string
		lastAt, readSupport, readMember, memberAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Status, &t.Email, &t.Name,
		&lastFrom, &lastText, &lastAt,
		&readSupport, &readMember, &memberAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastAt.Valid {
		t.LastMessage = &models.SupportLastMessage{From: lastFrom, Text: lastText, CreatedAt: lastAt.Time}
	}
	t.LastReadBySupportAt = nullTime(readSupport)
	t.LastReadByMemberAt = nullTime(readMember)
	t.LastMemberMessageAt = nullTime(memberAt)
	return &t, nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func (db *DB) CreateSupportThread(ctx context.Context, thread *models.SupportThread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if thread.Status == "" {
		thread.Status = models.ThreadStatusOpen
	}
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx,
		`INSERT INTO support_threads (id, status, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		thread.ID, thread.Status, thread.Email, thread.Name, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("support thread %s already exists", thread.ID)
		}
		return domain.Storage("create support thread", err)
	}
	thread.CreatedAt = now
	thread.UpdatedAt = now
	return nil
}

func (db *DB) GetSupportThread(ctx context.Context, id string) (*models.SupportThread, error) {
	return db.getThread(ctx, db.DB, `SELECT `+threadColumns+` FROM support_threads WHERE id = ?`, id)
}

// FindOpenSupportThreadByEmail returns the most recently active open thread for email.
func (db *DB) FindOpenSupportThreadByEmail(ctx context.Context, email string) (*models.SupportThread, error) {
	return db.getThread(ctx, db.DB,
		`SELECT `+threadColumns+` FROM support_threads WHERE email = ? AND status = ?
         ORDER BY updated_at DESC LIMIT 1`, email, models.ThreadStatusOpen)
}

func (db *DB) getThread(ctx context.Context, q queryRower, query string, args ...any) (*models.SupportThread, error) {
	t, err := scanThread(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("support thread %v", args[0])
	}
	if err != nil {
		return nil, domain.Storage("get support thread", err)
	}
	return t, nil
}

// ListSupportThreads returns the most recently active threads first.
func (db *DB) ListSupportThreads(ctx context.Context, limit int) ([]*models.SupportThread, error) {
	if limit <= 0 {
		limit = models.SupportListLimit
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM support_threads ORDER BY updated_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.Storage("list support threads", err)
	}
	defer rows.Close()

	threads := []*models.SupportThread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, domain.Storage("scan support thread", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list support threads", err)
	}
	return threads, nil
}

// AddSupportMessage stores msg and moves the thread's activity markers in one
// transaction. A member message also counts as the member having read the thread.
func (db *DB) AddSupportMessage(ctx context.Context, msg *models.SupportMessage) (*models.SupportThread, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Storage("begin support message", err)
	}
	defer rollback(tx)

	if _, err := db.getThread(ctx, tx, `SELECT `+threadColumns+` FROM support_threads WHERE id = ?`, msg.ThreadID); err != nil {
		return nil, err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO support_messages (id, thread_id, sender, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.From, msg.Text, now); err != nil {
		return nil, domain.Storage("insert support message", err)
	}

	update := `UPDATE support_threads SET updated_at = ?, last_message_from = ?, last_message_text = ?, last_message_at = ?,
        last_read_by_support_at = ? WHERE id = ?`
	args := []any{now, msg.From, msg.Text, now, now, msg.ThreadID}
	if msg.From == models.RoleMember {
		update = `UPDATE support_threads SET updated_at = ?, last_message_from = ?, last_message_text = ?, last_message_at = ?,
        last_read_by_member_at = ?, last_member_message_at = ? WHERE id = ?`
		args = []any{now, msg.From, msg.Text, now, now, now, msg.ThreadID}
	}
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return nil, domain.Storage("touch support thread", err)
	}

	thread, err := db.getThread(ctx, tx, `SELECT `+threadColumns+` FROM support_threads WHERE id = ?`, msg.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.Storage("commit support message", err)
	}
	return thread, nil
}

// ListSupportMessages returns a thread's messages oldest first.
func (db *DB) ListSupportMessages(ctx context.Context, threadID string, limit int) ([]*models.SupportMessage, error) {
	if limit <= 0 {
		limit = models.SupportListLimit
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, thread_id, sender, text, created_at FROM support_messages
         WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, domain.Storage("list support messages", err)
	}
	defer rows.Close()

	messages := []*models.SupportMessage{}
	for rows.Next() {
		var m models.SupportMessage
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.From, &m.Text, &m.CreatedAt); err != nil {
			return nil, domain.Storage("scan support message", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list support messages", err)
	}
	return messages, nil
}

// MarkSupportThreadRead stamps the read marker of one side of the thread.
func (db *DB) MarkSupportThreadRead(ctx context.Context, threadID, role string) (*models.SupportThread, error) {
	column := "last_read_by_member_at"
	switch role {
	case models.RoleMember:
	case models.RoleSupport:
		column = "last_read_by_support_at"
	default:
		return nil, domain.Validationf("unknown role %q", role)
	}
	return db.updateThread(ctx, threadID, `UPDATE support_threads SET `+column+` = ? WHERE id = ?`, time.Now().UTC(), threadID)
}

// UpdateSupportIdentity sets the thread's email and name; empty values keep the stored ones.
func (db *DB) UpdateSupportIdentity(ctx context.Context, threadID string, identity models.SupportIdentity) (*models.SupportThread, error) {
	return db.updateThread(ctx, threadID,
		`UPDATE support_threads SET
            email = CASE WHEN ? = '' THEN email ELSE ? END,
            name = CASE WHEN ? = '' THEN name ELSE ? END,
            updated_at = ?
         WHERE id = ?`,
		identity.Email, identity.Email, identity.Name, identity.Name, time.Now().UTC(), threadID)
}

func (db *DB) updateThread(ctx context.Context, threadID, query string, args ...any) (*models.SupportThread, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storage("update support thread", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, domain.Storage("update support thread", err)
	}
	if n == 0 {
		return nil, domain.NotFoundf("support thread %s", threadID)
	}
	return db.GetSupportThread(ctx, threadID)
}
