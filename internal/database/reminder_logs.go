package database

import (
	"context"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"github.com/google/uuid"
)

func (db *DB) HasReminder(ctx context.Context, bookingID, kind, role string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminder_logs WHERE booking_id = ? AND kind = ? AND role = ?`,
		bookingID, kind, role).Scan(&n)
	if err != nil {
		return false, domain.Storage("check reminder log", err)
	}
	return n > 0, nil
}

// LogReminder records a delivery; a second entry for the same booking, kind and role conflicts.
func (db *DB) LogReminder(ctx context.Context, entry *models.ReminderLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO reminder_logs (id, booking_id, kind, role, recipient, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BookingID, entry.Kind, entry.Role, entry.To, entry.SentAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("reminder %s/%s already sent for booking %s", entry.Kind, entry.Role, entry.BookingID)
		}
		return domain.Storage("log reminder", err)
	}
	return nil
}

func (db *DB) ListReminderLogs(ctx context.Context, limit int) ([]*models.ReminderLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, booking_id, kind, role, recipient, sent_at FROM reminder_logs
         ORDER BY sent_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.Storage("list reminder logs", err)
	}
	defer rows.Close()

	logs := []*models.ReminderLog{}
	for rows.Next() {
		var l models.ReminderLog
		if err := rows.Scan(&l.ID, &l.BookingID, &l.Kind, &l.Role, &l.To, &l.SentAt); err != nil {
			return nil, domain.Storage("scan reminder log", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list reminder logs", err)
	}
	return logs, nil
}
