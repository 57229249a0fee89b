package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, code, slot_id, slot_id2, duration_min, status,
    student_id, name, email, phone, notes,
    meeting_provider, meet_url, calendar_event_id, calendar_html_link,
    created_at, updated_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID, &b.Code, &b.SlotID, &b.SlotID2, &b.DurationMin, &b.Status,
		&b.StudentID, &b.Name, &b.Email, &b.Phone, &b.Notes,
		&b.MeetingProvider, &b.MeetURL, &b.CalendarEventID, &b.CalendarHTMLLink,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking inserts the booking as confirmed unless a status is set.
// A duplicate code yields ErrConflict so the caller can pick another one.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if strings.TrimSpace(booking.SlotID) == "" {
		return domain.Validationf("slotId is required")
	}
	if strings.TrimSpace(booking.Code) == "" {
		return domain.Validationf("booking code is required")
	}
	if booking.Status == "" {
		booking.Status = models.StatusConfirmed
	}
	if booking.Status != models.StatusConfirmed && booking.Status != models.StatusCancelled {
		return domain.Validationf("unknown booking status %q", booking.Status)
	}
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `INSERT INTO bookings (` + bookingColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		booking.ID, booking.Code, booking.SlotID, booking.SlotID2, booking.DurationMin, booking.Status,
		booking.StudentID, booking.Name, booking.Email, booking.Phone, booking.Notes,
		booking.MeetingProvider, booking.MeetURL, booking.CalendarEventID, booking.CalendarHTMLLink,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("booking code %s already taken", booking.Code)
		}
		return domain.Storage("create booking", err)
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return db.getBooking(ctx, db.DB, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

// GetBookingByKey resolves either the booking id or its shareable code.
func (db *DB) GetBookingByKey(ctx context.Context, key string) (*models.Booking, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.Validationf("booking key is required")
	}
	return db.getBooking(ctx, db.DB,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? OR code = ? LIMIT 1`, key, strings.ToLower(key))
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) getBooking(ctx context.Context, q queryRower, query string, args ...any) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("booking %v", args[0])
	}
	if err != nil {
		return nil, domain.Storage("get booking", err)
	}
	return b, nil
}

// ListBookingsBySlotIDs returns bookings of any status referencing any of ids.
func (db *DB) ListBookingsBySlotIDs(ctx context.Context, ids []string) ([]*models.Booking, error) {
	args := uniqueStrings(ids)
	if len(args) == 0 {
		return []*models.Booking{}, nil
	}
	in := inClause(len(args))
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE slot_id IN (` + in + `) OR slot_id2 IN (` + in + `)
              ORDER BY created_at DESC, rowid DESC`
	return db.queryBookings(ctx, "list bookings by slots", query, append(args, args...)...)
}

// ListBookings returns the most recent bookings first.
func (db *DB) ListBookings(ctx context.Context, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings ORDER BY created_at DESC, rowid DESC LIMIT ?`
	return db.queryBookings(ctx, "list bookings", query, limit)
}

func (db *DB) ListBookingsByStudent(ctx context.Context, studentID string) ([]*models.Booking, error) {
	if strings.TrimSpace(studentID) == "" {
		return []*models.Booking{}, nil
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE student_id = ?
              ORDER BY created_at DESC, rowid DESC LIMIT ?`
	return db.queryBookings(ctx, "list student bookings", query, studentID, models.DefaultListLimit)
}

func (db *DB) queryBookings(ctx context.Context, op, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	defer rows.Close()

	bookings := []*models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, domain.Storage(op, err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage(op, err)
	}
	return bookings, nil
}

// CancelBooking is idempotent: an already cancelled booking is returned unchanged.
// changed is true only for the call that moved the booking to cancelled.
func (db *DB) CancelBooking(ctx context.Context, id string) (booking *models.Booking, changed bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, domain.Storage("begin cancel booking", err)
	}
	defer rollback(tx)

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.StatusCancelled, now, id, models.StatusConfirmed)
	if err != nil {
		return nil, false, domain.Storage("cancel booking", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, domain.Storage("cancel booking", err)
	}

	b, err := db.getBooking(ctx, tx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, domain.Storage("commit cancel booking", err)
	}
	return b, n > 0, nil
}

func (db *DB) UpdateBookingMeeting(ctx context.Context, id string, info models.MeetingInfo) error {
	res, err := db.ExecContext(ctx, `UPDATE bookings
            SET meeting_provider = ?, meet_url = ?, calendar_event_id = ?, calendar_html_link = ?, updated_at = ?
            WHERE id = ?`,
		info.Provider, info.MeetURL, info.EventID, info.HTMLLink, time.Now().UTC(), id)
	if err != nil {
		return domain.Storage("update booking meeting", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Storage("update booking meeting", err)
	} else if n == 0 {
		return domain.NotFoundf("booking %s", id)
	}
	return nil
}
