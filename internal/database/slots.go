package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"github.com/google/uuid"
)

const slotColumns = `id, date_key, start_min, end_min, capacity, cancelled, notes, created_at, updated_at`

func scanSlot(row rowScanner) (*models.Slot, error) {
	var s models.Slot
	if err := row.Scan(&s.ID, &s.DateKey, &s.StartMin, &s.EndMin, &s.Capacity, &s.Cancelled, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) CreateSlot(ctx context.Context, slot *models.Slot) error {
	if err := domain.ValidateSlot(slot); err != nil {
		return err
	}
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `INSERT INTO slots (` + slotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		slot.ID, slot.DateKey, slot.StartMin, slot.EndMin, slot.Capacity, slot.Cancelled, slot.Notes, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("an active slot already starts at %s on %s", models.FormatMinutes(slot.StartMin), slot.DateKey)
		}
		return domain.Storage("create slot", err)
	}

	slot.CreatedAt = now
	slot.UpdatedAt = now
	return nil
}

func (db *DB) GetSlot(ctx context.Context, id string) (*models.Slot, error) {
	row := db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	slot, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("slot %s", id)
	}
	if err != nil {
		return nil, domain.Storage("get slot", err)
	}
	return slot, nil
}

func (db *DB) GetSlotsByIDs(ctx context.Context, ids []string) ([]*models.Slot, error) {
	args := uniqueStrings(ids)
	if len(args) == 0 {
		return []*models.Slot{}, nil
	}
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id IN (` + inClause(len(args)) + `)
              ORDER BY date_key, start_min, end_min`
	return db.querySlots(ctx, "get slots by ids", query, args...)
}

// ListSlotsByDateKey returns every slot of the day, cancelled ones included.
func (db *DB) ListSlotsByDateKey(ctx context.Context, dateKey string) ([]*models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE date_key = ? ORDER BY start_min, end_min`
	return db.querySlots(ctx, "list slots by date", query, dateKey)
}

// ListSlotsInRange covers fromKey..toKey inclusive.
func (db *DB) ListSlotsInRange(ctx context.Context, fromKey, toKey string) ([]*models.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE date_key BETWEEN ? AND ?
              ORDER BY date_key, start_min, end_min`
	return db.querySlots(ctx, "list slots in range", query, fromKey, toKey)
}

func (db *DB) ListAllSlots(ctx context.Context, limit int) ([]*models.Slot, error) {
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	query := `SELECT ` + slotColumns + ` FROM slots ORDER BY date_key, start_min, end_min LIMIT ?`
	return db.querySlots(ctx, "list slots", query, limit)
}

func (db *DB) querySlots(ctx context.Context, op, query string, args ...any) ([]*models.Slot, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	defer rows.Close()

	slots := []*models.Slot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, domain.Storage(op, err)
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage(op, err)
	}
	return slots, nil
}

// PatchSlot merges the recognized fields and re-validates the result.
func (db *DB) PatchSlot(ctx context.Context, id string, patch models.SlotPatch) (*models.Slot, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Storage("begin patch slot", err)
	}
	defer rollback(tx)

	current, err := scanSlot(tx.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("slot %s", id)
	}
	if err != nil {
		return nil, domain.Storage("load slot for patch", err)
	}

	if patch.IsEmpty() {
		return current, nil
	}

	updated := patch.Apply(*current)
	if err := domain.ValidateSlot(&updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `UPDATE slots
            SET start_min = ?, end_min = ?, capacity = ?, cancelled = ?, notes = ?, updated_at = ?
            WHERE id = ?`,
		updated.StartMin, updated.EndMin, updated.Capacity, updated.Cancelled, updated.Notes, updated.UpdatedAt, id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflictf("an active slot already starts at %s on %s", models.FormatMinutes(updated.StartMin), updated.DateKey)
		}
		return nil, domain.Storage("patch slot", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Storage("commit patch slot", err)
	}
	return &updated, nil
}

// DeleteSlot removes the row without looking at bookings.
func (db *DB) DeleteSlot(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM slots WHERE id = ?`, id)
	if err != nil {
		return domain.Storage("delete slot", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Storage("delete slot", err)
	}
	if n == 0 {
		return domain.NotFoundf("slot %s", id)
	}
	return nil
}

// InsertSlotsIgnoreDuplicates skips slots colliding with an active slot at the same start.
func (db *DB) InsertSlotsIgnoreDuplicates(ctx context.Context, slots []*models.Slot) (int, error) {
	for i, s := range slots {
		if err := domain.ValidateSlot(s); err != nil {
			return 0, fmt.Errorf("slot %d: %w", i, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.Storage("begin insert slots", err)
	}
	defer rollback(tx)

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO slots (`+slotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, domain.Storage("prepare insert slots", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := 0
	for _, s := range slots {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		res, err := stmt.ExecContext(ctx, s.ID, s.DateKey, s.StartMin, s.EndMin, s.Capacity, s.Cancelled, s.Notes, now, now)
		if err != nil {
			return 0, domain.Storage("insert slot", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.CreatedAt = now
			s.UpdatedAt = now
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.Storage("commit insert slots", err)
	}
	return inserted, nil
}
