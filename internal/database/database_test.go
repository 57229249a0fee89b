package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSlot(dateKey string, startMin, capacity int) *models.Slot {
	return &models.Slot{DateKey: dateKey, StartMin: startMin, EndMin: startMin + 25, Capacity: capacity}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "kajabook.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestSlotStore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newSlot("2025-03-01", 600, 2)
		s.Notes = "TOPIK prep"
		require.NoError(t, db.CreateSlot(ctx, s))
		assert.NotEmpty(t, s.ID)
		assert.False(t, s.CreatedAt.IsZero())

		got, err := db.GetSlot(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.DateKey, got.DateKey)
		assert.Equal(t, 600, got.StartMin)
		assert.Equal(t, 625, got.EndMin)
		assert.Equal(t, 2, got.Capacity)
		assert.Equal(t, "TOPIK prep", got.Notes)
		assert.False(t, got.Cancelled)
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		err := db.CreateSlot(ctx, &models.Slot{DateKey: "2025-03-01", StartMin: 600, EndMin: 540, Capacity: 1})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("ZeroCapacity", func(t *testing.T) {
		err := db.CreateSlot(ctx, newSlot("2025-03-01", 700, 0))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("DuplicateActiveStart", func(t *testing.T) {
		err := db.CreateSlot(ctx, newSlot("2025-03-01", 600, 1))
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("CancelledStartCanBeReused", func(t *testing.T) {
		old := newSlot("2025-03-02", 600, 1)
		old.Cancelled = true
		require.NoError(t, db.CreateSlot(ctx, old))
		require.NoError(t, db.CreateSlot(ctx, newSlot("2025-03-02", 600, 1)))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := db.GetSlot(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestListSlotsByDateKey_Order(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, start := range []int{720, 540, 600} {
		require.NoError(t, db.CreateSlot(ctx, newSlot("2025-04-10", start, 1)))
	}
	require.NoError(t, db.CreateSlot(ctx, newSlot("2025-04-11", 480, 1)))

	slots, err := db.ListSlotsByDateKey(ctx, "2025-04-10")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, 540, slots[0].StartMin)
	assert.Equal(t, 600, slots[1].StartMin)
	assert.Equal(t, 720, slots[2].StartMin)

	empty, err := db.ListSlotsByDateKey(ctx, "2030-01-01")
	require.NoError(t, err)
	assert.Empty(t, empty)

	ranged, err := db.ListSlotsInRange(ctx, "2025-04-10", "2025-04-11")
	require.NoError(t, err)
	assert.Len(t, ranged, 4)

	all, err := db.ListAllSlots(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byIDs, err := db.GetSlotsByIDs(ctx, []string{slots[2].ID, slots[0].ID, slots[0].ID, ""})
	require.NoError(t, err)
	require.Len(t, byIDs, 2)
	assert.Equal(t, slots[0].ID, byIDs[0].ID)
}

func TestPatchSlot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := newSlot("2025-05-01", 600, 1)
	require.NoError(t, db.CreateSlot(ctx, s))
	other := newSlot("2025-05-01", 660, 1)
	require.NoError(t, db.CreateSlot(ctx, other))

	t.Run("RecognizedFields", func(t *testing.T) {
		capacity := 4
		notes := "group lesson"
		got, err := db.PatchSlot(ctx, s.ID, models.SlotPatch{Capacity: &capacity, Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, 4, got.Capacity)
		assert.Equal(t, "group lesson", got.Notes)
		assert.Equal(t, 600, got.StartMin)

		reloaded, err := db.GetSlot(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, reloaded.Capacity)
	})

	t.Run("EmptyPatchIsNoop", func(t *testing.T) {
		got, err := db.PatchSlot(ctx, s.ID, models.SlotPatch{})
		require.NoError(t, err)
		assert.Equal(t, 4, got.Capacity)
	})

	t.Run("InvalidMerge", func(t *testing.T) {
		end := 500
		_, err := db.PatchSlot(ctx, s.ID, models.SlotPatch{EndMin: &end})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("MoveOntoOccupiedStart", func(t *testing.T) {
		start, end := 660, 685
		_, err := db.PatchSlot(ctx, s.ID, models.SlotPatch{StartMin: &start, EndMin: &end})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("CancelThenReopenConflict", func(t *testing.T) {
		yes, no := true, false
		_, err := db.PatchSlot(ctx, other.ID, models.SlotPatch{Cancelled: &yes})
		require.NoError(t, err)
		require.NoError(t, db.CreateSlot(ctx, newSlot("2025-05-01", 660, 1)))

		_, err = db.PatchSlot(ctx, other.ID, models.SlotPatch{Cancelled: &no})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("Missing", func(t *testing.T) {
		capacity := 2
		_, err := db.PatchSlot(ctx, "missing", models.SlotPatch{Capacity: &capacity})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestDeleteSlot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := newSlot("2025-06-01", 600, 1)
	require.NoError(t, db.CreateSlot(ctx, s))
	require.NoError(t, db.CreateBooking(ctx, &models.Booking{Code: "kajaaaaaa", SlotID: s.ID, DurationMin: 25}))

	// the store itself does not guard referencing bookings
	require.NoError(t, db.DeleteSlot(ctx, s.ID))
	_, err := db.GetSlot(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, db.DeleteSlot(ctx, s.ID), domain.ErrNotFound)
}

func TestInsertSlotsIgnoreDuplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSlot(ctx, newSlot("2025-07-01", 600, 1)))

	n, err := db.InsertSlotsIgnoreDuplicates(ctx, []*models.Slot{
		newSlot("2025-07-01", 600, 1),
		newSlot("2025-07-01", 630, 1),
		newSlot("2025-07-01", 660, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	slots, err := db.ListSlotsByDateKey(ctx, "2025-07-01")
	require.NoError(t, err)
	assert.Len(t, slots, 3)

	_, err = db.InsertSlotsIgnoreDuplicates(ctx, []*models.Slot{newSlot("2025-07-01", 1430, 1)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()

	_, err = db.GetSlot(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrStorage)

	err = db.CreateSlot(ctx, newSlot("2025-01-01", 600, 1))
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, err = db.ListBookings(ctx, 10)
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, _, err = db.CancelBooking(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, err = db.HasReminder(ctx, "b", models.ReminderKind1h, models.RoleMember)
	assert.ErrorIs(t, err, domain.ErrStorage)
}
