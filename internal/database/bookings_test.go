package database

import (
	"context"
	"fmt"
	"testing"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("DefaultsToConfirmed", func(t *testing.T) {
		b := &models.Booking{Code: "kajaab123", SlotID: "s1", DurationMin: 25, Name: "Minji", Email: "m@example.com"}
		require.NoError(t, db.CreateBooking(ctx, b))
		assert.NotEmpty(t, b.ID)
		assert.Equal(t, models.StatusConfirmed, b.Status)

		got, err := db.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "Minji", got.Name)
		assert.Equal(t, "m@example.com", got.Email)
		assert.Equal(t, models.StatusConfirmed, got.Status)
		assert.Empty(t, got.SlotID2)
	})

	t.Run("ExplicitStatus", func(t *testing.T) {
		b := &models.Booking{Code: "kajaab124", SlotID: "s1", DurationMin: 25, Status: models.StatusCancelled}
		require.NoError(t, db.CreateBooking(ctx, b))
		assert.Equal(t, models.StatusCancelled, b.Status)
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		err := db.CreateBooking(ctx, &models.Booking{Code: "kajaab125", SlotID: "s1", Status: "pending"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("MissingSlot", func(t *testing.T) {
		err := db.CreateBooking(ctx, &models.Booking{Code: "kajaab126"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("DuplicateCode", func(t *testing.T) {
		err := db.CreateBooking(ctx, &models.Booking{Code: "kajaab123", SlotID: "s2", DurationMin: 25})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestGetBookingByKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := &models.Booking{Code: "kajaq1w2e", SlotID: "s1", DurationMin: 25}
	require.NoError(t, db.CreateBooking(ctx, b))

	byID, err := db.GetBookingByKey(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byID.ID)

	byCode, err := db.GetBookingByKey(ctx, " KAJAQ1W2E ")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byCode.ID)

	_, err = db.GetBookingByKey(ctx, "kajazzzzz")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = db.GetBookingByKey(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListBookingsBySlotIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	single := &models.Booking{Code: "kaja00001", SlotID: "A", DurationMin: 25}
	double := &models.Booking{Code: "kaja00002", SlotID: "A", SlotID2: "B", DurationMin: 50}
	onlyB := &models.Booking{Code: "kaja00003", SlotID: "B", DurationMin: 25, Status: models.StatusCancelled}
	elsewhere := &models.Booking{Code: "kaja00004", SlotID: "C", DurationMin: 25}
	for _, b := range []*models.Booking{single, double, onlyB, elsewhere} {
		require.NoError(t, db.CreateBooking(ctx, b))
	}

	got, err := db.ListBookingsBySlotIDs(ctx, []string{"B"})
	require.NoError(t, err)
	ids := bookingIDs(got)
	assert.ElementsMatch(t, []string{double.ID, onlyB.ID}, ids)

	got, err = db.ListBookingsBySlotIDs(ctx, []string{"A", "B", "A"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	// most recent first
	assert.Equal(t, onlyB.ID, got[0].ID)

	none, err := db.ListBookingsBySlotIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListBookings_LimitAndOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var created []*models.Booking
	for i := 0; i < 5; i++ {
		b := &models.Booking{Code: fmt.Sprintf("kajal%04d", i), SlotID: "S", DurationMin: 25, StudentID: "stu-1"}
		if i%2 == 1 {
			b.StudentID = "stu-2"
		}
		require.NoError(t, db.CreateBooking(ctx, b))
		created = append(created, b)
	}

	got, err := db.ListBookings(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, created[4].ID, got[0].ID)
	assert.Equal(t, created[3].ID, got[1].ID)
	assert.Equal(t, created[2].ID, got[2].ID)

	all, err := db.ListBookings(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	mine, err := db.ListBookingsByStudent(ctx, "stu-2")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	anon, err := db.ListBookingsByStudent(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, anon)
}

func TestCancelBooking_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := &models.Booking{Code: "kajacncl1", SlotID: "S", DurationMin: 25}
	require.NoError(t, db.CreateBooking(ctx, b))

	first, changed, err := db.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusCancelled, first.Status)

	second, changed, err := db.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, changed, "second cancel changes nothing")
	assert.Equal(t, models.StatusCancelled, second.Status)
	assert.Equal(t, first.UpdatedAt.Unix(), second.UpdatedAt.Unix())

	_, changed, err = db.CancelBooking(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, changed)
}

func TestUpdateBookingMeeting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := &models.Booking{Code: "kajameet1", SlotID: "S", DurationMin: 25}
	require.NoError(t, db.CreateBooking(ctx, b))

	info := models.MeetingInfo{Provider: "google_meet", MeetURL: "https://meet.google.com/abc-defg-hij", EventID: "evt1", HTMLLink: "https://calendar/evt1"}
	require.NoError(t, db.UpdateBookingMeeting(ctx, b.ID, info))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, info.MeetURL, got.MeetURL)
	assert.Equal(t, "evt1", got.CalendarEventID)

	assert.ErrorIs(t, db.UpdateBookingMeeting(ctx, "missing", info), domain.ErrNotFound)
}

func TestReminderLogs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	has, err := db.HasReminder(ctx, "b1", models.ReminderKind1h, models.RoleMember)
	require.NoError(t, err)
	assert.False(t, has)

	entry := &models.ReminderLog{BookingID: "b1", Kind: models.ReminderKind1h, Role: models.RoleMember, To: "m@example.com"}
	require.NoError(t, db.LogReminder(ctx, entry))
	assert.NotEmpty(t, entry.ID)

	has, err = db.HasReminder(ctx, "b1", models.ReminderKind1h, models.RoleMember)
	require.NoError(t, err)
	assert.True(t, has)

	err = db.LogReminder(ctx, &models.ReminderLog{BookingID: "b1", Kind: models.ReminderKind1h, Role: models.RoleMember})
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, db.LogReminder(ctx, &models.ReminderLog{BookingID: "b1", Kind: models.ReminderKind30m, Role: models.RoleAdmin}))

	logs, err := db.ListReminderLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func bookingIDs(bookings []*models.Booking) []string {
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	return ids
}
