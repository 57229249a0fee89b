package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"kajabook/internal/database"
	"kajabook/internal/domain"
	"kajabook/internal/events"
	"kajabook/internal/lock"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDay = "2030-03-04"

type testEnv struct {
	db           *database.DB
	reservations *ReservationService
	slots        *SlotService
	mu           sync.Mutex
	published    []*events.Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{db: db}
	bus := events.NewEventBus()
	bus.SubscribeAll(func(e *events.Event) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.published = append(env.published, e)
		return nil
	})

	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	cfg := ReservationConfig{
		GridStepMin:  models.GridStepMin,
		LockTTL:      time.Second,
		ListLimit:    100,
		CancelNotice: time.Hour,
		Location:     seoul,
	}
	locker := lock.NewMemoryLocker()
	env.reservations = NewReservationService(db, db, locker, bus, cfg, &logger)
	env.slots = NewSlotService(db, db, locker, bus, cfg, &logger)
	return env
}

func (e *testEnv) eventTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.published))
	for _, ev := range e.published {
		out = append(out, ev.Type)
	}
	return out
}

func (e *testEnv) addSlot(t *testing.T, startMin, capacity int) *models.Slot {
	t.Helper()
	slot := &models.Slot{DateKey: testDay, StartMin: startMin, EndMin: startMin + models.LessonMin, Capacity: capacity}
	require.NoError(t, e.db.CreateSlot(context.Background(), slot))
	return slot
}

func TestReserve_SingleSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 2)

	booking, err := env.reservations.Reserve(ctx, ReserveRequest{
		SlotID:  slot.ID,
		Details: models.BookingDetails{StudentID: "stu-1", Name: " Jisoo ", Email: "jisoo@example.com"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, booking.ID)
	assert.Regexp(t, `^kaja[a-z0-9]{5}$`, booking.Code)
	assert.Equal(t, models.DurationShort, booking.DurationMin)
	assert.Equal(t, models.StatusConfirmed, booking.Status)
	assert.Equal(t, "Jisoo", booking.Name)
	assert.Equal(t, models.MeetingProviderKaja, booking.MeetingProvider)
	assert.Empty(t, booking.SlotID2)

	view, err := env.reservations.Availability(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.BookedCount)
	assert.Equal(t, 1, view.Available)
	require.Len(t, view.Bookings, 1)
	assert.Equal(t, booking.ID, view.Bookings[0].ID)

	assert.Contains(t, env.eventTypes(), events.EventBookingCreated)
}

func TestReserve_CapacityExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 1)

	_, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
	require.NoError(t, err)

	_, err = env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	bookings, err := env.db.ListBookingsBySlotIDs(ctx, []string{slot.ID})
	require.NoError(t, err)
	assert.Len(t, bookings, 1, "a refused reservation leaves no record")
}

func TestReserve_ConcurrentLastSeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 1)

	const callers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		full      int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrCapacityExceeded):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, full)

	view, err := env.reservations.Availability(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.BookedCount)
	assert.Equal(t, 0, view.Available)
}

func TestReserve_TwoSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.addSlot(t, 600, 1)
	second := env.addSlot(t, 630, 1)

	t.Run("AdjacentResolved", func(t *testing.T) {
		booking, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: first.ID, DurationMin: models.DurationLong})
		require.NoError(t, err)
		assert.Equal(t, second.ID, booking.SlotID2)
		assert.Equal(t, models.DurationLong, booking.DurationMin)

		day, err := env.reservations.DayView(ctx, testDay)
		require.NoError(t, err)
		require.Len(t, day, 2)
		for _, view := range day {
			assert.Equal(t, 1, view.BookedCount, "slot %s", view.ID)
			assert.Equal(t, 0, view.Available)
		}
	})

	t.Run("SecondSlotFull", func(t *testing.T) {
		third := env.addSlot(t, 660, 1)
		_, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: second.ID, SlotID2: third.ID})
		assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

		view, err := env.reservations.Availability(ctx, third.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, view.Available, "no partial booking on the free slot")
	})

	t.Run("NotConsecutive", func(t *testing.T) {
		a := env.addSlot(t, 900, 1)
		b := env.addSlot(t, 1000, 1)
		_, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: a.ID, SlotID2: b.ID})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("NoAdjacentSlot", func(t *testing.T) {
		lone := env.addSlot(t, 1200, 1)
		_, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: lone.ID, DurationMin: models.DurationLong})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestReserve_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 1)

	tests := []struct {
		name string
		req  ReserveRequest
		want error
	}{
		{"MissingSlot", ReserveRequest{}, domain.ErrValidation},
		{"BadDuration", ReserveRequest{SlotID: slot.ID, DurationMin: 40}, domain.ErrValidation},
		{"SameSlotTwice", ReserveRequest{SlotID: slot.ID, SlotID2: slot.ID}, domain.ErrValidation},
		{"ShortWithSecondSlot", ReserveRequest{SlotID: slot.ID, SlotID2: "other", DurationMin: models.DurationShort}, domain.ErrValidation},
		{"UnknownProvider", ReserveRequest{SlotID: slot.ID, Details: models.BookingDetails{MeetingProvider: "zoom"}}, domain.ErrValidation},
		{"UnknownSlot", ReserveRequest{SlotID: "missing"}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.reservations.Reserve(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReserve_MissingBeforeCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 1)

	cancelled := true
	_, err := env.slots.PatchSlot(ctx, slot.ID, models.SlotPatch{Cancelled: &cancelled})
	require.NoError(t, err)

	_, err = env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID, SlotID2: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReserve_CancelledSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 3)

	cancelled := true
	_, err := env.slots.PatchSlot(ctx, slot.ID, models.SlotPatch{Cancelled: &cancelled})
	require.NoError(t, err)

	_, err = env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestReserve_CodeCollisionRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 5)

	codes := []string{"kajaaaaaa", "kajaaaaaa", "kajabbbbb"}
	env.reservations.newCode = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	first, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
	require.NoError(t, err)
	second, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
	require.NoError(t, err)

	assert.Equal(t, "kajaaaaaa", first.Code)
	assert.Equal(t, "kajabbbbb", second.Code)

	env.reservations.newCode = func() (string, error) { return "kajaaaaaa", nil }
	_, err = env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestCancelReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 1)

	booking, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
	require.NoError(t, err)

	cancelled, err := env.reservations.CancelReservation(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	again, err := env.reservations.CancelReservation(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, again.Status)

	view, err := env.reservations.Availability(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.BookedCount)
	assert.Equal(t, 1, view.Available)

	n := 0
	for _, typ := range env.eventTypes() {
		if typ == events.EventBookingCancelled {
			n++
		}
	}
	assert.Equal(t, 1, n, "a repeated cancel publishes nothing")

	_, err = env.reservations.CancelReservation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID})
	assert.NoError(t, err, "the freed seat can be booked again")
}

func TestCancelReservation_TwoSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.addSlot(t, 600, 1)
	second := env.addSlot(t, 630, 1)

	booking, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: first.ID, SlotID2: second.ID})
	require.NoError(t, err)

	_, err = env.reservations.CancelReservation(ctx, booking.ID)
	require.NoError(t, err)

	for _, id := range []string{first.ID, second.ID} {
		view, err := env.reservations.Availability(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, view.BookedCount, "slot %s", id)
		assert.Equal(t, 1, view.Available, "slot %s", id)
	}
}

func TestCancelReservation_ConcurrentSideEffectsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 1)

	scheduler := new(mockScheduler)
	env.reservations.SetMeetingScheduler(scheduler)
	scheduler.On("ScheduleMeeting", mock.Anything, mock.Anything, mock.Anything).Return(&models.MeetingInfo{
		Provider: models.MeetingProviderGoogleMeet,
		MeetURL:  "https://meet.google.com/xyz",
		EventID:  "evt-once",
	}, nil).Once()
	scheduler.On("CancelMeeting", mock.Anything, "evt-once").Return(nil).Once()

	booking, err := env.reservations.Reserve(ctx, ReserveRequest{
		SlotID:  slot.ID,
		Details: models.BookingDetails{MeetingProvider: models.MeetingProviderGoogleMeet},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := env.reservations.CancelReservation(ctx, booking.ID)
			assert.NoError(t, err)
			assert.Equal(t, models.StatusCancelled, got.Status)
		}()
	}
	wg.Wait()

	n := 0
	for _, typ := range env.eventTypes() {
		if typ == events.EventBookingCancelled {
			n++
		}
	}
	assert.Equal(t, 1, n)
	scheduler.AssertExpectations(t)
}

func TestAvailabilityBulk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.addSlot(t, 600, 2)
	second := env.addSlot(t, 630, 1)

	_, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: first.ID, SlotID2: second.ID})
	require.NoError(t, err)

	views, err := env.reservations.AvailabilityBulk(ctx, []string{second.ID, "missing", first.ID, second.ID})
	require.NoError(t, err)
	require.Len(t, views, 2, "unknown and repeated ids are dropped")
	assert.Equal(t, second.ID, views[0].ID)
	assert.Equal(t, 0, views[0].Available)
	assert.Equal(t, first.ID, views[1].ID)
	assert.Equal(t, 1, views[1].Available)

	none, err := env.reservations.AvailabilityBulk(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCancelForStudent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 2)

	seoul := env.reservations.cfg.Location
	start := time.Date(2030, 3, 4, 10, 0, 0, 0, seoul)

	booking, err := env.reservations.Reserve(ctx, ReserveRequest{
		SlotID:  slot.ID,
		Details: models.BookingDetails{StudentID: "stu-1"},
	})
	require.NoError(t, err)

	t.Run("OtherStudent", func(t *testing.T) {
		_, err := env.reservations.CancelForStudent(ctx, booking.ID, "stu-2", "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("TooLate", func(t *testing.T) {
		env.reservations.now = func() time.Time { return start.Add(-30 * time.Minute) }
		_, err := env.reservations.CancelForStudent(ctx, booking.ID, "stu-1", "")
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("InTime", func(t *testing.T) {
		env.reservations.now = func() time.Time { return start.Add(-2 * time.Hour) }
		got, err := env.reservations.CancelForStudent(ctx, booking.ID, "stu-1", "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)
	})

	t.Run("AnonymousBooking", func(t *testing.T) {
		guest, err := env.reservations.Reserve(ctx, ReserveRequest{
			SlotID:  slot.ID,
			Details: models.BookingDetails{Email: "Guest@Example.com"},
		})
		require.NoError(t, err)

		_, err = env.reservations.CancelForStudent(ctx, guest.ID, "", "")
		assert.ErrorIs(t, err, domain.ErrValidation, "an id alone is not enough")

		_, err = env.reservations.CancelForStudent(ctx, guest.ID, "stu-9", "other@example.com")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		stored, err := env.reservations.GetBooking(ctx, guest.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, stored.Status)

		got, err := env.reservations.CancelForStudent(ctx, guest.ID, "", " guest@example.COM ")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)
	})
}

func TestBookingLookups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 3)

	booking, err := env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID, Details: models.BookingDetails{StudentID: "stu-1"}})
	require.NoError(t, err)
	_, err = env.reservations.Reserve(ctx, ReserveRequest{SlotID: slot.ID, Details: models.BookingDetails{StudentID: "stu-2"}})
	require.NoError(t, err)

	byCode, err := env.reservations.GetBookingByKey(ctx, booking.Code)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, byCode.ID)

	_, err = env.reservations.GetBookingByKey(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	mine, err := env.reservations.ListBookingsByStudent(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, booking.ID, mine[0].ID)

	all, err := env.reservations.ListBookings(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = env.reservations.DayView(ctx, "04-03-2030")
	assert.ErrorIs(t, err, domain.ErrValidation)

	week, err := env.reservations.RangeView(ctx, testDay, "2030-03-10")
	require.NoError(t, err)
	require.Len(t, week, 1)
	assert.Len(t, week[0].Bookings, 2)

	_, err = env.reservations.RangeView(ctx, "2030-03-10", testDay)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) ScheduleMeeting(ctx context.Context, b *models.Booking, s *models.Slot) (*models.MeetingInfo, error) {
	args := m.Called(ctx, b, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MeetingInfo), args.Error(1)
}

func (m *mockScheduler) CancelMeeting(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

func TestReserve_GoogleMeet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := env.addSlot(t, 600, 1)

	scheduler := new(mockScheduler)
	env.reservations.SetMeetingScheduler(scheduler)

	t.Run("Attached", func(t *testing.T) {
		scheduler.On("ScheduleMeeting", mock.Anything, mock.Anything, mock.Anything).Return(&models.MeetingInfo{
			Provider: models.MeetingProviderGoogleMeet,
			MeetURL:  "https://meet.google.com/abc-defg-hij",
			EventID:  "evt-1",
		}, nil).Once()

		booking, err := env.reservations.Reserve(ctx, ReserveRequest{
			SlotID:  slot.ID,
			Details: models.BookingDetails{MeetingProvider: models.MeetingProviderGoogleMeet},
		})
		require.NoError(t, err)
		assert.Equal(t, "https://meet.google.com/abc-defg-hij", booking.MeetURL)

		stored, err := env.reservations.GetBooking(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, "evt-1", stored.CalendarEventID)

		var payload events.BookingEventPayload
		env.mu.Lock()
		last := env.published[len(env.published)-1]
		env.mu.Unlock()
		require.NoError(t, json.Unmarshal(last.Payload, &payload))
		assert.Equal(t, "https://meet.google.com/abc-defg-hij", payload.MeetURL)

		scheduler.On("CancelMeeting", mock.Anything, "evt-1").Return(nil).Once()
		_, err = env.reservations.CancelReservation(ctx, booking.ID)
		require.NoError(t, err)
	})

	t.Run("FailureCancels", func(t *testing.T) {
		scheduler.On("ScheduleMeeting", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("calendar unavailable")).Once()

		_, err := env.reservations.Reserve(ctx, ReserveRequest{
			SlotID:  slot.ID,
			Details: models.BookingDetails{MeetingProvider: models.MeetingProviderGoogleMeet},
		})
		assert.ErrorIs(t, err, domain.ErrStorage)

		view, err := env.reservations.Availability(ctx, slot.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, view.Available, "the seat is released again")
	})

	scheduler.AssertExpectations(t)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "ok", outcomeOf(nil))
	assert.Equal(t, "validation", outcomeOf(domain.Validationf("x")))
	assert.Equal(t, "not_found", outcomeOf(domain.NotFoundf("x")))
	assert.Equal(t, "conflict", outcomeOf(domain.Conflictf("x")))
	assert.Equal(t, "capacity_exceeded", outcomeOf(domain.ErrCapacityExceeded))
	assert.Equal(t, "error", outcomeOf(errors.New("disk")))
}
