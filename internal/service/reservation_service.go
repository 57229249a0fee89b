package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kajabook/internal/capacity"
	"kajabook/internal/config"
	"kajabook/internal/domain"
	"kajabook/internal/events"
	"kajabook/internal/lock"
	"kajabook/internal/metrics"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
)

const slotLockPrefix = "slot:"

type ReservationConfig struct {
	GridStepMin  int
	LockTTL      time.Duration
	ListLimit    int
	CancelNotice time.Duration
	Location     *time.Location

	// MeetingProvider applies when a request does not name one.
	MeetingProvider string
}

func ReservationConfigFrom(cfg config.BookingConfig) ReservationConfig {
	return ReservationConfig{
		GridStepMin:  cfg.GridStepMin,
		LockTTL:      cfg.LockTTL,
		ListLimit:    cfg.ListLimit,
		CancelNotice: cfg.CancelNotice,
		Location:     cfg.Location(),

		MeetingProvider: cfg.MeetingProvider,
	}
}

// ReserveRequest asks for one lesson. SlotID2 may be left empty for a
// 50-minute lesson; the next slot on the grid is used then.
type ReserveRequest struct {
	SlotID      string
	SlotID2     string
	DurationMin int
	Details     models.BookingDetails
}

func (r ReserveRequest) slotIDs() []string {
	if r.SlotID2 == "" {
		return []string{r.SlotID}
	}
	return []string{r.SlotID, r.SlotID2}
}

// ReservationService owns the reserve and cancel sequences.
type ReservationService struct {
	slots    domain.SlotStore
	bookings domain.BookingStore
	locker   domain.Locker
	eventBus domain.EventPublisher
	meetings domain.MeetingScheduler
	cfg      ReservationConfig
	newCode  func() (string, error)
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewReservationService(
	slots domain.SlotStore,
	bookings domain.BookingStore,
	locker domain.Locker,
	eventBus domain.EventPublisher,
	cfg ReservationConfig,
	logger *zerolog.Logger,
) *ReservationService {
	if cfg.GridStepMin <= 0 {
		cfg.GridStepMin = models.GridStepMin
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = models.DefaultListLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MeetingProvider == "" {
		cfg.MeetingProvider = models.MeetingProviderKaja
	}
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReservationService{
		slots:    slots,
		bookings: bookings,
		locker:   locker,
		eventBus: eventBus,
		cfg:      cfg,
		newCode:  newBookingCode,
		now:      time.Now,
		logger:   logger,
	}
}

// SetMeetingScheduler enables video meetings for bookings that ask for one.
func (s *ReservationService) SetMeetingScheduler(m domain.MeetingScheduler) {
	s.meetings = m
}

// Reserve creates a confirmed booking if every referenced slot has a free seat.
// The check and the insert run under per-slot locks, so two concurrent callers
// can never both take the last seat.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (booking *models.Booking, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveReservation(outcomeOf(err), time.Since(started))
	}()

	req, err = s.normalize(ctx, req)
	if err != nil {
		return nil, err
	}

	booking, primary, err := s.reserveLocked(ctx, req)
	if err != nil {
		if !domain.IsExpected(err) {
			s.logger.Error().Err(err).Str("slot_id", req.SlotID).Msg("reservation failed")
		}
		return nil, err
	}

	if s.meetings != nil && booking.MeetingProvider == models.MeetingProviderGoogleMeet {
		if err := s.attachMeeting(ctx, booking, primary); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("code", booking.Code).
		Strs("slot_ids", booking.SlotIDs()).
		Int("duration_min", booking.DurationMin).
		Msg("booking confirmed")

	s.publishBooking(events.EventBookingCreated, booking, primary, models.RoleMember)
	return booking, nil
}

func (s *ReservationService) normalize(ctx context.Context, req ReserveRequest) (ReserveRequest, error) {
	req.SlotID = strings.TrimSpace(req.SlotID)
	req.SlotID2 = strings.TrimSpace(req.SlotID2)
	if req.SlotID == "" {
		return req, domain.Validationf("slotId is required")
	}

	if req.DurationMin == 0 {
		req.DurationMin = models.DurationShort
		if req.SlotID2 != "" {
			req.DurationMin = models.DurationLong
		}
	}
	if err := domain.ValidateDuration(req.DurationMin); err != nil {
		return req, err
	}
	if req.SlotID2 == req.SlotID {
		return req, domain.Validationf("slotId2 must differ from slotId")
	}
	if req.DurationMin == models.DurationShort && req.SlotID2 != "" {
		return req, domain.Validationf("a %d-minute lesson takes a single slot", models.DurationShort)
	}

	switch req.Details.MeetingProvider {
	case "":
		req.Details.MeetingProvider = s.cfg.MeetingProvider
	case models.MeetingProviderKaja, models.MeetingProviderGoogleMeet:
	default:
		return req, domain.Validationf("unknown meetingProvider %q", req.Details.MeetingProvider)
	}
	req.Details.Name = strings.TrimSpace(req.Details.Name)
	req.Details.Email = strings.TrimSpace(req.Details.Email)

	if req.DurationMin == models.DurationLong && req.SlotID2 == "" {
		next, err := s.adjacentSlot(ctx, req.SlotID)
		if err != nil {
			return req, err
		}
		req.SlotID2 = next.ID
	}
	return req, nil
}

// adjacentSlot finds the slot starting one grid step after slotID on the same day.
func (s *ReservationService) adjacentSlot(ctx context.Context, slotID string) (*models.Slot, error) {
	primary, err := s.slots.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	day, err := s.slots.ListSlotsByDateKey(ctx, primary.DateKey)
	if err != nil {
		return nil, err
	}
	want := primary.StartMin + s.cfg.GridStepMin
	var found *models.Slot
	for _, sl := range day {
		if sl.StartMin != want {
			continue
		}
		if !sl.Cancelled {
			return sl, nil
		}
		found = sl
	}
	if found != nil {
		return found, nil
	}
	return nil, domain.NotFoundf("no slot at %s on %s to extend a %d-minute lesson",
		models.FormatMinutes(want), primary.DateKey, models.DurationLong)
}

func (s *ReservationService) reserveLocked(ctx context.Context, req ReserveRequest) (*models.Booking, *models.Slot, error) {
	ids := req.slotIDs()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, slotLockPrefix+id)
	}

	unlock, err := lock.LockAll(ctx, s.locker, keys, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, nil, fmt.Errorf("%w: slot is busy, try again", domain.ErrConflict)
		}
		return nil, nil, domain.Storage("lock slots", err)
	}
	defer unlock()

	found, err := s.slots.GetSlotsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]*models.Slot, len(found))
	for _, sl := range found {
		byID[sl.ID] = sl
	}

	// Missing slots are reported before cancelled ones.
	slots := make([]*models.Slot, 0, len(ids))
	for _, id := range ids {
		sl, ok := byID[id]
		if !ok {
			return nil, nil, domain.NotFoundf("slot %s", id)
		}
		slots = append(slots, sl)
	}
	for _, sl := range slots {
		if sl.Cancelled {
			return nil, nil, domain.Conflictf("slot %s is cancelled", sl.ID)
		}
	}
	if len(slots) == 2 {
		if err := s.checkAdjacent(slots[0], slots[1]); err != nil {
			return nil, nil, err
		}
	}

	existing, err := s.bookings.ListBookingsBySlotIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, sl := range slots {
		if capacity.Available(sl, existing) < 1 {
			return nil, nil, fmt.Errorf("%w: slot on %s at %s is full",
				domain.ErrCapacityExceeded, sl.DateKey, models.FormatMinutes(sl.StartMin))
		}
	}

	booking, err := s.createWithCode(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return booking, slots[0], nil
}

func (s *ReservationService) checkAdjacent(a, b *models.Slot) error {
	if a.DateKey != b.DateKey {
		return domain.Validationf("both slots must be on the same day")
	}
	if b.StartMin < a.StartMin {
		a, b = b, a
	}
	if b.StartMin-a.StartMin != s.cfg.GridStepMin {
		return domain.Validationf("slots %s and %s are not consecutive", models.FormatMinutes(a.StartMin), models.FormatMinutes(b.StartMin))
	}
	return nil
}

// createWithCode regenerates the public code on collision.
func (s *ReservationService) createWithCode(ctx context.Context, req ReserveRequest) (*models.Booking, error) {
	for attempt := 0; attempt < models.BookingCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, domain.Storage("generate booking code", err)
		}
		d := req.Details
		booking := &models.Booking{
			Code:            code,
			SlotID:          req.SlotID,
			SlotID2:         req.SlotID2,
			DurationMin:     req.DurationMin,
			Status:          models.StatusConfirmed,
			StudentID:       d.StudentID,
			Name:            d.Name,
			Email:           d.Email,
			Phone:           d.Phone,
			Notes:           d.Notes,
			MeetingProvider: d.MeetingProvider,
		}
		err = s.bookings.CreateBooking(ctx, booking)
		if err == nil {
			return booking, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		s.logger.Warn().Str("code", code).Int("attempt", attempt+1).Msg("booking code collision")
	}
	return nil, fmt.Errorf("%w: no free booking code after %d attempts", domain.ErrStorage, models.BookingCodeAttempts)
}

// attachMeeting books the video call; a booking without its meeting is cancelled.
func (s *ReservationService) attachMeeting(ctx context.Context, booking *models.Booking, slot *models.Slot) error {
	info, err := s.meetings.ScheduleMeeting(ctx, booking, slot)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("failed to schedule meeting, cancelling booking")
		if _, _, cerr := s.bookings.CancelBooking(ctx, booking.ID); cerr != nil {
			s.logger.Error().Err(cerr).Str("booking_id", booking.ID).Msg("failed to cancel booking without meeting")
		}
		return fmt.Errorf("%w: schedule meeting: %w", domain.ErrStorage, err)
	}

	if err := s.bookings.UpdateBookingMeeting(ctx, booking.ID, *info); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("meeting created but not stored")
		return nil
	}
	booking.MeetingProvider = info.Provider
	booking.MeetURL = info.MeetURL
	booking.CalendarEventID = info.EventID
	booking.CalendarHTMLLink = info.HTMLLink
	return nil
}

// CancelReservation is idempotent: cancelling a cancelled booking returns it unchanged.
func (s *ReservationService) CancelReservation(ctx context.Context, id string) (*models.Booking, error) {
	return s.cancel(ctx, id, models.RoleAdmin)
}

// CancelForStudent cancels a member's own booking. A booking made by a
// signed-in member needs that member; an anonymous one needs the email it was
// made with. Someone else's booking looks like a missing one, and lessons too
// close to their start are refused.
func (s *ReservationService) CancelForStudent(ctx context.Context, id, studentID, email string) (*models.Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(booking, studentID, email); err != nil {
		return nil, err
	}
	if !booking.IsConfirmed() {
		return booking, nil
	}

	if s.cfg.CancelNotice > 0 {
		slot, err := s.slots.GetSlot(ctx, booking.SlotID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if slot != nil {
			start, err := models.SlotStart(slot, s.cfg.Location)
			if err != nil {
				return nil, domain.Storage("slot start", err)
			}
			if s.now().Add(s.cfg.CancelNotice).After(start) {
				return nil, domain.Conflictf("lessons cannot be cancelled less than %s before they start", s.cfg.CancelNotice)
			}
		}
	}
	return s.cancel(ctx, id, models.RoleMember)
}

func checkOwner(booking *models.Booking, studentID, email string) error {
	if booking.StudentID != "" {
		if booking.StudentID != studentID {
			return domain.NotFoundf("booking %s", booking.ID)
		}
		return nil
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.Validationf("email is required to cancel this booking")
	}
	if !strings.EqualFold(email, strings.TrimSpace(booking.Email)) {
		return domain.NotFoundf("booking %s", booking.ID)
	}
	return nil
}

// cancel runs the side effects only for the call that actually cancelled.
func (s *ReservationService) cancel(ctx context.Context, id, changedBy string) (*models.Booking, error) {
	updated, changed, err := s.bookings.CancelBooking(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error().Err(err).Str("booking_id", id).Msg("failed to cancel booking")
		}
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	metrics.IncCancellation()
	s.logger.Info().Str("booking_id", id).Str("changed_by", changedBy).Msg("booking cancelled")

	if s.meetings != nil && updated.CalendarEventID != "" {
		if err := s.meetings.CancelMeeting(ctx, updated.CalendarEventID); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", id).Str("event_id", updated.CalendarEventID).Msg("failed to cancel meeting")
		}
	}

	slot, err := s.slots.GetSlot(ctx, updated.SlotID)
	if err != nil {
		slot = nil
	}
	s.publishBooking(events.EventBookingCancelled, updated, slot, changedBy)
	return updated, nil
}

// Availability reports one slot with its bookings attached.
func (s *ReservationService) Availability(ctx context.Context, slotID string) (*models.SlotAvailability, error) {
	slot, err := s.slots.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListBookingsBySlotIDs(ctx, []string{slot.ID})
	if err != nil {
		return nil, err
	}
	view := capacity.Reconcile([]*models.Slot{slot}, bookings, true)[0]
	return &view, nil
}

// AvailabilityBulk reports the slots among ids in request order. Unknown ids
// are skipped rather than failing the whole call.
func (s *ReservationService) AvailabilityBulk(ctx context.Context, ids []string) ([]models.SlotAvailability, error) {
	slots, err := s.slots.GetSlotsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Slot, len(slots))
	for _, sl := range slots {
		byID[sl.ID] = sl
	}
	ordered := make([]*models.Slot, 0, len(slots))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if sl, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			ordered = append(ordered, sl)
		}
	}

	bookings, err := s.bookings.ListBookingsBySlotIDs(ctx, slotIDs(ordered))
	if err != nil {
		return nil, err
	}
	return capacity.Reconcile(ordered, bookings, false), nil
}

// DayView is the admin view of one day: every slot, cancelled included, with its bookings.
func (s *ReservationService) DayView(ctx context.Context, dateKey string) ([]models.SlotAvailability, error) {
	if _, err := models.ParseDateKey(dateKey, nil); err != nil {
		return nil, domain.Validationf("%v", err)
	}
	slots, err := s.slots.ListSlotsByDateKey(ctx, dateKey)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListBookingsBySlotIDs(ctx, slotIDs(slots))
	if err != nil {
		return nil, err
	}
	return capacity.Reconcile(slots, bookings, true), nil
}

// RangeView is DayView over fromKey..toKey inclusive.
func (s *ReservationService) RangeView(ctx context.Context, fromKey, toKey string) ([]models.SlotAvailability, error) {
	if err := validateRange(fromKey, toKey, maxGenerateDays); err != nil {
		return nil, err
	}
	slots, err := s.slots.ListSlotsInRange(ctx, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListBookingsBySlotIDs(ctx, slotIDs(slots))
	if err != nil {
		return nil, err
	}
	return capacity.Reconcile(slots, bookings, true), nil
}

func (s *ReservationService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.bookings.GetBooking(ctx, id)
}

// GetBookingByKey resolves either an id or a public code.
func (s *ReservationService) GetBookingByKey(ctx context.Context, key string) (*models.Booking, error) {
	if strings.TrimSpace(key) == "" {
		return nil, domain.Validationf("booking key is required")
	}
	return s.bookings.GetBookingByKey(ctx, key)
}

func (s *ReservationService) ListBookings(ctx context.Context, limit int) ([]*models.Booking, error) {
	if limit <= 0 || limit > s.cfg.ListLimit {
		limit = s.cfg.ListLimit
	}
	return s.bookings.ListBookings(ctx, limit)
}

func (s *ReservationService) ListBookingsByStudent(ctx context.Context, studentID string) ([]*models.Booking, error) {
	return s.bookings.ListBookingsByStudent(ctx, studentID)
}

func (s *ReservationService) publishBooking(eventType string, b *models.Booking, slot *models.Slot, changedBy string) {
	if s.eventBus == nil || b == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID:   b.ID,
		Code:        b.Code,
		SlotID:      b.SlotID,
		SlotID2:     b.SlotID2,
		DurationMin: b.DurationMin,
		Status:      b.Status,
		StudentID:   b.StudentID,
		Name:        b.Name,
		Email:       b.Email,
		MeetURL:     b.MeetURL,
		ChangedBy:   changedBy,
	}
	if slot != nil {
		payload.DateKey = slot.DateKey
		payload.StartMin = slot.StartMin
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("booking_id", b.ID).Msg("failed to publish event")
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func slotIDs(slots []*models.Slot) []string {
	ids := make([]string, 0, len(slots))
	for _, sl := range slots {
		ids = append(ids, sl.ID)
	}
	return ids
}
