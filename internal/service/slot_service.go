package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kajabook/internal/capacity"
	"kajabook/internal/domain"
	"kajabook/internal/events"
	"kajabook/internal/lock"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
)

// maxGenerateDays bounds one pattern expansion.
const maxGenerateDays = 366

// GenerateRequest expands a weekly pattern over an inclusive date range.
type GenerateRequest struct {
	Pattern  models.WeeklyPattern `json:"pattern"`
	FromKey  string               `json:"fromDateKey"`
	ToKey    string               `json:"toDateKey"`
	Capacity int                  `json:"capacity"`
}

type GenerateResult struct {
	Candidates int `json:"candidates"`
	Inserted   int `json:"inserted"`
}

// SlotService handles slot administration and the public slot listing.
type SlotService struct {
	slots     domain.SlotStore
	bookings  domain.BookingStore
	locker    domain.Locker
	eventBus  domain.EventPublisher
	lockTTL   time.Duration
	listLimit int
	logger    *zerolog.Logger
}

func NewSlotService(
	slots domain.SlotStore,
	bookings domain.BookingStore,
	locker domain.Locker,
	eventBus domain.EventPublisher,
	cfg ReservationConfig,
	logger *zerolog.Logger,
) *SlotService {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = models.DefaultListLimit
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SlotService{
		slots:     slots,
		bookings:  bookings,
		locker:    locker,
		eventBus:  eventBus,
		lockTTL:   cfg.LockTTL,
		listLimit: cfg.ListLimit,
		logger:    logger,
	}
}

func (s *SlotService) CreateSlot(ctx context.Context, slot *models.Slot) error {
	if err := s.slots.CreateSlot(ctx, slot); err != nil {
		return err
	}
	s.logger.Info().Str("slot_id", slot.ID).Str("date_key", slot.DateKey).Int("start_min", slot.StartMin).Msg("slot created")
	s.publishSlot(events.EventSlotCreated, slot)
	return nil
}

func (s *SlotService) GetSlot(ctx context.Context, id string) (*models.Slot, error) {
	return s.slots.GetSlot(ctx, id)
}

// PatchSlot applies only the fields set in patch.
func (s *SlotService) PatchSlot(ctx context.Context, id string, patch models.SlotPatch) (*models.Slot, error) {
	unlock, err := s.lockSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	slot, err := s.slots.PatchSlot(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if !patch.IsEmpty() {
		s.logger.Info().Str("slot_id", id).Msg("slot updated")
		s.publishSlot(events.EventSlotUpdated, slot)
	}
	return slot, nil
}

// DeleteSlot removes a slot nobody has ever booked. Slots with booking
// history are cancelled through PatchSlot instead.
func (s *SlotService) DeleteSlot(ctx context.Context, id string) error {
	unlock, err := s.lockSlot(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	slot, err := s.slots.GetSlot(ctx, id)
	if err != nil {
		return err
	}
	refs, err := s.bookings.ListBookingsBySlotIDs(ctx, []string{id})
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return domain.Conflictf("slot %s is referenced by %d booking(s); cancel it instead", id, len(refs))
	}
	if err := s.slots.DeleteSlot(ctx, id); err != nil {
		return err
	}

	s.logger.Info().Str("slot_id", id).Msg("slot deleted")
	s.publishSlot(events.EventSlotDeleted, slot)
	return nil
}

// ListSlots returns raw slots for one day, or every slot up to the list limit.
func (s *SlotService) ListSlots(ctx context.Context, dateKey string) ([]*models.Slot, error) {
	if dateKey == "" {
		return s.slots.ListAllSlots(ctx, s.listLimit)
	}
	if _, err := models.ParseDateKey(dateKey, nil); err != nil {
		return nil, domain.Validationf("%v", err)
	}
	return s.slots.ListSlotsByDateKey(ctx, dateKey)
}

// ListPublicSlots is the member-facing view: active slots with live availability
// and no booking details.
func (s *SlotService) ListPublicSlots(ctx context.Context, fromKey, toKey string) ([]models.SlotAvailability, error) {
	var (
		slots []*models.Slot
		err   error
	)
	switch {
	case fromKey == "" && toKey == "":
		slots, err = s.slots.ListAllSlots(ctx, s.listLimit)
	case toKey == "" || fromKey == toKey:
		slots, err = s.ListSlots(ctx, fromKey)
	default:
		if err := validateRange(fromKey, toKey, 0); err != nil {
			return nil, err
		}
		slots, err = s.slots.ListSlotsInRange(ctx, fromKey, toKey)
	}
	if err != nil {
		return nil, err
	}

	active := slots[:0:0]
	for _, sl := range slots {
		if !sl.Cancelled {
			active = append(active, sl)
		}
	}
	bookings, err := s.bookings.ListBookingsBySlotIDs(ctx, slotIDs(active))
	if err != nil {
		return nil, err
	}
	return capacity.Reconcile(active, bookings, false), nil
}

// GenerateSlots expands the pattern into one slot per window per matching day.
// Windows that collide with an active slot are skipped.
func (s *SlotService) GenerateSlots(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if err := validateRange(req.FromKey, req.ToKey, maxGenerateDays); err != nil {
		return GenerateResult{}, err
	}
	if req.Capacity == 0 {
		req.Capacity = 1
	}

	candidates := ExpandPattern(req.Pattern, req.FromKey, req.ToKey, req.Capacity)
	if len(candidates) == 0 {
		return GenerateResult{}, nil
	}
	inserted, err := s.slots.InsertSlotsIgnoreDuplicates(ctx, candidates)
	if err != nil {
		return GenerateResult{}, err
	}

	s.logger.Info().
		Str("from", req.FromKey).
		Str("to", req.ToKey).
		Int("candidates", len(candidates)).
		Int("inserted", inserted).
		Msg("slots generated from pattern")
	return GenerateResult{Candidates: len(candidates), Inserted: inserted}, nil
}

// ExpandPattern walks fromKey..toKey inclusive. Keys must already be valid.
func ExpandPattern(pattern models.WeeklyPattern, fromKey, toKey string, seats int) []*models.Slot {
	from, err := models.ParseDateKey(fromKey, nil)
	if err != nil {
		return nil
	}
	to, err := models.ParseDateKey(toKey, nil)
	if err != nil {
		return nil
	}

	var out []*models.Slot
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, r := range pattern[day.Weekday()] {
			out = append(out, &models.Slot{
				DateKey:  models.DateKeyOf(day),
				StartMin: r.StartMin,
				EndMin:   r.EndMin,
				Capacity: seats,
			})
		}
	}
	return out
}

func (s *SlotService) lockSlot(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, slotLockPrefix+id, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: slot is busy, try again", domain.ErrConflict)
		}
		return nil, domain.Storage("lock slot", err)
	}
	return unlock, nil
}

func (s *SlotService) publishSlot(eventType string, slot *models.Slot) {
	if s.eventBus == nil || slot == nil {
		return
	}
	payload := events.SlotEventPayload{
		SlotID:    slot.ID,
		DateKey:   slot.DateKey,
		StartMin:  slot.StartMin,
		EndMin:    slot.EndMin,
		Capacity:  slot.Capacity,
		Cancelled: slot.Cancelled,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("slot_id", slot.ID).Msg("failed to publish event")
	}
}

// validateRange checks two date keys and, when maxDays > 0, the span between them.
func validateRange(fromKey, toKey string, maxDays int) error {
	from, err := models.ParseDateKey(fromKey, nil)
	if err != nil {
		return domain.Validationf("from: %v", err)
	}
	to, err := models.ParseDateKey(toKey, nil)
	if err != nil {
		return domain.Validationf("to: %v", err)
	}
	if to.Before(from) {
		return domain.Validationf("range end %s is before start %s", toKey, fromKey)
	}
	if maxDays > 0 && to.Sub(from) > time.Duration(maxDays)*24*time.Hour {
		return domain.Validationf("range is limited to %d days", maxDays)
	}
	return nil
}
