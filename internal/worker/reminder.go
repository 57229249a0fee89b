package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kajabook/internal/domain"
	"kajabook/internal/events"
	"kajabook/internal/metrics"
	"kajabook/internal/models"

	"github.com/rs/zerolog"
)

// reminderRule fires when the lesson start is within (target-window, target].
// The run interval must stay below the smallest window.
type reminderRule struct {
	kind   string
	target time.Duration
	window time.Duration
}

var reminderRules = []reminderRule{
	{kind: models.ReminderKind1h, target: time.Hour, window: 15 * time.Minute},
	{kind: models.ReminderKind30m, target: 30 * time.Minute, window: 10 * time.Minute},
}

func (r reminderRule) due(untilStart time.Duration) bool {
	return untilStart <= r.target && untilStart > r.target-r.window
}

// ReminderResult is one delivered reminder.
type ReminderResult struct {
	BookingID string `json:"bookingId"`
	Kind      string `json:"kind"`
	Role      string `json:"role"`
	To        string `json:"to"`
}

type RunResult struct {
	Sent    []ReminderResult `json:"sent"`
	Failed  int              `json:"failed"`
	Skipped int              `json:"skipped"`
}

// ReminderWorker periodically reminds members and admins about upcoming lessons.
type ReminderWorker struct {
	slots    domain.SlotStore
	bookings domain.BookingStore
	logs     domain.ReminderLogStore
	eventBus domain.EventPublisher
	notifier domain.Notifier
	loc      *time.Location
	interval time.Duration
	retry    RetryPolicy
	now      func() time.Time
	runMu    sync.Mutex
	logger   *zerolog.Logger
}

func NewReminderWorker(
	slots domain.SlotStore,
	bookings domain.BookingStore,
	logs domain.ReminderLogStore,
	eventBus domain.EventPublisher,
	notifier domain.Notifier,
	loc *time.Location,
	interval time.Duration,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *ReminderWorker {
	if interval <= 0 {
		interval = models.DefaultReminderInterval
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReminderWorker{
		slots:    slots,
		bookings: bookings,
		logs:     logs,
		eventBus: eventBus,
		notifier: notifier,
		loc:      loc,
		interval: interval,
		retry:    retry.withDefaults(),
		now:      time.Now,
		logger:   logger,
	}
}

// Start runs RunOnce every interval until ctx is done.
func (w *ReminderWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("reminder worker started")
	defer w.logger.Info().Msg("reminder worker stopped")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("reminder run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce delivers every reminder that is due now. Overlapping runs are serialized.
func (w *ReminderWorker) RunOnce(ctx context.Context) (RunResult, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	var res RunResult
	now := w.now()
	local := now.In(w.loc)
	// A lesson an hour away may already be tomorrow.
	fromKey := models.DateKeyOf(local)
	toKey := models.DateKeyOf(local.AddDate(0, 0, 1))

	slots, err := w.slots.ListSlotsInRange(ctx, fromKey, toKey)
	if err != nil {
		return res, fmt.Errorf("list slots: %w", err)
	}
	byID := make(map[string]*models.Slot, len(slots))
	ids := make([]string, 0, len(slots))
	for _, s := range slots {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}
	bookings, err := w.bookings.ListBookingsBySlotIDs(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("list bookings: %w", err)
	}

	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !b.IsConfirmed() {
			continue
		}
		slot, ok := byID[b.SlotID]
		if !ok {
			continue
		}
		start, err := models.SlotStart(slot, w.loc)
		if err != nil {
			w.logger.Warn().Err(err).Str("slot_id", slot.ID).Msg("bad slot date")
			continue
		}
		until := start.Sub(now)
		if until <= 0 {
			continue
		}

		for _, rule := range reminderRules {
			if !rule.due(until) {
				continue
			}
			if b.Email != "" && w.eventBus != nil {
				w.deliver(ctx, &res, b, rule.kind, models.RoleMember, b.Email, func(ctx context.Context) error {
					return w.eventBus.PublishJSON(events.EventBookingReminder, events.ReminderEventPayload{
						BookingID: b.ID,
						Kind:      rule.kind,
						Role:      models.RoleMember,
						To:        b.Email,
						StartsAt:  start,
						MeetURL:   b.MeetURL,
					})
				})
			}
			if w.notifier != nil {
				text := adminReminderText(rule.kind, b, slot, w.loc)
				w.deliver(ctx, &res, b, rule.kind, models.RoleAdmin, "telegram", func(ctx context.Context) error {
					return w.notifier.NotifyAdmins(ctx, text)
				})
			}
		}
	}

	if len(res.Sent) > 0 || res.Failed > 0 {
		w.logger.Info().Int("sent", len(res.Sent)).Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("reminders processed")
	}
	return res, nil
}

func (w *ReminderWorker) deliver(
	ctx context.Context,
	res *RunResult,
	b *models.Booking,
	kind, role, to string,
	send func(context.Context) error,
) {
	sent, err := w.logs.HasReminder(ctx, b.ID, kind, role)
	if err != nil {
		w.logger.Error().Err(err).Str("booking_id", b.ID).Msg("check reminder log")
		res.Failed++
		return
	}
	if sent {
		res.Skipped++
		return
	}

	if err := w.retry.Do(ctx, send); err != nil {
		w.logger.Error().Err(err).Str("booking_id", b.ID).Str("kind", kind).Str("role", role).Msg("reminder not delivered")
		res.Failed++
		return
	}

	entry := &models.ReminderLog{BookingID: b.ID, Kind: kind, Role: role, To: to, SentAt: w.now().UTC()}
	if err := w.logs.LogReminder(ctx, entry); err != nil && !errors.Is(err, domain.ErrConflict) {
		w.logger.Error().Err(err).Str("booking_id", b.ID).Msg("log reminder")
	}
	metrics.IncReminder(kind, role)
	res.Sent = append(res.Sent, ReminderResult{BookingID: b.ID, Kind: kind, Role: role, To: to})
}

func adminReminderText(kind string, b *models.Booking, slot *models.Slot, loc *time.Location) string {
	name := b.Name
	if name == "" {
		name = "Member"
	}
	heading := "Starting soon"
	if kind == models.ReminderKind1h {
		heading = "In one hour"
	}
	text := fmt.Sprintf("%s: lesson with %s\n%s %s (%s), %d min\ncode: %s",
		heading, name, slot.DateKey, models.FormatMinutes(slot.StartMin), loc, b.DurationMin, b.Code)
	if b.MeetURL != "" {
		text += "\n" + b.MeetURL
	}
	return text
}
