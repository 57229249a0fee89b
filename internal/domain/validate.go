package domain

import (
	"strings"

	"kajabook/internal/models"
)

// ValidateSlot checks the slot invariants shared by create and patch.
func ValidateSlot(s *models.Slot) error {
	if s == nil {
		return Validationf("slot is required")
	}
	if strings.TrimSpace(s.DateKey) == "" {
		return Validationf("dateKey is required")
	}
	if _, err := models.ParseDateKey(s.DateKey, nil); err != nil {
		return Validationf("%v", err)
	}
	if s.StartMin < 0 || s.EndMin > models.MinutesPerDay {
		return Validationf("minutes must be within 0..%d", models.MinutesPerDay)
	}
	if s.StartMin >= s.EndMin {
		return Validationf("startMin must be before endMin")
	}
	if s.Capacity < 1 {
		return Validationf("capacity must be at least 1")
	}
	return nil
}

// ValidateDuration accepts the two lesson lengths on offer.
func ValidateDuration(durationMin int) error {
	if durationMin != models.DurationShort && durationMin != models.DurationLong {
		return Validationf("durationMin must be %d or %d", models.DurationShort, models.DurationLong)
	}
	return nil
}
