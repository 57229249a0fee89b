package models

import (
	"fmt"
	"time"
)

// TypingState reports which side of a support thread is currently typing.
type TypingState struct {
	Member  bool `json:"member"`
	Support bool `json:"support"`
}

// ReminderLog records a delivered reminder so it is never sent twice.
type ReminderLog struct {
	ID        string    `json:"id"`
	BookingID string    `json:"bookingId"`
	Kind      string    `json:"kind"`
	Role      string    `json:"role"`
	To        string    `json:"to"`
	SentAt    time.Time `json:"sentAt"`
}

// ParseDateKey parses a YYYY-MM-DD key in the given location.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: expected YYYY-MM-DD", key)
	}
	return t, nil
}

func DateKeyOf(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// FormatMinutes renders minutes since midnight as HH:MM.
func FormatMinutes(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// SlotStart is the wall-clock start of the slot in loc.
func SlotStart(s *Slot, loc *time.Location) (time.Time, error) {
	day, err := ParseDateKey(s.DateKey, loc)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(s.StartMin) * time.Minute), nil
}

func IsValidRole(role string) bool {
	return role == RoleMember || role == RoleSupport
}
