package models

import "time"

// Slot is a bookable window on one calendar day.
type Slot struct {
	ID        string    `json:"id"`
	DateKey   string    `json:"dateKey"`
	StartMin  int       `json:"startMin"`
	EndMin    int       `json:"endMin"`
	Capacity  int       `json:"capacity"`
	Cancelled bool      `json:"cancelled"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SlotPatch enumerates the mutable slot fields. Nil means "leave as is".
type SlotPatch struct {
	Capacity  *int    `json:"capacity,omitempty"`
	Cancelled *bool   `json:"cancelled,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	StartMin  *int    `json:"startMin,omitempty"`
	EndMin    *int    `json:"endMin,omitempty"`
}

func (p SlotPatch) IsEmpty() bool {
	return p.Capacity == nil && p.Cancelled == nil && p.Notes == nil && p.StartMin == nil && p.EndMin == nil
}

// Apply returns a copy of s with the patch fields merged in.
func (p SlotPatch) Apply(s Slot) Slot {
	if p.Capacity != nil {
		s.Capacity = *p.Capacity
	}
	if p.Cancelled != nil {
		s.Cancelled = *p.Cancelled
	}
	if p.Notes != nil {
		s.Notes = *p.Notes
	}
	if p.StartMin != nil {
		s.StartMin = *p.StartMin
	}
	if p.EndMin != nil {
		s.EndMin = *p.EndMin
	}
	return s
}

// SlotAvailability is a slot with its capacity materialized from bookings.
type SlotAvailability struct {
	Slot
	BookedCount int        `json:"bookedCount"`
	Available   int        `json:"available"`
	Bookings    []*Booking `json:"bookings,omitempty"`
}

// TimeRange is a [StartMin, EndMin) window in minutes since midnight.
type TimeRange struct {
	StartMin int `json:"startMin" yaml:"start_min"`
	EndMin   int `json:"endMin" yaml:"end_min"`
}

// WeeklyPattern maps a weekday to the windows open for lessons on that day.
type WeeklyPattern map[time.Weekday][]TimeRange
