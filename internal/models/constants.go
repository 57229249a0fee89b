package models

import "time"

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

const (
	// DurationShort is a single-slot lesson.
	DurationShort = 25
	// DurationLong spans the slot and the next one on the grid.
	DurationLong = 50
)

const (
	RoleMember  = "member"
	RoleSupport = "support"
	RoleAdmin   = "admin"
)

const (
	MeetingProviderKaja       = "kaja"
	MeetingProviderGoogleMeet = "google_meet"
)

const (
	ReminderKind1h  = "1h"
	ReminderKind30m = "30m"
)

const (
	DateKeyLayout = "2006-01-02"
	MinutesPerDay = 24 * 60

	// GridStepMin is the distance between consecutive slot starts.
	GridStepMin = 30
	// LessonMin is the length of a generated slot.
	LessonMin = 25

	// DefaultListLimit caps unfiltered booking listings.
	DefaultListLimit = 2000

	// BookingCodePrefix prefixes human-shareable booking codes.
	BookingCodePrefix = "kaja"
	BookingCodeLength = 5
	// BookingCodeAttempts bounds regeneration on code collisions.
	BookingCodeAttempts = 5

	DefaultTimezone = "Asia/Seoul"

	// TypingTTL is how long a typing flag stays up without a refresh.
	TypingTTL = 4500 * time.Millisecond

	DefaultReminderInterval = 5 * time.Minute
)
