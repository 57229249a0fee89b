// Package capacity derives slot availability from the authoritative booking set.
// Nothing here performs I/O or mutates its inputs.
package capacity

import "kajabook/internal/models"

// BookedCount counts confirmed bookings that reference slotID through either slot field.
func BookedCount(slotID string, bookings []*models.Booking) int {
	n := 0
	for _, b := range bookings {
		if b != nil && b.IsConfirmed() && b.References(slotID) {
			n++
		}
	}
	return n
}

// Available is capacity minus booked count, floored at zero.
func Available(slot *models.Slot, bookings []*models.Booking) int {
	if slot == nil {
		return 0
	}
	return max(0, slot.Capacity-BookedCount(slot.ID, bookings))
}

// GroupBySlot buckets bookings by every slot they reference.
// A two-slot booking lands in both buckets but never twice in one.
func GroupBySlot(bookings []*models.Booking) map[string][]*models.Booking {
	groups := make(map[string][]*models.Booking)
	for _, b := range bookings {
		if b == nil {
			continue
		}
		for _, id := range b.SlotIDs() {
			groups[id] = append(groups[id], b)
		}
	}
	return groups
}

// Reconcile materializes availability for each slot, preserving slot order.
// When withBookings is set the per-slot booking list is attached.
func Reconcile(slots []*models.Slot, bookings []*models.Booking, withBookings bool) []models.SlotAvailability {
	groups := GroupBySlot(bookings)
	out := make([]models.SlotAvailability, 0, len(slots))
	for _, s := range slots {
		if s == nil {
			continue
		}
		group := groups[s.ID]
		booked := BookedCount(s.ID, group)
		view := models.SlotAvailability{
			Slot:        *s,
			BookedCount: booked,
			Available:   max(0, s.Capacity-booked),
		}
		if withBookings {
			view.Bookings = append([]*models.Booking{}, group...)
		}
		out = append(out, view)
	}
	return out
}
