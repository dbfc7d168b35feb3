// Package visibility decides what a viewer may see of another user's events
// and todos. It never touches storage; callers pass the owner's partner id.
package visibility

import (
	"github.com/charlesng35/duocal/internal/models"
)

// BusyTitle replaces the title of BUSY_ONLY events shown to the partner.
const BusyTitle = "Busy"

// Decision is the outcome of resolving a record for a viewer.
type Decision int

const (
	Denied Decision = iota
	Redacted
	Full
)

func (d Decision) String() string {
	switch d {
	case Full:
		return "full"
	case Redacted:
		return "redacted"
	default:
		return "denied"
	}
}

// isPartner reports whether viewerID is the declared partner of the owner.
func isPartner(viewerID string, ownerPartnerID *string) bool {
	return viewerID != "" && ownerPartnerID != nil && *ownerPartnerID == viewerID
}

// EventDecision classifies an event for viewerID without copying it.
func EventDecision(ev *models.Event, viewerID string, ownerPartnerID *string) Decision {
	if ev == nil {
		return Denied
	}
	if ev.OwnerID == viewerID {
		return Full
	}
	if !isPartner(viewerID, ownerPartnerID) {
		return Denied
	}
	switch ev.Visibility {
	case models.VisibilityShared:
		return Full
	case models.VisibilityBusyOnly:
		return Redacted
	default:
		return Denied
	}
}

// Event resolves ev for viewerID. The returned event is a copy; redaction
// never mutates the stored record. ok is false when the viewer is denied.
func Event(ev models.Event, viewerID string, ownerPartnerID *string) (models.Event, bool) {
	switch EventDecision(&ev, viewerID, ownerPartnerID) {
	case Full:
		return ev, true
	case Redacted:
		return redactEvent(ev), true
	default:
		return models.Event{}, false
	}
}

func redactEvent(ev models.Event) models.Event {
	ev.Title = BusyTitle
	ev.Description = nil
	ev.Location = nil
	ev.Reminders = nil
	ev.ConvertedFromTodoID = nil
	return ev
}

// Events resolves a list, dropping denied records and keeping order.
func Events(events []models.Event, viewerID string, ownerPartnerID func(ownerID string) *string) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if resolved, ok := Event(ev, viewerID, ownerPartnerID(ev.OwnerID)); ok {
			out = append(out, resolved)
		}
	}
	return out
}

// TodoDecision classifies a todo for viewerID. Todos have no redacted form.
func TodoDecision(t *models.Todo, viewerID string, ownerPartnerID *string) Decision {
	if t == nil {
		return Denied
	}
	if t.OwnerID == viewerID {
		return Full
	}
	if !isPartner(viewerID, ownerPartnerID) {
		return Denied
	}
	if t.IsShared || t.AssignedTo(viewerID) {
		return Full
	}
	return Denied
}

// Todo resolves t for viewerID, returning a copy.
func Todo(t models.Todo, viewerID string, ownerPartnerID *string) (models.Todo, bool) {
	if TodoDecision(&t, viewerID, ownerPartnerID) == Denied {
		return models.Todo{}, false
	}
	return t, true
}

// Todos resolves a list, dropping denied records and keeping order.
func Todos(todos []models.Todo, viewerID string, ownerPartnerID func(ownerID string) *string) []models.Todo {
	out := make([]models.Todo, 0, len(todos))
	for _, t := range todos {
		if resolved, ok := Todo(t, viewerID, ownerPartnerID(t.OwnerID)); ok {
			out = append(out, resolved)
		}
	}
	return out
}

// PartnerLookup builds the ownerPartnerID callback from loaded owner rows.
// Each owner reports its own stored partner_id; unknown owners report none.
func PartnerLookup(owners ...*models.User) func(ownerID string) *string {
	return func(ownerID string) *string {
		for _, owner := range owners {
			if owner != nil && owner.ID == ownerID {
				return owner.PartnerID
			}
		}
		return nil
	}
}
