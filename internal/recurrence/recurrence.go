// Package recurrence expands recurring events into concrete occurrences.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/charlesng35/duocal/internal/models"
)

// DefaultMaxOccurrences caps the occurrences produced for one event in one window.
const DefaultMaxOccurrences = 500

// ErrInvalidWindow is returned when the window end precedes its start.
var ErrInvalidWindow = errors.New("recurrence: window end is before start")

// Occurrence is one instance of an event inside a window.
type Occurrence struct {
	Event     models.Event
	Start     time.Time
	End       time.Time
	Recurring bool
}

// Validate parses rule and reports a descriptive error when it is unusable.
func Validate(rule string) error {
	_, err := parse(rule)
	return err
}

func parse(rule string) (*rrule.ROption, error) {
	rule = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if rule == "" {
		return nil, errors.New("recurrence: empty rule")
	}
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, fmt.Errorf("recurrence: parse %q: %w", rule, err)
	}
	return opt, nil
}

// Expand returns the occurrences of ev that intersect [from, to]. Non
// recurring events yield at most one occurrence. The bool result reports
// whether the cap truncated the expansion.
func Expand(ev models.Event, from, to time.Time, max int) ([]Occurrence, bool, error) {
	if to.Before(from) {
		return nil, false, ErrInvalidWindow
	}
	if max <= 0 {
		max = DefaultMaxOccurrences
	}

	if !ev.IsRecurring || ev.RecurrenceRule == nil || strings.TrimSpace(*ev.RecurrenceRule) == "" {
		if !ev.Overlaps(from, to) {
			return nil, false, nil
		}
		return []Occurrence{{Event: ev, Start: ev.StartDate, End: ev.EndDate}}, false, nil
	}

	opt, err := parse(*ev.RecurrenceRule)
	if err != nil {
		return nil, false, err
	}
	opt.Dtstart = ev.StartDate
	if ev.RecurrenceEnd != nil && (opt.Until.IsZero() || ev.RecurrenceEnd.Before(opt.Until)) {
		opt.Until = *ev.RecurrenceEnd
	}

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, fmt.Errorf("recurrence: build rule: %w", err)
	}

	var set rrule.Set
	set.RRule(r)

	// An occurrence starting before the window can still overlap it.
	duration := ev.Duration()
	starts := set.Between(from.Add(-duration), to, true)

	truncated := false
	if len(starts) > max {
		starts = starts[:max]
		truncated = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, start := range starts {
		end := start.Add(duration)
		if end.Before(from) {
			continue
		}
		out = append(out, Occurrence{Event: ev, Start: start, End: end, Recurring: true})
	}
	return out, truncated, nil
}
