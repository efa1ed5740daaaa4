package feed

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"sewainaja/backend/internal/domain"
)

var ErrParse = errors.New("feed parse failed")

// GenericGuestName is used when a reservation event carries no usable
// guest identity in its summary.
const GenericGuestName = "External guest"

// blockSummaries are summaries that mark an event as a plain calendar
// block rather than a reservation.
var blockSummaries = map[string]bool{
	"":                       true,
	"blocked":                true,
	"not available":          true,
	"unavailable":            true,
	"airbnb (not available)": true,
}

// reservationBoilerplate are summaries that indicate a reservation but
// carry no guest identity.
var reservationBoilerplate = map[string]bool{
	"reserved":    true,
	"reservation": true,
	"booked":      true,
}

// Parse turns a raw ICS payload into normalized feed events. One event
// is produced per VEVENT; malformed VEVENTs are skipped. Event end dates
// are exclusive, as in the ICS all-day convention.
func Parse(body []byte) ([]domain.FeedEvent, error) {
	if len(body) == 0 {
		return nil, ErrParse
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Join(ErrParse, err)
	}

	events := make([]domain.FeedEvent, 0)
	for _, ve := range cal.Events() {
		event, ok := parseVEvent(ve)
		if !ok {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (domain.FeedEvent, bool) {
	var out domain.FeedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, false
	}
	out.UID = uidProp.Value

	start, err := eventDate(ve, ical.ComponentPropertyDtStart, func() (time.Time, error) { return ve.GetStartAt() })
	if err != nil {
		return out, false
	}
	end, err := eventDate(ve, ical.ComponentPropertyDtEnd, func() (time.Time, error) { return ve.GetEndAt() })
	if err != nil {
		return out, false
	}
	out.Start = domain.DateUTC(start)
	out.End = domain.DateUTC(end)
	if !out.Start.Before(out.End) {
		// Zero-length or inverted events carry no nights.
		return out, false
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	out.Block = IsBlockSummary(out.Summary)
	if !out.Block {
		out.GuestName = GuestNameFromSummary(out.Summary)
	}

	return out, true
}

// eventDate resolves a VEVENT date property, preferring the library's
// timezone-aware helper and falling back to raw value parsing for
// date-only forms the helper rejects.
func eventDate(ve *ical.VEvent, prop ical.ComponentProperty, helper func() (time.Time, error)) (time.Time, error) {
	if t, err := helper(); err == nil && !t.IsZero() {
		return t, nil
	}
	p := ve.GetProperty(prop)
	if p == nil {
		return time.Time{}, errors.New("missing date property")
	}
	return parseICSDate(p.Value)
}

// parseICSDate parses basic ICS date and date-time forms. Values shorter
// than a full date are rejected rather than guessed at.
func parseICSDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return time.Time{}, errors.New("date value too short")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.Parse("20060102T150405", v)
	}
	return time.Parse("20060102", v[:8])
}

// IsBlockSummary classifies an event summary as a block (no underlying
// guest reservation).
func IsBlockSummary(summary string) bool {
	normalized := strings.ToLower(strings.TrimSpace(summary))
	if blockSummaries[normalized] {
		return true
	}
	return strings.Contains(normalized, "not available")
}

// GuestNameFromSummary extracts a display name for a reservation event.
// Boilerplate summaries fall back to a generic placeholder; anything
// else is taken as the guest name. This is a heuristic: feeds differ in
// whether the summary carries a name at all.
func GuestNameFromSummary(summary string) string {
	trimmed := strings.TrimSpace(summary)
	if trimmed == "" {
		return GenericGuestName
	}
	if reservationBoilerplate[strings.ToLower(trimmed)] {
		return GenericGuestName
	}
	return trimmed
}
