package feed

import (
	"strings"
	"testing"
	"time"
)

const sampleFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Channel//Calendar 1.0//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-block-x\r\n" +
	"DTSTAMP:20260201T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20260301\r\n" +
	"DTEND;VALUE=DATE:20260303\r\n" +
	"SUMMARY:Not available\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-res-y\r\n" +
	"DTSTAMP:20260201T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20260310\r\n" +
	"DTEND;VALUE=DATE:20260313\r\n" +
	"SUMMARY:Maria Oliveira (HMABC123)\r\n" +
	"DESCRIPTION:Reservation via channel\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-res-z\r\n" +
	"DTSTAMP:20260201T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20260320\r\n" +
	"DTEND;VALUE=DATE:20260322\r\n" +
	"SUMMARY:Reserved\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseClassifiesEvents(t *testing.T) {
	events, err := Parse([]byte(sampleFeed))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	block := events[0]
	if block.UID != "evt-block-x" || !block.Block {
		t.Fatalf("expected block event, got %+v", block)
	}
	if !block.Start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected block start %v", block.Start)
	}
	if !block.End.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected block end %v", block.End)
	}

	reservation := events[1]
	if reservation.Block {
		t.Fatalf("expected reservation, got block: %+v", reservation)
	}
	if reservation.GuestName != "Maria Oliveira (HMABC123)" {
		t.Fatalf("summary should become guest name, got %q", reservation.GuestName)
	}

	boilerplate := events[2]
	if boilerplate.Block {
		t.Fatalf("'Reserved' is a reservation, not a block")
	}
	if boilerplate.GuestName != GenericGuestName {
		t.Fatalf("boilerplate summary must fall back to placeholder, got %q", boilerplate.GuestName)
	}
}

func TestParseUnfoldsContinuationLines(t *testing.T) {
	folded := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//Channel//Calendar 1.0//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:evt-folded\r\n" +
		"DTSTAMP:20260201T000000Z\r\n" +
		"DTSTART;VALUE=DATE:20260401\r\n" +
		"DTEND;VALUE=DATE:20260402\r\n" +
		"SUMMARY:A very long guest na\r\n" +
		" me that was folded\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	events, err := Parse([]byte(folded))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !strings.Contains(events[0].Summary, "long guest name that was folded") {
		t.Fatalf("continuation line not unfolded: %q", events[0].Summary)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestIsBlockSummary(t *testing.T) {
	cases := map[string]bool{
		"":                       true,
		"Blocked":                true,
		"NOT AVAILABLE":          true,
		"Airbnb (Not available)": true,
		"Maria Oliveira":         false,
		"Reserved":               false,
	}
	for summary, want := range cases {
		if got := IsBlockSummary(summary); got != want {
			t.Fatalf("IsBlockSummary(%q) = %v, want %v", summary, got, want)
		}
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("https://calendar.example.com/ical/12345.ics?s=secrettoken")
	if strings.Contains(got, "secrettoken") {
		t.Fatalf("token leaked: %q", got)
	}
	if !strings.HasPrefix(got, "https://calendar.example.com") {
		t.Fatalf("host should remain visible: %q", got)
	}
}
