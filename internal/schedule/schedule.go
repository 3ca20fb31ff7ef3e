// Package schedule formats campaign send times for the workflow runner. The
// runner expects wall-clock timestamps carrying the Paris UTC offset that is
// in effect at the scheduled instant.
package schedule

import (
	"fmt"
	"time"
)

const zoneName = "Europe/Paris"

// paris is resolved once at startup. Systems without tzdata fall back to a
// fixed +01:00, which is wrong half the year but keeps scheduling usable.
var paris = loadParis()

func loadParis() *time.Location {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}

// Format renders t as an RFC 3339 timestamp in the Paris zone, so the offset
// flips with daylight saving at the scheduled instant rather than at compose
// time.
func Format(t time.Time) string {
	return t.In(paris).Format(time.RFC3339)
}

// Parse reads an RFC 3339 timestamp as produced by Format or entered by an
// operator.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", s, err)
	}
	return t, nil
}
