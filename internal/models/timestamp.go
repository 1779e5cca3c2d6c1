package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Clients send timestamps in several shapes: zone-aware RFC3339 strings and
// naive "2006-01-02T15:04:05" strings (fractional seconds optional). Naive
// inputs are read as UTC so every comparison happens on one clock.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a client-supplied timestamp string and normalizes
// it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format %q", s)
}

// Timestamp is a time.Time that unmarshals leniently (naive or zone-aware
// input) and always marshals as RFC3339 UTC. The zero value marshals as null
// and means "no timestamp".
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == nil || *s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(*s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// NewerThan reports whether an incoming record timestamp wins a last-write
// comparison against the stored one. Strict inequality: ties keep the stored
// version and an incoming record without a timestamp never wins. A stored
// record without one loses to any timestamped write, otherwise it could never
// be updated again.
func NewerThan(incoming, stored time.Time) bool {
	if incoming.IsZero() {
		return false
	}
	if stored.IsZero() {
		return true
	}
	return incoming.UTC().After(stored.UTC())
}
