package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WeekdaySet is a small bitmask set of weekdays. Bit i corresponds to
// time.Weekday(i), Sunday = 0. It serializes to a JSON array of lowercase
// weekday names at the storage boundary only.
type WeekdaySet uint8

// AllWeekdays contains every day of the week.
const AllWeekdays WeekdaySet = 0x7f

var weekdayNames = [...]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// ParseWeekdaySet builds a set from lowercase weekday names.
func ParseWeekdaySet(names []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		found := false
		for d, known := range weekdayNames {
			if name == known {
				s = s.With(time.Weekday(d))
				found = true
				break
			}
		}
		if !found {
			return 0, &ValidationError{Field: "days_of_week", Reason: fmt.Sprintf("unknown weekday %q", name)}
		}
	}
	return s, nil
}

func (s WeekdaySet) With(d time.Weekday) WeekdaySet { return s | 1<<uint(d) }

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) IsEmpty() bool { return s == 0 }

// Weekdays lists the set in Sunday-first order.
func (s WeekdaySet) Weekdays() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

func (s WeekdaySet) String() string {
	names := make([]string, 0, 7)
	for _, d := range s.Weekdays() {
		names = append(names, weekdayNames[d])
	}
	return strings.Join(names, ",")
}

// Value implements driver.Valuer: a JSON array of names, NULL when empty.
func (s WeekdaySet) Value() (driver.Value, error) {
	if s.IsEmpty() {
		return nil, nil
	}
	names := make([]string, 0, 7)
	for _, d := range s.Weekdays() {
		names = append(names, weekdayNames[d])
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("marshal weekday set: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner for the JSON shape written by Value.
func (s *WeekdaySet) Scan(src interface{}) error {
	if src == nil {
		*s = 0
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan weekday set: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*s = 0
		return nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return fmt.Errorf("scan weekday set: %w", err)
	}
	parsed, err := ParseWeekdaySet(names)
	if err != nil {
		return fmt.Errorf("scan weekday set: %w", err)
	}
	*s = parsed
	return nil
}
