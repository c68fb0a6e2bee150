// Package calendar derives minute-granularity rollover events from wall-clock time.
package calendar

import "time"

/*
 * Calendar rollover generation.
 *
 * Generate maps an instant to (ChangeSet, Reference). The reference holds
 * every calendar field computed fresh; the change set holds only the fields
 * that rolled over at this minute, built hierarchically so that a coarse
 * field appears only when every finer field reset to its minimum:
 *
 *   minute                     always
 *   hour                       minute == 0
 *   day, dayOfWeek             ... and hour == 0
 *   week                       ... and dayOfWeek == 0
 *   month                      ... and day == 1
 *   quarter                    ... and month starts a quarter
 *   year                       ... and month == 0
 *
 * All fields are computed in the instant's own location.
 */

// Field names a calendar component. Values double as change keys in the
// synthetic time event delivered to rules.
type Field string

const (
	FieldMinute            Field = "minute"
	FieldHour              Field = "hour"
	FieldDay               Field = "day"
	FieldDayOfWeek         Field = "dayOfWeek"
	FieldWeek              Field = "week"
	FieldWeekdayOccurrence Field = "weekdayOccurrence"
	FieldMonth             Field = "month"
	FieldQuarter           Field = "quarter"
	FieldYear              Field = "year"
)

// Reference is a full calendar snapshot for one instant.
type Reference struct {
	Minute    int `json:"minute"`
	Hour      int `json:"hour"`
	Day       int `json:"day"`       // 1-based day of month
	DayOfWeek int `json:"dayOfWeek"` // Monday = 0
	Week      int `json:"week"`      // ISO-8601 week number
	// WeekdayOccurrence counts this weekday within the month so far, 1-based:
	// the 2nd Thursday of March has WeekdayOccurrence 2.
	WeekdayOccurrence int `json:"weekdayOccurrence"`
	Month             int `json:"month"` // 0-based
	Quarter           int `json:"quarter"`
	Year              int `json:"year"`
}

// Get returns the value of a field, or false for an unknown field.
func (r Reference) Get(f Field) (int, bool) {
	switch f {
	case FieldMinute:
		return r.Minute, true
	case FieldHour:
		return r.Hour, true
	case FieldDay:
		return r.Day, true
	case FieldDayOfWeek:
		return r.DayOfWeek, true
	case FieldWeek:
		return r.Week, true
	case FieldWeekdayOccurrence:
		return r.WeekdayOccurrence, true
	case FieldMonth:
		return r.Month, true
	case FieldQuarter:
		return r.Quarter, true
	case FieldYear:
		return r.Year, true
	}
	return 0, false
}

// ChangeSet holds the fields that rolled over at an instant.
type ChangeSet map[Field]int

// Has reports whether the field rolled over.
func (c ChangeSet) Has(f Field) bool {
	_, ok := c[f]
	return ok
}

// Generate computes the rollover change set and full reference for t.
func Generate(t time.Time) (ChangeSet, Reference) {
	ref := NewReference(t)

	changes := ChangeSet{FieldMinute: ref.Minute}
	if ref.Minute != 0 {
		return changes, ref
	}

	changes[FieldHour] = ref.Hour
	if ref.Hour != 0 {
		return changes, ref
	}

	changes[FieldDay] = ref.Day
	changes[FieldDayOfWeek] = ref.DayOfWeek
	if ref.DayOfWeek == 0 {
		changes[FieldWeek] = ref.Week
	}

	if ref.Day == 1 {
		changes[FieldMonth] = ref.Month
		if ref.Month%3 == 0 {
			changes[FieldQuarter] = ref.Quarter
		}
		if ref.Month == 0 {
			changes[FieldYear] = ref.Year
		}
	}

	return changes, ref
}

// NewReference computes every calendar field for t.
func NewReference(t time.Time) Reference {
	month := int(t.Month()) - 1
	_, week := t.ISOWeek()
	return Reference{
		Minute:            t.Minute(),
		Hour:              t.Hour(),
		Day:               t.Day(),
		DayOfWeek:         mondayIndex(t.Weekday()),
		Week:              week,
		WeekdayOccurrence: (t.Day()-1)/7 + 1,
		Month:             month,
		Quarter:           month/3 + 1,
		Year:              t.Year(),
	}
}

// mondayIndex shifts Go's Sunday-anchored weekday to Monday = 0.
func mondayIndex(d time.Weekday) int {
	return (7 + int(d) - 1) % 7
}
