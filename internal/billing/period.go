package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Period identifies a single calendar month of service.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf truncates an instant to the first day of its month.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// AddMonths returns the period n calendar months away. n may be negative.
func (p Period) AddMonths(n int) Period {
	months := p.Year*12 + int(p.Month) - 1 + n
	year := months / 12
	rem := months % 12
	if rem < 0 {
		rem += 12
		year--
	}
	return Period{Year: year, Month: time.Month(rem + 1)}
}

// MonthsBetween counts the calendar months from a to b. Negative when b
// precedes a.
func MonthsBetween(a, b Period) int {
	return (b.Year-a.Year)*12 + int(b.Month) - int(a.Month)
}

// Compare orders periods chronologically: -1, 0 or +1.
func (p Period) Compare(other Period) int {
	switch {
	case p.Year != other.Year:
		if p.Year < other.Year {
			return -1
		}
		return 1
	case p.Month != other.Month:
		if p.Month < other.Month {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Before reports whether p precedes other.
func (p Period) Before(other Period) bool {
	return p.Compare(other) < 0
}

// Time returns the first instant of the period in the given location.
func (p Period) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
}

// Key renders a sortable "YYYY-MM" key used in storage and cache lookups.
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MarshalJSON renders the period as its "YYYY-MM" key.
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Key())
}

// UnmarshalJSON parses the "YYYY-MM" key form.
func (p *Period) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}
	parsed, err := ParsePeriodKey(key)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePeriodKey parses a "YYYY-MM" key back into a Period.
func ParsePeriodKey(key string) (Period, error) {
	var year, month int
	if _, err := fmt.Sscanf(key, "%4d-%2d", &year, &month); err != nil {
		return Period{}, fmt.Errorf("billing: parse period %q: %w", key, err)
	}
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("billing: parse period %q: month out of range", key)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

var monthNames = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// Label renders a human readable month name such as "January 2024". Month
// numbers outside 1..12 fall back to the numeric form; stored periods are
// validated so this should never trigger.
func (p Period) Label() string {
	if p.Month < time.January || p.Month > time.December {
		return strconv.Itoa(int(p.Month)) + " " + strconv.Itoa(p.Year)
	}
	return monthNames[p.Month-1] + " " + strconv.Itoa(p.Year)
}

// MonthRange builds the inclusive ascending list of periods from the month of
// start to the month of end. A start after end degrades to the single start
// period rather than failing.
func MonthRange(start, end time.Time) []Period {
	from := PeriodOf(start)
	to := PeriodOf(end)
	if to.Before(from) {
		return []Period{from}
	}
	periods := make([]Period, 0, MonthsBetween(from, to)+1)
	for cur := from; !to.Before(cur); cur = cur.AddMonths(1) {
		periods = append(periods, cur)
	}
	return periods
}

// TrailingMonths returns the count periods ending at the month of end,
// ascending oldest first. count is clamped to at least one.
func TrailingMonths(end time.Time, count int) []Period {
	if count < 1 {
		count = 1
	}
	last := PeriodOf(end)
	periods := make([]Period, 0, count)
	for cur := last.AddMonths(-(count - 1)); !last.Before(cur); cur = cur.AddMonths(1) {
		periods = append(periods, cur)
	}
	return periods
}
