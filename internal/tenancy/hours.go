package tenancy

import (
	"fmt"
	"time"
)

// DayHours is the same-day open window for one weekday, "HH:MM" in 24-hour
// format. Close must be later than Open; windows that cross midnight are not
// supported and never match.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// BusinessHours maps weekdays to their hours. A nil day is closed.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// ForDay returns the hours for a given weekday.
func (b *BusinessHours) ForDay(weekday time.Weekday) *DayHours {
	if b == nil {
		return nil
	}
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

// HasAnyHours returns true if at least one day has business hours configured.
func (b *BusinessHours) HasAnyHours() bool {
	if b == nil {
		return false
	}
	return b.Sunday != nil || b.Monday != nil || b.Tuesday != nil ||
		b.Wednesday != nil || b.Thursday != nil || b.Friday != nil || b.Saturday != nil
}

// Validate rejects unparseable clocks and windows that span midnight.
func (b *BusinessHours) Validate() error {
	if b == nil {
		return nil
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		hours := b.ForDay(day)
		if hours == nil {
			continue
		}
		open, close, err := hours.minutes()
		if err != nil {
			return fmt.Errorf("tenancy: %s hours: %w", day, err)
		}
		if close <= open {
			return fmt.Errorf("tenancy: %s hours %s-%s span midnight or are empty", day, hours.Open, hours.Close)
		}
	}
	return nil
}

func (d *DayHours) minutes() (int, int, error) {
	open, err := parseClock(d.Open)
	if err != nil {
		return 0, 0, err
	}
	close, err := parseClock(d.Close)
	if err != nil {
		return 0, 0, err
	}
	return open, close, nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", value, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// Location returns the tenant's time zone, falling back to UTC.
func (t Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsOpenAt checks if the tenant is within business hours at the given time.
// With no hours configured the tenant is always open. A day without hours,
// an unparseable window, or a window that spans midnight counts as closed.
func (t Tenant) IsOpenAt(at time.Time) bool {
	if !t.BusinessHours.HasAnyHours() {
		return true
	}
	local := at.In(t.Location())
	hours := t.BusinessHours.ForDay(local.Weekday())
	if hours == nil {
		return false
	}
	open, close, err := hours.minutes()
	if err != nil || close <= open {
		return false
	}
	current := local.Hour()*60 + local.Minute()
	return current >= open && current < close
}
