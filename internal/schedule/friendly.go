package schedule

import (
	"strconv"
	"strings"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
)

// Frequency is the shape of a friendly schedule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// MaxMonthDay is the last day-of-month a monthly schedule may use. Days 29 to
// 31 do not exist in every month and are rejected rather than clamped.
const MaxMonthDay = 28

// Friendly is the UI representation of a supported cron shape.
type Friendly struct {
	Frequency  Frequency `json:"frequency"`
	Hour       int       `json:"hour"`
	Minute     int       `json:"minute"`
	Weekday    int       `json:"weekday,omitempty"`      // 0 = Sunday, weekly only
	DayOfMonth int       `json:"day_of_month,omitempty"` // 1..28, monthly only
}

// ToCron renders f as a 5-field pattern. It is the inverse of FromCron.
func ToCron(f Friendly) (string, error) {
	if f.Hour < 0 || f.Hour > 23 {
		return "", backuperr.Configuration("schedule.to_cron", "hour %d out of range 0-23", f.Hour)
	}
	if f.Minute < 0 || f.Minute > 59 {
		return "", backuperr.Configuration("schedule.to_cron", "minute %d out of range 0-59", f.Minute)
	}

	prefix := strconv.Itoa(f.Minute) + " " + strconv.Itoa(f.Hour) + " "

	switch f.Frequency {
	case Daily:
		if f.Weekday != 0 || f.DayOfMonth != 0 {
			return "", backuperr.Configuration("schedule.to_cron", "daily schedule takes no weekday or day of month")
		}
		return prefix + "* * *", nil
	case Weekly:
		if f.Weekday < 0 || f.Weekday > 6 {
			return "", backuperr.Configuration("schedule.to_cron", "weekday %d out of range 0-6", f.Weekday)
		}
		if f.DayOfMonth != 0 {
			return "", backuperr.Configuration("schedule.to_cron", "weekly schedule takes no day of month")
		}
		return prefix + "* * " + strconv.Itoa(f.Weekday), nil
	case Monthly:
		if f.DayOfMonth < 1 || f.DayOfMonth > MaxMonthDay {
			return "", backuperr.Configuration("schedule.to_cron", "day of month %d out of range 1-%d", f.DayOfMonth, MaxMonthDay)
		}
		if f.Weekday != 0 {
			return "", backuperr.Configuration("schedule.to_cron", "monthly schedule takes no weekday")
		}
		return prefix + strconv.Itoa(f.DayOfMonth) + " * *", nil
	default:
		return "", backuperr.Configuration("schedule.to_cron", "unsupported frequency %q", f.Frequency)
	}
}

// FromCron recognizes the three friendly shapes. Any other pattern, even a
// valid cron pattern, is rejected so ToCron(FromCron(p)) == p always holds.
func FromCron(pattern string) (Friendly, error) {
	fields := strings.Fields(pattern)
	if len(fields) != 5 || strings.Join(fields, " ") != pattern {
		return Friendly{}, backuperr.Configuration("schedule.from_cron", "pattern %q is not a friendly schedule", pattern)
	}

	minute, ok := literal(fields[0], 0, 59)
	if !ok {
		return Friendly{}, backuperr.Configuration("schedule.from_cron", "minute %q must be a literal 0-59", fields[0])
	}
	hour, ok := literal(fields[1], 0, 23)
	if !ok {
		return Friendly{}, backuperr.Configuration("schedule.from_cron", "hour %q must be a literal 0-23", fields[1])
	}

	f := Friendly{Hour: hour, Minute: minute}
	dom, month, dow := fields[2], fields[3], fields[4]

	if month != "*" {
		return Friendly{}, backuperr.Configuration("schedule.from_cron", "pattern %q restricts the month", pattern)
	}

	switch {
	case dom == "*" && dow == "*":
		f.Frequency = Daily
	case dom == "*":
		day, ok := literal(dow, 0, 6)
		if !ok {
			return Friendly{}, backuperr.Configuration("schedule.from_cron", "weekday %q must be a literal 0-6", dow)
		}
		f.Frequency = Weekly
		f.Weekday = day
	case dow == "*":
		day, ok := literal(dom, 1, MaxMonthDay)
		if !ok {
			return Friendly{}, backuperr.Configuration("schedule.from_cron", "day of month %q must be a literal 1-%d", dom, MaxMonthDay)
		}
		f.Frequency = Monthly
		f.DayOfMonth = day
	default:
		return Friendly{}, backuperr.Configuration("schedule.from_cron", "pattern %q restricts both day of month and weekday", pattern)
	}

	return f, nil
}

func literal(field string, min, max int) (int, bool) {
	n, err := strconv.Atoi(field)
	if err != nil || strconv.Itoa(n) != field {
		return 0, false
	}
	return n, n >= min && n <= max
}
