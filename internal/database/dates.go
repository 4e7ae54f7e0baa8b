package database

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().Format(dateLayout)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// AddMonths adds months to a YYYY-MM-DD date, clamping to the last day of
// the target month (31 Jan + 1 month = 28/29 Feb).
func AddMonths(date string, months int) (string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := d.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC).Format(dateLayout), nil
}

// FormatDateDisplay renders a YYYY-MM-DD date as "1st January 2026".
// Unparseable input is returned unchanged and nil renders as "".
func FormatDateDisplay(date *string) string {
	if date == nil || *date == "" {
		return ""
	}
	d, err := ParseDate(*date)
	if err != nil {
		return *date
	}
	return fmt.Sprintf("%d%s %s", d.Day(), ordinalSuffix(d.Day()), d.Format("January 2006"))
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
