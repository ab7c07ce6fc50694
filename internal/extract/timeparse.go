package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The page formats times for eyeballs, not machines: "22:38" for today,
// "26 dez." for this year, "26/12/2025 22:38" inside old chats. Each
// pattern is tried in fixed priority order; no match means the value is
// unavailable, never a guess.

var ptMonths = map[string]time.Month{
	"jan": time.January, "fev": time.February, "mar": time.March,
	"abr": time.April, "mai": time.May, "jun": time.June,
	"jul": time.July, "ago": time.August, "set": time.September,
	"out": time.October, "nov": time.November, "dez": time.December,
}

var (
	clockRe    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	dayMonthRe = regexp.MustCompile(`^(\d{1,2})\s+([a-zç]{3,4})\.?$`)
	numericRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{4}))?(?:[,\s]+(\d{1,2}):(\d{2}))?$`)
)

// ParseLocalTime resolves a locale-formatted short time string against the
// reference instant. Returns ok=false for anything unrecognized.
func ParseLocalTime(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return time.Time{}, false
	}

	if m := clockRe.FindStringSubmatch(raw); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return time.Time{}, false
		}
		return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()), true
	}

	if m := dayMonthRe.FindStringSubmatch(raw); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, ok := ptMonths[strings.TrimSuffix(m[2], ".")]
		if !ok || day < 1 || day > 31 {
			return time.Time{}, false
		}
		return time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location()), true
	}

	if m := numericRe.FindStringSubmatch(raw); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if day < 1 || day > 31 || month < 1 || month > 12 {
			return time.Time{}, false
		}
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		hour, minute := 0, 0
		if m[4] != "" {
			hour, _ = strconv.Atoi(m[4])
			minute, _ = strconv.Atoi(m[5])
			if hour > 23 || minute > 59 {
				return time.Time{}, false
			}
		}
		return time.Date(year, time.Month(month), day, hour, minute, 0, 0, now.Location()), true
	}

	return time.Time{}, false
}
