package extract

import "strings"

// DefaultCountryCode is the dial prefix assumed for national numbers.
const DefaultCountryCode = "351"

// MinPhoneDigits is the minimum digit count for a string to qualify as a
// phone number. Shorter strings are treated as not found.
const MinPhoneDigits = 9

// CleanPhone reduces a raw phone string to its storage form: separators
// stripped, the national significant number only. Returns ok=false when the
// string does not qualify as a phone number.
func CleanPhone(raw string) (string, bool) {
	digits := onlyDigits(raw)
	if len(digits) < MinPhoneDigits {
		return "", false
	}
	// tel: links carry the number as +351..., 00351... or bare national.
	if strings.HasPrefix(digits, "00"+DefaultCountryCode) && len(digits) > len(DefaultCountryCode)+2+3 {
		digits = digits[len(DefaultCountryCode)+2:]
	} else if strings.HasPrefix(digits, DefaultCountryCode) && len(digits) == len(DefaultCountryCode)+9 {
		digits = digits[len(DefaultCountryCode):]
	}
	if len(digits) < MinPhoneDigits {
		return "", false
	}
	return digits, true
}

// DisplayPhone renders a storage-form number for presentation: country
// prefix plus groups of three.
func DisplayPhone(storage string) string {
	if storage == "" {
		return ""
	}
	var groups []string
	for i := 0; i < len(storage); i += 3 {
		end := i + 3
		if end > len(storage) {
			end = len(storage)
		}
		groups = append(groups, storage[i:end])
	}
	return "+" + DefaultCountryCode + " " + strings.Join(groups, " ")
}

func onlyDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
