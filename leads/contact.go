package leads

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Contact info that must not leak through quote notes.
const (
	ContactURL   = "url"
	ContactEmail = "email"
	ContactPhone = "phone"
)

var (
	urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+|\b[a-z0-9][a-z0-9-]*\.(?:com|net|org|io|co|us|biz|info|me|app|dev|site|online)\b`)

	// The last domain label must be alphabetic so "10 bags@12.50" is a price.
	// Spelled-out "at"/"dot" only counts bracketed, or unbracketed when both
	// are present between word-like parts.
	emailPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}\b`),
		regexp.MustCompile(`(?i)[a-z0-9._%+\-]+\s*[\[(]\s*at\s*[\])]\s*[a-z0-9\-]+(?:(?:\.|\s*[\[(]\s*dot\s*[\])]\s*)[a-z0-9\-]+)*(?:\.|\s*[\[(]\s*dot\s*[\])]\s*)[a-z]{2,}\b`),
		regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]*[a-z][a-z0-9._%+\-]*\s+at\s+[a-z0-9\-]+(?:\s+dot\s+[a-z0-9\-]+)*\s+dot\s+[a-z]{2,}\b`),
	}

	// Runs of digits with common separators; each run is checked with
	// libphonenumber so prices and dates do not match.
	phoneCandidate = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{5,}\d`)

	// Shorter numbers only count when written like 555-0134.
	localPhone = regexp.MustCompile(`^\d{3}[\s.\-]\d{4}$`)
)

// DetectContactInfo returns the kind of contact info found in text, or "".
func DetectContactInfo(text, region string) string {
	switch {
	case matchAny(emailPatterns, text):
		return ContactEmail
	case urlPattern.MatchString(text):
		return ContactURL
	case containsPhone(text, region):
		return ContactPhone
	}
	return ""
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func containsPhone(text, region string) bool {
	if region == "" {
		region = "US"
	}
	for _, m := range phoneCandidate.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		digits := countDigits(m)
		if digits > 15 || digits < 7 {
			continue
		}
		if digits < 10 {
			if localPhone.MatchString(m) {
				return true
			}
			continue
		}
		num, err := phonenumbers.Parse(m, region)
		if err != nil {
			continue
		}
		if phonenumbers.IsValidNumber(num) || phonenumbers.IsPossibleNumber(num) {
			return true
		}
	}
	return false
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// normalizePhone formats a phone number as E.164.
func normalizePhone(input, region string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", nil
	}
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(trimmed, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", invalid("phone", "not a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
