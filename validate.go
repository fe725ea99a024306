package authgate

import (
	"regexp"
	"strings"
	"time"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// normalizeEmail lowercases and trims the address; the store is keyed on
// the normalized form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (e *Engine) validateEmail(email string) error {
	if email == "" || len(email) > 254 || !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func (e *Engine) validatePassword(pw string) error {
	if len(pw) < e.config.Password.MinLength {
		return ErrWeakPassword
	}
	return nil
}

func (e *Engine) truncateUserAgent(ua string) string {
	max := e.config.Session.MaxUserAgentLen
	if max > 0 && len(ua) > max {
		return ua[:max]
	}
	return ua
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
