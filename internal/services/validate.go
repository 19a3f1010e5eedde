package services

import (
	"regexp"
	"strings"
)

var (
	emailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRx = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	return emailRx.MatchString(email)
}

func validPhone(phone string) bool {
	return phoneRx.MatchString(strings.TrimSpace(phone))
}
