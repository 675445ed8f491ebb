package config

import (
	"regexp"
	"strings"
)

// IdentifierPattern is the Harness identifier syntax: alphanumerics,
// underscore and hyphen, not starting with a hyphen, at most 128 characters.
const IdentifierPattern = `^[a-zA-Z0-9_][a-zA-Z0-9_-]{0,127}$`

// EmailPattern is the accepted user and service-account email syntax.
const EmailPattern = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`

var (
	identifierRegexp = regexp.MustCompile(IdentifierPattern)
	emailRegexp      = regexp.MustCompile(EmailPattern)
)

// Normalize derives an identifier from a human-readable name: lower case,
// with hyphens and spaces replaced by underscores. Normalize is idempotent.
func Normalize(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, "-", "_")
	return strings.ReplaceAll(id, " ", "_")
}

// IsValidIdentifier reports whether id matches IdentifierPattern.
func IsValidIdentifier(id string) bool {
	return identifierRegexp.MatchString(id)
}

// IsValidEmail reports whether email matches EmailPattern.
func IsValidEmail(email string) bool {
	return emailRegexp.MatchString(email)
}
