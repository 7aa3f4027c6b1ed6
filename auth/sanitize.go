package auth

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.StrictPolicy()

// SanitizeUsername drops markup from a username and trims it.
func SanitizeUsername(username string) string {
	return SanitizeString(username)
}

// SanitizeEmail strips markup and surrounding whitespace; case is kept.
func SanitizeEmail(email string) string {
	return SanitizeString(email)
}

// SanitizeString strips every tag. The policy entity-escapes the text it
// keeps, so that escaping is undone again: values are stored as plain text
// and escaped by whoever renders them.
func SanitizeString(input string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(input)))
}
