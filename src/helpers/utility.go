package helpers

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID returns a random identifier for newly inserted documents.
func GenerateUUID() string {
	return uuid.New().String()
}

// StripQuotes removes one pair of surrounding single or double quotes.
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// SplitList splits a comma and/or whitespace separated list, dropping empty
// entries.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
