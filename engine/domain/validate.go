package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultTop is the result count used when a search request omits top.
	DefaultTop = 3
	// MaxTop caps how many results a single search may request.
	MaxTop = 100
	// maxTextLen bounds question/answer/query length in runes. Embedding
	// models truncate long inputs silently, so overlong text is rejected
	// up front instead of stored with a vector of only its prefix.
	maxTextLen = 8192
)

// ValidatePair checks a (question, answer) pair for add and delete.
// Whitespace-only fields are rejected, but stored text is NOT trimmed:
// delete matches on the exact bytes that were added.
func ValidatePair(question, answer string) error {
	if strings.TrimSpace(question) == "" {
		return NewValidationError("question", ErrEmptyQuestion)
	}
	if strings.TrimSpace(answer) == "" {
		return NewValidationError("answer", ErrEmptyAnswer)
	}
	if utf8.RuneCountInString(question) > maxTextLen {
		return NewValidationError("question", ErrTextTooLong)
	}
	if utf8.RuneCountInString(answer) > maxTextLen {
		return NewValidationError("answer", ErrTextTooLong)
	}
	return nil
}

// ValidateQuery checks a search query.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return NewValidationError("query", ErrEmptyQuery)
	}
	if utf8.RuneCountInString(query) > maxTextLen {
		return NewValidationError("query", ErrTextTooLong)
	}
	return nil
}

// NormalizeTop applies the default and range-checks top. Zero means
// "not provided" and yields DefaultTop.
func NormalizeTop(top int) (int, error) {
	if top == 0 {
		return DefaultTop, nil
	}
	if top < 1 || top > MaxTop {
		return 0, NewValidationError("top", ErrTopOutOfRange)
	}
	return top, nil
}
