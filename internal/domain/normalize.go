package domain

import (
	"strings"
)

// Bounds mirror the Rust reference implementation (crates/core/src/lib.rs) exactly.
const (
	MaxIdentifierLen   = 128
	MaxCommitMessageLen = 1024
	MaxCommitBodyLen    = 65536
	MaxMergeStrategyLen = 64
	MaxMergeSummaryLen  = 4096

	MaxMsgTextLen     = 1024
	MaxBodyTextLen    = 65536
	MaxSummaryTextLen = 4096
)

// CanonicalIdentifier trims, ASCII-lowercases, and validates value against
// [a-z0-9][a-z0-9._/-]{0,127} with no embedded NUL. It is pure and idempotent:
// CanonicalIdentifier(field, CanonicalIdentifier(field, x)) == CanonicalIdentifier(field, x).
func CanonicalIdentifier(field, value string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return "", &ValidationError{Kind: EmptyField, Field: field}
	}
	if strings.ContainsRune(v, 0) {
		return "", &ValidationError{Kind: ContainsNul, Field: field}
	}
	runes := []rune(v)
	if len(runes) > MaxIdentifierLen {
		return "", &ValidationError{Kind: FieldTooLong, Field: field, MaxLen: MaxIdentifierLen}
	}

	first := runes[0]
	if !isAsciiAlnum(first) {
		return "", &ValidationError{Kind: InvalidFirstChar, Field: field}
	}
	for i, ch := range runes {
		if i == 0 {
			continue
		}
		if isAsciiAlnum(ch) || ch == '.' || ch == '_' || ch == '-' || ch == '/' {
			continue
		}
		return "", &ValidationError{Kind: InvalidChar, Field: field, Char: ch, Index: i}
	}
	return v, nil
}

// NormalizeText trims value, rejects empty/over-budget/NUL-containing text. Length is
// counted in Unicode code points (not bytes), matching the reference implementation.
func NormalizeText(field, value string, maxChars int) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", &ValidationError{Kind: EmptyField, Field: field}
	}
	if strings.ContainsRune(v, 0) {
		return "", &ValidationError{Kind: ContainsNul, Field: field}
	}
	if n := len([]rune(v)); n > maxChars {
		return "", &ValidationError{Kind: FieldTooLong, Field: field, MaxLen: maxChars}
	}
	return v, nil
}

// isAsciiAlnum checks membership in [0-9a-z]; callers have already lowercased input.
func isAsciiAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z')
}

func validateNonNegativeTimestamp(field string, value int64) error {
	if value < 0 {
		return &ValidationError{Kind: NegativeTimestamp, Field: field}
	}
	return nil
}
