package common

import (
	"errors"
	"strconv"
)

// ErrBadIndex signals a path segment that is not a valid non-negative index.
var ErrBadIndex = errors.New("invalid index")

// AtoiDefault converts the provided string to an integer falling back to the default when parsing fails.
func AtoiDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// ParseIndex parses a zero-based line index from a URL path segment.
func ParseIndex(value string) (int, error) {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, ErrBadIndex
	}
	return parsed, nil
}
