package access

import (
	"fmt"
	"regexp"
	"strings"
)

var handlePattern = regexp.MustCompile(`^@[a-z0-9_]{1,32}$`)

// NormalizeHandle trims s, adds a missing leading "@" and lower-cases it.
// Handles are compared case-insensitively everywhere in the store.
func NormalizeHandle(s string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(s))
	if h != "" && !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	if !handlePattern.MatchString(h) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	return h, nil
}
