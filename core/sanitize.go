package core

import (
	"fmt"
	"strings"
	"unicode"
)

const maxIdentifierLength = 128

// Sanitize normalizes a document id or asset filename and rejects anything
// that could address a path outside a storage root. Traversal components are
// rejected rather than stripped, so "a/../b" never silently becomes "b".
// Sanitize is idempotent.
func Sanitize(raw string) (string, error) {
	id := strings.TrimSpace(raw)

	invalid := func(reason string) (string, error) {
		return "", fmt.Errorf("%w %q: %s", ErrInvalidIdentifier, raw, reason)
	}

	switch {
	case id == "":
		return invalid("empty")
	case id == "." || id == "..":
		return invalid("dot directory")
	case len(id) > maxIdentifierLength:
		return invalid("too long")
	case strings.ContainsAny(id, `/\`):
		for _, part := range strings.FieldsFunc(id, func(r rune) bool { return r == '/' || r == '\\' }) {
			if part == ".." {
				return invalid("path traversal not allowed")
			}
		}
		return invalid("path separators not allowed")
	case strings.HasPrefix(id, "."):
		return invalid("leading dot not allowed")
	}

	for _, r := range id {
		if r == unicode.ReplacementChar || unicode.IsControl(r) {
			return invalid("control characters not allowed")
		}
	}

	return id, nil
}
