package domain

import (
	"fmt"
	"regexp"
)

// IdempotencyKey builds the canonical "{kind}:{id}:{action}:v{n}" key. The
// schema version keeps keys generated under an older command contract from
// colliding with a newer one.
func IdempotencyKey(entityKind, entityID, action string, schemaVersion int) string {
	return fmt.Sprintf("%s:%s:%s:v%d", entityKind, entityID, action, schemaVersion)
}

var idempotencyKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+:[a-zA-Z0-9._-]+:[a-zA-Z0-9._-]+:v[0-9]+$`)

// ValidIdempotencyKey reports whether key follows the canonical convention.
// The enqueue service enforces it; the built-in payload builders always
// produce conforming keys.
func ValidIdempotencyKey(key string) bool {
	return idempotencyKeyPattern.MatchString(key)
}
