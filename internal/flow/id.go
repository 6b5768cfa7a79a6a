package flow

import "github.com/google/uuid"

// GenerateID returns a random identifier with the given prefix, e.g. "node-3f2a...".
func GenerateID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
