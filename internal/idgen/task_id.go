package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"
)

// nonceBytes returns cryptographically random bytes used to decorrelate IDs
// minted in the same nanosecond (two tasks submitted back to back).
func nonceBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

// TaskID mints a caller-opaque task identifier, e.g. "task-k3j9f2a1x7".
// The base36 digest is seeded from random bytes plus the current time
// rather than from content, since task IDs have no stable content to hash
// against.
func TaskID() string {
	return prefixedID("task", 10)
}

// ConversationID mints a conversation identifier, e.g. "conv-k3j9f2a1x7".
func ConversationID() string {
	return prefixedID("conv", 10)
}

// ConnectionID mints a fan-out subscriber connection identifier.
func ConnectionID() string {
	return prefixedID("conn", 8)
}

// WebhookAttemptID mints an identifier for one webhook delivery, shared by
// all of its retry attempts, used only for log correlation.
func WebhookAttemptID() string {
	return prefixedID("whk", 6)
}

func prefixedID(prefix string, length int) string {
	now := time.Now()
	seed := append(nonceBytes(8), []byte(fmt.Sprintf("%d", now.UnixNano()))...)
	sum := sha256.Sum256(seed)
	return fmt.Sprintf("%s-%s", prefix, EncodeBase36(sum[:], length))
}
