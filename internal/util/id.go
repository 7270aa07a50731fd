package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewPlaceholderID returns a client-generated temporary job ID used before
// the server assigns the real one. The "temp-" prefix keeps placeholders
// recognizable in logs and in the job cache.
func NewPlaceholderID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

// IsPlaceholderID reports whether id was generated by NewPlaceholderID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, "temp-")
}
