package util

import (
	"strings"
	"testing"
)

func TestNewPlaceholderID(t *testing.T) {
	id := NewPlaceholderID()
	if !strings.HasPrefix(id, "temp-") {
		t.Fatalf("placeholder id missing prefix: %q", id)
	}
	if !IsPlaceholderID(id) {
		t.Fatalf("IsPlaceholderID(%q) = false", id)
	}
	if IsPlaceholderID("doc-42") {
		t.Fatalf("server id misclassified as placeholder")
	}
	if other := NewPlaceholderID(); other == id {
		t.Fatalf("placeholder ids should not collide: %q", id)
	}
}
