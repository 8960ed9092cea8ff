package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "unknown topic %q", "disks")
	if KindOf(err) != KindNotFound {
		t.Errorf("Expected not_found, got %q", KindOf(err))
	}
	if err.Error() != `unknown topic "disks"` {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestKindOf_Untagged(t *testing.T) {
	if kind := KindOf(errors.New("plain")); kind != "" {
		t.Errorf("Expected empty kind for untagged error, got %q", kind)
	}
	if kind := KindOf(nil); kind != "" {
		t.Errorf("Expected empty kind for nil, got %q", kind)
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindProvider, cause, "provider for topic %s failed", "pools")

	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be reachable via errors.Is")
	}
	if !Is(err, KindProvider) {
		t.Error("Expected provider kind")
	}
	if err.Error() != "provider for topic pools failed: connection refused" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	inner := New(KindAuth, "session expired")
	outer := fmt.Errorf("request failed: %w", inner)
	if !Is(outer, KindAuth) {
		t.Error("Expected kind to survive fmt.Errorf wrapping")
	}
}
