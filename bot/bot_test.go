package bot

import (
	"strings"
	"testing"
)

func TestPatchStatusTextAppendsStatusLine(t *testing.T) {
	patched := PatchStatusText("hello")

	if !strings.HasPrefix(patched, "hello"+statusSeparator) {
		t.Errorf("patched message missing body or separator: %q", patched)
	}
	if !strings.Contains(patched, "last healthcheck: ") {
		t.Errorf("patched message missing healthcheck line: %q", patched)
	}
}

func TestPatchStatusTextReplacesExistingStatusLine(t *testing.T) {
	first := PatchStatusText("hello")
	second := PatchStatusText(first)

	if got := strings.Count(second, statusSeparator); got != 1 {
		t.Errorf("got %d separators, want 1: %q", got, second)
	}
	if !strings.HasPrefix(second, "hello"+statusSeparator) {
		t.Errorf("body not preserved: %q", second)
	}
}

func TestStripStatusText(t *testing.T) {
	patched := PatchStatusText("hello")

	if got := StripStatusText(patched); got != "hello" {
		t.Errorf("StripStatusText = %q, want %q", got, "hello")
	}
	if got := StripStatusText("plain message"); got != "plain message" {
		t.Errorf("StripStatusText on plain message = %q", got)
	}
}

func TestStripStatusTextPreservesBodyWithDashes(t *testing.T) {
	body := "price went up\n-- details below --\nmore text"
	patched := PatchStatusText(body)

	if got := StripStatusText(patched); got != body {
		t.Errorf("StripStatusText = %q, want %q", got, body)
	}
}
