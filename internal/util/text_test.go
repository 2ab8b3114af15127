package util

import (
	"strings"
	"testing"
)

func TestClipTextUnderLimit(t *testing.T) {
	if got := ClipText("short", 3000); got != "short" {
		t.Errorf("ClipText = %q, want unchanged", got)
	}
	if got := ClipText("", 10); got != "" {
		t.Errorf("ClipText empty = %q, want empty", got)
	}
}

func TestClipTextTruncates(t *testing.T) {
	in := strings.Repeat("x", 3010)
	got := ClipText(in, 3000)

	if !strings.HasPrefix(got, strings.Repeat("x", 3000)) {
		t.Error("clipped text should keep the first maxChars characters")
	}
	if !strings.HasSuffix(got, "\n...[truncated 10 chars]") {
		t.Errorf("marker missing, got tail %q", got[len(got)-40:])
	}
}

func TestClipTextExactLimit(t *testing.T) {
	in := strings.Repeat("y", 100)
	if got := ClipText(in, 100); got != in {
		t.Error("text exactly at the limit should not be clipped")
	}
}

func TestClipTextMultibyte(t *testing.T) {
	in := strings.Repeat("语", 10)
	got := ClipText(in, 4)

	if !strings.HasPrefix(got, strings.Repeat("语", 4)) {
		t.Errorf("clip should count characters, not bytes: %q", got)
	}
	if !strings.Contains(got, "[truncated 6 chars]") {
		t.Errorf("dropped count should be in characters: %q", got)
	}
}

func TestTextSignatureNormalizes(t *testing.T) {
	a := TextSignature("  Hello\n\tWorld  ")
	b := TextSignature("hello world")

	if a == "" {
		t.Fatal("signature should not be empty")
	}
	if a != b {
		t.Errorf("signatures differ across whitespace/case variants: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("signature length = %d, want 16", len(a))
	}
}

func TestTextSignatureEmpty(t *testing.T) {
	if got := TextSignature("   \n\t "); got != "" {
		t.Errorf("blank input signature = %q, want empty", got)
	}
}

func TestTextSignatureCapsPayload(t *testing.T) {
	base := strings.Repeat("a", 1000)
	a := TextSignature(base)
	b := TextSignature(base + "trailing difference beyond the cap")

	if a != b {
		t.Error("content beyond the 1000-char cap should not change the signature")
	}
}
