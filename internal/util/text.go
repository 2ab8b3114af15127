package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultClipChars bounds stored participant output.
	DefaultClipChars = 3000

	signatureMaxChars = 1000
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ClipText truncates text to maxChars characters, appending a marker that
// records how many characters were dropped. Text at or under the limit is
// returned unchanged.
func ClipText(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	dropped := len(runes) - maxChars
	return fmt.Sprintf("%s\n...[truncated %d chars]", string(runes[:maxChars]), dropped)
}

// TextSignature returns a 16-hex-char digest of the normalized text:
// trimmed, lowercased, whitespace runs collapsed to single spaces, capped
// at 1000 characters before hashing. Empty input yields "".
func TextSignature(text string) string {
	payload := whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
	if payload == "" {
		return ""
	}
	runes := []rune(payload)
	if len(runes) > signatureMaxChars {
		payload = string(runes[:signatureMaxChars])
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}
