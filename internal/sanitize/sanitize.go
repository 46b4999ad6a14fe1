// Package sanitize normalizes raw decoder output before it becomes
// user-visible. It is the single boundary between decoder-internal tokens
// and inserted or persisted text.
package sanitize

import (
	"regexp"
	"strings"
)

// Decoder-internal markers: bracketed non-speech annotations such as
// [BLANK_AUDIO] or [MUSIC], parenthesized stage directions such as
// (laughing), and special tokens such as <|endoftext|>.
var (
	bracketMarker = regexp.MustCompile(`\[[^\[\]]*\]`)
	parenMarker   = regexp.MustCompile(`\([^()]*\)`)
	specialToken  = regexp.MustCompile(`<\|[^|]*\|>`)
	multiSpace    = regexp.MustCompile(`\s+`)
)

// Sanitize strips non-speech markers and collapses redundant whitespace.
// Deterministic, side-effect-free, and idempotent.
func Sanitize(raw string) string {
	text := bracketMarker.ReplaceAllString(raw, " ")
	text = parenMarker.ReplaceAllString(text, " ")
	text = specialToken.ReplaceAllString(text, " ")
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
