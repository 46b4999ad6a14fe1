package sanitize

import "testing"

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"blank audio", "[BLANK_AUDIO]", ""},
		{"marker between words", "hello [BLANK_AUDIO] world", "hello world"},
		{"music marker", "[MUSIC] let's begin", "let's begin"},
		{"stage direction", "so (clears throat) anyway", "so anyway"},
		{"special token", "done<|endoftext|>", "done"},
		{"redundant whitespace", "  hello   world \n", "hello world"},
		{"marker only with spaces", "  [ Silence ]  ", ""},
		{"multiple markers", "[_BEG_] hi (noise) there [MUSIC]", "hi there"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"hello world",
		"hello [BLANK_AUDIO] world",
		"  spaced   out  ",
		"(cough) [MUSIC] mixed <|nospeech|> tokens",
		"",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}
