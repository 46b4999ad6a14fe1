package decode

import "strings"

// repetitionRatio measures how much of the text is repeated words: 0 for
// fully distinct text, approaching 1 when one token dominates. Pervasive
// repetition is a known failure shape of autoregressive decoders. Short
// texts are never flagged. The exact thresholds pairing with this signal are
// tunable configuration, not a fixed contract.
func repetitionRatio(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < 4 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.Trim(w, ".,!?;:")] = struct{}{}
	}
	return 1 - float64(len(unique))/float64(len(words))
}
