package topics

import (
	"strings"

	"github.com/ruyacapital/ruya-assistant/internal/models"
)

const (
	baseScore     = 0.5
	overlapBonus  = 0.3
	followUpBonus = 0.2
)

var followUpMarkers = []string{
	"also", "additionally", "what about", "and", "moreover", "how about",
	"أيضا", "ايضا", "كذلك", "ماذا عن", "وماذا عن", "بالإضافة", "وأيضا", "وكذلك",
}

var normalizedMarkers = func() []string {
	out := make([]string, 0, len(followUpMarkers))
	for _, m := range followUpMarkers {
		out = append(out, " "+strings.TrimSpace(words(m))+" ")
	}
	return out
}()

// HasFollowUpMarker reports whether text contains a discourse marker
// such as "also" or "ماذا عن" as a whole word or phrase.
func HasFollowUpMarker(text string) bool {
	padded := words(text)
	for _, m := range normalizedMarkers {
		if strings.Contains(padded, m) {
			return true
		}
	}
	return false
}

// ContextScore estimates how coherently current continues the prior
// conversation. It is a keyword heuristic, not a calibrated probability:
// 0.5 base, +0.3 when current shares a topic with the last window
// messages of prior, +0.2 for a follow-up marker, capped at 1.
func ContextScore(current string, prior []models.ChatMessage, window int) float64 {
	score := baseScore

	if FromText(current).Overlaps(Extract(prior, window)) {
		score += overlapBonus
	}
	if HasFollowUpMarker(current) {
		score += followUpBonus
	}

	return models.ClampScore(score)
}
