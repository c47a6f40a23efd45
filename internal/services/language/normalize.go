package language

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	lower = cases.Lower(language.Und)

	alefReplacer = strings.NewReplacer(
		"أ", "ا", "إ", "ا", "آ", "ا",
		"ـ", "", // tatweel
	)
)

// Normalize prepares text for keyword matching: NFKC folds Arabic
// presentation forms, then case folding, alef unification and
// stripping of Arabic diacritics.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = lower.String(text)
	text = alefReplacer.Replace(text)
	return strings.Map(func(r rune) rune {
		if r >= 0x064B && r <= 0x0652 {
			return -1
		}
		return r
	}, text)
}
