// Package language classifies chat text as Arabic or English.
package language

import (
	"strings"
	"unicode"

	"github.com/ruyacapital/ruya-assistant/internal/models"
)

// arabicBlocks covers Arabic, Arabic Supplement, Arabic Extended-A and
// both Arabic Presentation Forms blocks.
var arabicBlocks = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0600, Hi: 0x06FF, Stride: 1},
		{Lo: 0x0750, Hi: 0x077F, Stride: 1},
		{Lo: 0x08A0, Hi: 0x08FF, Stride: 1},
		{Lo: 0xFB50, Hi: 0xFDFF, Stride: 1},
		{Lo: 0xFE70, Hi: 0xFEFF, Stride: 1},
	},
}

// arabicWords are common Arabic words written in Latin script (Arabizi).
var arabicWords = map[string]struct{}{
	"salam":     {},
	"salaam":    {},
	"marhaba":   {},
	"ahlan":     {},
	"shukran":   {},
	"inshallah": {},
	"mashallah": {},
	"wallah":    {},
	"yalla":     {},
	"habibi":    {},
	"khalas":    {},
	"kifak":     {},
	"keefak":    {},
	"shlonak":   {},
	"shukron":   {},
	"afwan":     {},
	"3afwan":    {},
	"ma3":       {},
	"fi":        {},
	"wesh":      {},
}

// ContainsArabic reports whether text has any rune in the Arabic blocks
func ContainsArabic(text string) bool {
	for _, r := range text {
		if unicode.Is(arabicBlocks, r) {
			return true
		}
	}
	return false
}

// Detect classifies text. It never fails: anything that is not
// recognisably Arabic is English.
func Detect(text string) models.Language {
	if ContainsArabic(text) {
		return models.LanguageArabic
	}
	if countArabicWords(text) > 0 {
		return models.LanguageArabic
	}
	return models.LanguageEnglish
}

func countArabicWords(text string) int {
	count := 0
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if _, ok := arabicWords[token]; ok {
			count++
		}
	}
	return count
}
