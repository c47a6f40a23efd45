// Package topics extracts conversation topics and scores topical continuity.
package topics

import (
	"strings"
	"unicode"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	textlang "github.com/ruyacapital/ruya-assistant/internal/services/language"
)

// DefaultWindow is the number of most recent messages scanned for topics
const DefaultWindow = 5

var keywords = map[models.Topic][]string{
	models.TopicServices: {
		"service", "solution", "ai agent", "chatbot", "automation", "integration", "consulting",
		"خدمات", "خدمة", "خدماتكم", "حلول", "وكيل ذكي", "وكلاء", "أتمتة", "ذكاء اصطناعي", "استشارات",
	},
	models.TopicPricing: {
		"price", "pricing", "cost", "plans", "package", "subscription", "how much", "quote", "budget",
		"سعر", "أسعار", "الأسعار", "تكلفة", "التكلفة", "باقة", "باقات", "اشتراك", "ميزانية", "عرض سعر",
	},
	models.TopicContact: {
		"contact", "call", "phone", "email", "reach", "whatsapp", "meeting", "appointment",
		"تواصل", "اتصال", "اتصل", "هاتف", "جوال", "بريد", "واتساب", "موعد", "اجتماع",
	},
	models.TopicCompany: {
		"company", "about you", "who are you", "team", "founder", "ruya", "experience",
		"الشركة", "شركتكم", "رؤيا", "من أنتم", "فريق", "المؤسس", "خبرة",
	},
}

var normalizedKeywords = buildKeywordIndex()

func buildKeywordIndex() map[models.Topic][]string {
	index := make(map[models.Topic][]string, len(keywords))
	for topic, list := range keywords {
		for _, w := range list {
			index[topic] = append(index[topic], textlang.Normalize(w))
		}
	}
	return index
}

// FromText returns the topics mentioned in a single text
func FromText(text string) models.TopicSet {
	set := make(models.TopicSet)
	normalized := textlang.Normalize(text)
	for topic, list := range normalizedKeywords {
		for _, w := range list {
			if strings.Contains(normalized, w) {
				set.Add(topic)
				break
			}
		}
	}
	return set
}

// Extract returns the topics of the user messages among the last window
// messages. A window <= 0 scans the whole history.
func Extract(history []models.ChatMessage, window int) models.TopicSet {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	set := make(models.TopicSet)
	for _, msg := range history {
		if msg.Role != models.RoleUser {
			continue
		}
		for topic := range FromText(msg.Content) {
			set.Add(topic)
		}
	}
	return set
}

// words splits normalized text into space-separated words with
// punctuation removed, padded so phrases can be matched on boundaries.
func words(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, textlang.Normalize(text))
	return " " + strings.Join(strings.Fields(cleaned), " ") + " "
}
