package knowledge

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	textlang "github.com/ruyacapital/ruya-assistant/internal/services/language"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "are": {}, "you": {}, "your": {}, "what": {}, "how": {},
	"does": {}, "for": {}, "with": {}, "can": {}, "this": {}, "that": {}, "about": {},
	"التي": {}, "الذي": {}, "هذا": {}, "هذه": {}, "ماذا": {}, "كيف": {},
	"لماذا": {}, "اين": {}, "متى": {}, "عندكم": {}, "لديكم": {},
}

// Scorer ranks knowledge items against a query with a TF-IDF cosine
// blended with query-term coverage. Relevance values are heuristic and
// only meaningful relative to each other.
type Scorer struct {
	vocabulary map[string]int
	idf        map[string]float64
}

// NewScorer builds vocabulary and IDF weights over items
func NewScorer(items []models.KnowledgeItem) *Scorer {
	s := &Scorer{
		vocabulary: make(map[string]int),
		idf:        make(map[string]float64),
	}

	df := make(map[string]int)
	for _, item := range items {
		seen := make(map[string]bool)
		for _, token := range Tokenize(itemText(item)) {
			if _, exists := s.vocabulary[token]; !exists {
				s.vocabulary[token] = len(s.vocabulary)
			}
			if !seen[token] {
				df[token]++
				seen[token] = true
			}
		}
	}

	// Smoothed so that a term present in every item still weighs > 0
	total := float64(len(items))
	for token, freq := range df {
		s.idf[token] = math.Log(1+total/float64(freq))
	}
	return s
}

// vector returns the TF-IDF vector for text
func (s *Scorer) vector(tokens []string) []float32 {
	vector := make([]float32, len(s.vocabulary))
	if len(tokens) == 0 {
		return vector
	}

	tf := make(map[string]int)
	for _, token := range tokens {
		tf[token]++
	}
	for token, freq := range tf {
		if idx, exists := s.vocabulary[token]; exists {
			vector[idx] = float32(float64(freq) / float64(len(tokens)) * s.idf[token])
		}
	}
	return vector
}

// Score returns the relevance of item to query in [0, 1]
func (s *Scorer) Score(query string, item models.KnowledgeItem) float64 {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}

	itemTokens := Tokenize(itemText(item))
	present := make(map[string]bool, len(itemTokens))
	for _, t := range itemTokens {
		present[t] = true
	}
	for _, tag := range item.Tags {
		for _, t := range Tokenize(tag) {
			present[t] = true
		}
	}

	matched := 0
	unique := make(map[string]bool)
	for _, t := range queryTokens {
		if unique[t] {
			continue
		}
		unique[t] = true
		if present[t] {
			matched++
		}
	}
	coverage := float64(matched) / float64(len(unique))

	cosine := float64(CosineSimilarity(s.vector(queryTokens), s.vector(itemTokens)))

	return models.ClampScore(0.6*coverage + 0.4*cosine)
}

// CosineSimilarity calculates cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// Tokenize splits text into normalized search terms. Words of fewer
// than three letters, numbers and stop words are dropped; the Arabic
// definite article is stripped from longer words.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, textlang.Normalize(text))

	var tokens []string
	for _, word := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(word) > 4 && strings.HasPrefix(word, "ال") {
			word = strings.TrimPrefix(word, "ال")
		}
		if utf8.RuneCountInString(word) <= 2 || isNumber(word) {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

func itemText(item models.KnowledgeItem) string {
	return item.Title + "\n" + item.Content
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
