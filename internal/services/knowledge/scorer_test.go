package knowledge

import (
	"testing"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/stretchr/testify/assert"
)

var sampleItems = []models.KnowledgeItem{
	{
		ID: "services-ar", Title: "خدمات رؤيا كابيتال", Language: "ar", Category: "services",
		Content: "نقدم خدمات بناء الوكلاء الأذكياء وأتمتة خدمة العملاء للشركات.",
	},
	{
		ID: "services-en", Title: "Ruya Capital services", Language: "en", Category: "services",
		Content: "We build AI agents, customer support automation and workflow integrations.",
		Verified: true,
	},
	{
		ID: "pricing-en", Title: "Pricing plans", Language: "en", Category: "pricing",
		Content: "Starter, growth and enterprise plans are billed monthly.",
		Tags:    []string{"subscription", "billing"},
	},
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"build", "agents"}, Tokenize("How do you build AI agents?"))
	assert.Equal(t, []string{"خدمات", "رؤيا", "كابيتال"}, Tokenize("ما هي خدمات رؤيا كابيتال؟"))
	assert.Equal(t, []string{"خدمات"}, Tokenize("الخدمات"))
	assert.Empty(t, Tokenize("12 34 ok"))
}

func TestScorer(t *testing.T) {
	scorer := NewScorer(sampleItems)

	t.Run("matching item outranks unrelated", func(t *testing.T) {
		services := scorer.Score("what services does Ruya Capital offer", sampleItems[1])
		pricing := scorer.Score("what services does Ruya Capital offer", sampleItems[2])
		assert.Greater(t, services, pricing)
		assert.GreaterOrEqual(t, services, DefaultMinRelevance)
	})

	t.Run("arabic query matches arabic item", func(t *testing.T) {
		score := scorer.Score("ما هي خدمات رؤيا كابيتال؟", sampleItems[0])
		assert.GreaterOrEqual(t, score, 0.6)
	})

	t.Run("tags count as item terms", func(t *testing.T) {
		assert.Greater(t, scorer.Score("subscription", sampleItems[2]), 0.5)
	})

	t.Run("scores stay in range", func(t *testing.T) {
		for _, q := range []string{"", "services services services", "pricing plans monthly", "zzz"} {
			for _, item := range sampleItems {
				s := scorer.Score(q, item)
				assert.GreaterOrEqual(t, s, 0.0)
				assert.LessOrEqual(t, s, 1.0)
			}
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.Equal(t, float32(0), CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestRank(t *testing.T) {
	results := rank("services", sampleItems, SearchOptions{Language: "en"})
	if assert.NotEmpty(t, results) {
		assert.Equal(t, "services-en", results[0].Item.ID)
	}
	for _, r := range results {
		assert.Equal(t, "en", r.Item.Language)
	}

	limited := rank("plans services", sampleItems, SearchOptions{Limit: 1})
	assert.Len(t, limited, 1)

	byCategory := rank("plans services", sampleItems, SearchOptions{Category: "pricing"})
	if assert.Len(t, byCategory, 1) {
		assert.Equal(t, "pricing-en", byCategory[0].Item.ID)
	}
}
