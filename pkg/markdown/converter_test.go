package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHTML(t *testing.T) {
	assert.Equal(t, "", ToHTML("  "))

	got := ToHTML("**Ruya** offers:\n\n- agents\n- consulting")
	assert.Contains(t, got, "<strong>Ruya</strong>")
	assert.Contains(t, got, "<li>agents</li>")

	got = ToHTML("hello <script>alert(1)</script>")
	assert.NotContains(t, got, "<script>")

	got = ToHTML("[site](https://example.com)")
	assert.Contains(t, got, `target="_blank"`)
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"bold and italic", "**bold** and *it*", "<b>bold</b> and <i>it</i>"},
		{"list", "- one\n- two", "• one\n• two"},
		{"heading", "# Pricing", "<b>Pricing</b>"},
		{"code block", "```\nx := 1\n```", "<pre>x := 1\n</pre>"},
		{"arabic", "**خدماتنا**", "<b>خدماتنا</b>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToTelegramHTML(tt.in))
		})
	}
}
