package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphRe  = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	codeBlockRe  = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	headingRe    = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	tagRe        = regexp.MustCompile(`</?([a-zA-Z0-9]+)(?:\s[^>]*)?/?>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Tags Telegram's HTML parse mode accepts
var telegramTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true, "code": true, "pre": true, "a": true,
}

// render turns markdown into HTML. Raw HTML in the input is dropped so model
// output cannot inject markup into the widget.
func render(markdown string) string {
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.SkipHTML | blackfriday.Safelink | blackfriday.HrefTargetBlank |
			blackfriday.NofollowLinks | blackfriday.NoreferrerLinks,
	})
	return string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
		blackfriday.WithRenderer(renderer),
	))
}

// ToHTML converts an assistant answer to HTML for the web chat widget
func ToHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	return strings.TrimSpace(render(markdown))
}

// ToTelegramHTML converts markdown to Telegram-compatible HTML
func ToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}
	return cleanHTMLForTelegram(render(markdown))
}

// cleanHTMLForTelegram cleans HTML to be compatible with Telegram
func cleanHTMLForTelegram(html string) string {
	html = paragraphRe.ReplaceAllString(html, "$1\n")
	html = headingRe.ReplaceAllString(html, "<b>$1</b>\n")

	html = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<ul>", "", "</ul>", "",
		"<ol>", "", "</ol>", "",
		"<li>", "• ", "</li>", "",
	).Replace(html)

	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")

	// Drop every tag Telegram rejects, keeping its text
	html = tagRe.ReplaceAllStringFunc(html, func(match string) string {
		name := strings.ToLower(tagRe.FindStringSubmatch(match)[1])
		if telegramTags[name] {
			return match
		}
		if name == "br" {
			return "\n"
		}
		return ""
	})

	html = blankLinesRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
