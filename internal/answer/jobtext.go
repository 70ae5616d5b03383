package answer

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// MaxJobText bounds the posting text handed to the template and the polish prompt.
const MaxJobText = 1500

// JobText extracts the readable posting text from a page, at most max runes.
// Readability picks the main content; when it fails or finds nothing the body
// text without scripts and navigation is used.
func JobText(rawURL, html string, max int) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	text := readableText(rawURL, html)
	if text == "" {
		text = bodyText(html)
	}
	return truncate(collapse(text), max)
}

func readableText(rawURL, html string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Host == "" {
		parsedURL = &url.URL{Scheme: "https", Host: "localhost"}
	}
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(html), parsedURL)
	if err != nil || article.Content == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return ""
	}
	return doc.Text()
}

func bodyText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	body := doc.Find("body")
	body.Find("script, style, noscript, template, nav, header, footer, form").Remove()
	return body.Text()
}
