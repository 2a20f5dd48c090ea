package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"drksrch/internal/catalogue"
	"drksrch/internal/links"
)

var (
	lineBreakRe  = regexp.MustCompile(`[\r\n\t]+`)
	multiSpaceRe = regexp.MustCompile(` {2,}`)
)

// Extract parses an HTML document and produces the scrape result the
// processor consumes: title, meta tags, the searchable text body and the
// outbound onion links.
func Extract(pageURL string, html []byte) (catalogue.ScrapeResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return catalogue.ScrapeResult{}, fmt.Errorf("parsing html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return catalogue.ScrapeResult{}, fmt.Errorf("parsing page url: %w", err)
	}

	result := catalogue.ScrapeResult{URL: pageURL}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		result.PageTitle = &title
	}

	result.MetaTags = extractMetaTags(doc)

	if content := extractContent(doc, result.PageTitle); content != "" {
		result.PageContent = &content
	}

	result.Links = extractLinks(doc, base)

	return result, nil
}

// extractMetaTags collects every <meta> carrying a name or property key and a
// content value. Keys are lowercased so the analyzer's "description" lookup is
// case-insensitive.
func extractMetaTags(doc *goquery.Document) []catalogue.MetaTag {
	var tags []catalogue.MetaTag
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, ok := s.Attr("name")
		if !ok {
			key, ok = s.Attr("property")
		}
		if !ok || key == "" {
			return
		}
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		content = strings.TrimSpace(content)
		tags = append(tags, catalogue.MetaTag{Key: &key, Value: &content})
	})
	return tags
}

// extractContent builds the text the topic model trains on: the page title,
// then the visible body text with markup noise collapsed to single spaces.
func extractContent(doc *goquery.Document, title *string) string {
	doc.Find("script, style, noscript, iframe").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(s.Text())
		sb.WriteString(" ")
	})

	body := lineBreakRe.ReplaceAllString(sb.String(), " ")
	body = multiSpaceRe.ReplaceAllString(body, " ")
	body = strings.TrimSpace(body)

	if title != nil && *title != "" {
		if body == "" {
			return *title
		}
		return *title + ". " + body
	}
	return body
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var urls []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		normalized, ok := links.Normalize(base, href)
		if !ok {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		urls = append(urls, normalized)
	})

	return urls
}
