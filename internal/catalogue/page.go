package catalogue

import "time"

// MetaTag is one <meta> entry captured from a scraped page. Both sides are
// nullable because onion sites emit all kinds of malformed markup.
type MetaTag struct {
	Key   *string `json:"key"`
	Value *string `json:"value"`
}

// Page is one row of the pages table. A placeholder row (NewURL true) records
// a discovered URL that has never been scraped; a scraped row carries the
// extracted content.
type Page struct {
	URL          string
	DateAccessed *time.Time
	PageTitle    *string
	PageContent  *string
	MetaTags     []MetaTag
	ParentURL    *string
	NewURL       bool
	DateAdded    time.Time
}

// Title returns the page title, falling back to the URL when the title was
// never extracted or came back empty.
func (p *Page) Title() string {
	if p.PageTitle != nil && *p.PageTitle != "" {
		return *p.PageTitle
	}
	return p.URL
}

// Description returns the value of the meta tag whose key is "description",
// or the empty string.
func (p *Page) Description() string {
	for _, tag := range p.MetaTags {
		if tag.Key != nil && *tag.Key == "description" && tag.Value != nil {
			return *tag.Value
		}
	}
	return ""
}

// ScrapeResult is the payload a scraper worker publishes for one URL. Field
// names match the processor queue wire format.
type ScrapeResult struct {
	URL         string    `json:"url"`
	PageTitle   *string   `json:"page_title"`
	PageContent *string   `json:"page_content"`
	MetaTags    []MetaTag `json:"meta_tags"`
	Links       []string  `json:"links"`
}
