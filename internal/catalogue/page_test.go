package catalogue

import (
	"encoding/json"
	"testing"
)

func strptr(s string) *string { return &s }

func TestPage_Title(t *testing.T) {
	t.Parallel()
	p := &Page{URL: "http://a.onion", PageTitle: strptr("Hidden Wiki")}
	if got := p.Title(); got != "Hidden Wiki" {
		t.Errorf("Title() = %q, want Hidden Wiki", got)
	}
}

func TestPage_Title_FallsBackToURL(t *testing.T) {
	t.Parallel()
	for _, p := range []*Page{
		{URL: "http://a.onion"},
		{URL: "http://a.onion", PageTitle: strptr("")},
	} {
		if got := p.Title(); got != "http://a.onion" {
			t.Errorf("Title() = %q, want the url", got)
		}
	}
}

func TestPage_Description(t *testing.T) {
	t.Parallel()
	p := &Page{
		MetaTags: []MetaTag{
			{Key: strptr("viewport"), Value: strptr("width=device-width")},
			{Key: nil, Value: strptr("orphan value")},
			{Key: strptr("description"), Value: strptr("a dark web index")},
		},
	}
	if got := p.Description(); got != "a dark web index" {
		t.Errorf("Description() = %q, want the description meta value", got)
	}
}

func TestPage_Description_Empty(t *testing.T) {
	t.Parallel()
	p := &Page{MetaTags: []MetaTag{{Key: strptr("keywords"), Value: strptr("x")}}}
	if got := p.Description(); got != "" {
		t.Errorf("Description() = %q, want empty", got)
	}
	p = &Page{}
	if got := p.Description(); got != "" {
		t.Errorf("Description() with no tags = %q, want empty", got)
	}
}

func TestScrapeResult_WireFormat(t *testing.T) {
	t.Parallel()
	body := []byte(`{"url":"http://a.onion","page_title":null,"page_content":"hello",` +
		`"meta_tags":[{"key":"description","value":"d"}],"links":["http://x.onion/"]}`)

	var r ScrapeResult
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.URL != "http://a.onion" {
		t.Errorf("URL = %q", r.URL)
	}
	if r.PageTitle != nil {
		t.Errorf("PageTitle = %v, want nil", *r.PageTitle)
	}
	if r.PageContent == nil || *r.PageContent != "hello" {
		t.Errorf("PageContent = %v, want hello", r.PageContent)
	}
	if len(r.Links) != 1 || r.Links[0] != "http://x.onion/" {
		t.Errorf("Links = %v", r.Links)
	}
	if len(r.MetaTags) != 1 || r.MetaTags[0].Key == nil || *r.MetaTags[0].Key != "description" {
		t.Errorf("MetaTags = %v", r.MetaTags)
	}
}

func TestMarshalMetaTags_NilStaysNull(t *testing.T) {
	t.Parallel()
	data, err := marshalMetaTags(nil)
	if err != nil {
		t.Fatalf("marshalMetaTags: %v", err)
	}
	if data != nil {
		t.Errorf("marshalMetaTags(nil) = %q, want nil (SQL NULL)", data)
	}
}
