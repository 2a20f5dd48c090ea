package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"drksrch/internal/blacklist"
	"drksrch/internal/catalogue"
	"drksrch/internal/queue"
)

type placeholder struct {
	url    string
	parent string
}

type fakeStore struct {
	pages        map[string]*catalogue.Page
	updated      map[string]catalogue.ScrapeResult
	inserted     []catalogue.ScrapeResult
	placeholders []placeholder

	getErr         error
	updateErr      error
	allURLsErr     error
	placeholderErr error
}

func newFakeStore(urls ...string) *fakeStore {
	f := &fakeStore{
		pages:   make(map[string]*catalogue.Page),
		updated: make(map[string]catalogue.ScrapeResult),
	}
	for _, u := range urls {
		f.pages[u] = &catalogue.Page{URL: u, NewURL: true}
	}
	return f
}

func (f *fakeStore) GetByURL(_ context.Context, url string) (*catalogue.Page, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return nil, catalogue.ErrNotFound
}

func (f *fakeStore) UpdateScraped(_ context.Context, url string, r catalogue.ScrapeResult) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated[url] = r
	return nil
}

func (f *fakeStore) InsertScraped(_ context.Context, r catalogue.ScrapeResult) error {
	f.inserted = append(f.inserted, r)
	return nil
}

func (f *fakeStore) InsertPlaceholder(_ context.Context, url, parentURL string) error {
	if f.placeholderErr != nil {
		return f.placeholderErr
	}
	f.placeholders = append(f.placeholders, placeholder{url: url, parent: parentURL})
	return nil
}

func (f *fakeStore) GetAllURLs(_ context.Context) (map[string]struct{}, error) {
	if f.allURLsErr != nil {
		return nil, f.allURLsErr
	}
	urls := make(map[string]struct{}, len(f.pages))
	for u := range f.pages {
		urls[u] = struct{}{}
	}
	return urls, nil
}

func loadBlacklist(t *testing.T, urls ...string) *blacklist.Blacklist {
	t.Helper()
	contents := ""
	for i, u := range urls {
		if i > 0 {
			contents += " "
		}
		sum := md5.Sum([]byte(u))
		contents += hex.EncodeToString(sum[:])
	}
	if contents == "" {
		// A blacklist is mandatory; tests that don't care use a digest that
		// matches nothing.
		contents = "00000000000000000000000000000000"
	}
	path := filepath.Join(t.TempDir(), "blacklist.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing blacklist: %v", err)
	}
	bl, err := blacklist.Load(path)
	if err != nil {
		t.Fatalf("loading blacklist: %v", err)
	}
	return bl
}

func newProcessor(t *testing.T, store Store, bl *blacklist.Blacklist) *Processor {
	t.Helper()
	return New(store, bl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const resultBody = `{
	"url": "http://a.onion",
	"page_title": "A",
	"page_content": "hello",
	"meta_tags": [{"key": "description", "value": "d"}],
	"links": ["http://x.onion/", "http://a.onion"]
}`

func TestHandle_UpdatesExistingAndDiscoversLinks(t *testing.T) {
	t.Parallel()
	store := newFakeStore("http://a.onion")
	p := newProcessor(t, store, loadBlacklist(t))

	if d := p.Handle(context.Background(), []byte(resultBody)); d != queue.Ack {
		t.Fatalf("Handle = %v, want Ack", d)
	}

	r, ok := store.updated["http://a.onion"]
	if !ok {
		t.Fatal("existing page was not updated")
	}
	if r.PageContent == nil || *r.PageContent != "hello" {
		t.Errorf("updated content = %v, want hello", r.PageContent)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted = %v, want none", store.inserted)
	}

	// http://a.onion is already known; only the new link becomes a
	// placeholder, with the scraped page as parent.
	if len(store.placeholders) != 1 {
		t.Fatalf("placeholders = %v, want one", store.placeholders)
	}
	if store.placeholders[0] != (placeholder{url: "http://x.onion/", parent: "http://a.onion"}) {
		t.Errorf("placeholder = %+v", store.placeholders[0])
	}
}

func TestHandle_InsertsUnknownURL(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	p := newProcessor(t, store, loadBlacklist(t))

	if d := p.Handle(context.Background(), []byte(resultBody)); d != queue.Ack {
		t.Fatalf("Handle = %v, want Ack", d)
	}
	if len(store.inserted) != 1 || store.inserted[0].URL != "http://a.onion" {
		t.Errorf("inserted = %v", store.inserted)
	}
	if len(store.updated) != 0 {
		t.Errorf("updated = %v, want none", store.updated)
	}
}

func TestHandle_BadJSONDrops(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	p := newProcessor(t, store, loadBlacklist(t))

	if d := p.Handle(context.Background(), []byte("{not json")); d != queue.Drop {
		t.Errorf("Handle = %v, want Drop", d)
	}
	if len(store.inserted)+len(store.updated) != 0 {
		t.Error("store written for undecodable payload")
	}
}

func TestHandle_MissingFieldDrops(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	p := newProcessor(t, store, loadBlacklist(t))

	body := `{"url":"http://a.onion","page_title":null,"page_content":null,"meta_tags":[]}`
	if d := p.Handle(context.Background(), []byte(body)); d != queue.Drop {
		t.Errorf("Handle = %v, want Drop for missing links field", d)
	}
}

func TestHandle_NullFieldsAreAccepted(t *testing.T) {
	t.Parallel()
	store := newFakeStore("http://a.onion")
	p := newProcessor(t, store, loadBlacklist(t))

	body := `{"url":"http://a.onion","page_title":null,"page_content":null,"meta_tags":null,"links":[]}`
	if d := p.Handle(context.Background(), []byte(body)); d != queue.Ack {
		t.Fatalf("Handle = %v, want Ack", d)
	}
	r := store.updated["http://a.onion"]
	if r.PageTitle != nil || r.PageContent != nil {
		t.Errorf("null fields not stored as absent: %+v", r)
	}
}

func TestHandle_BlacklistedURLIsSilentlyDropped(t *testing.T) {
	t.Parallel()
	store := newFakeStore("http://bad.onion")
	p := newProcessor(t, store, loadBlacklist(t, "http://bad.onion"))

	body := `{"url":"http://bad.onion","page_title":"B","page_content":"x","meta_tags":[],"links":["http://y.onion/"]}`
	if d := p.Handle(context.Background(), []byte(body)); d != queue.Ack {
		t.Fatalf("Handle = %v, want Ack", d)
	}
	if len(store.updated)+len(store.inserted)+len(store.placeholders) != 0 {
		t.Error("blacklisted result caused store writes")
	}
}

func TestHandle_BlacklistedLinkIsSkipped(t *testing.T) {
	t.Parallel()
	store := newFakeStore("http://a.onion")
	p := newProcessor(t, store, loadBlacklist(t, "http://bad.onion/"))

	body := `{"url":"http://a.onion","page_title":"A","page_content":"x","meta_tags":[],` +
		`"links":["http://bad.onion/","http://ok.onion/"]}`
	if d := p.Handle(context.Background(), []byte(body)); d != queue.Ack {
		t.Fatalf("Handle = %v, want Ack", d)
	}
	if len(store.placeholders) != 1 || store.placeholders[0].url != "http://ok.onion/" {
		t.Errorf("placeholders = %v, want only the non-blacklisted link", store.placeholders)
	}
}

func TestHandle_QuotedLinksAreStripped(t *testing.T) {
	t.Parallel()
	store := newFakeStore("http://a.onion")
	p := newProcessor(t, store, loadBlacklist(t))

	body := `{"url":"http://a.onion","page_title":"A","page_content":"x","meta_tags":[],` +
		`"links":["\"http://q.onion/\""]}`
	if d := p.Handle(context.Background(), []byte(body)); d != queue.Ack {
		t.Fatalf("Handle = %v, want Ack", d)
	}
	if len(store.placeholders) != 1 || store.placeholders[0].url != "http://q.onion/" {
		t.Errorf("placeholders = %v, want the quote-stripped link", store.placeholders)
	}
}

func TestHandle_SaveFailureStillAcks(t *testing.T) {
	t.Parallel()
	store := newFakeStore("http://a.onion")
	store.updateErr = errors.New("connection reset")
	p := newProcessor(t, store, loadBlacklist(t))

	if d := p.Handle(context.Background(), []byte(resultBody)); d != queue.Ack {
		t.Errorf("Handle = %v, want Ack on save failure", d)
	}
	if len(store.placeholders) != 0 {
		t.Error("links discovered despite failed save")
	}
}

func TestHandle_PlaceholderFailureIsSkipped(t *testing.T) {
	t.Parallel()
	store := newFakeStore("http://a.onion")
	store.placeholderErr = errors.New("duplicate key")
	p := newProcessor(t, store, loadBlacklist(t))

	// The message still acks; the link is re-offered on the next scrape of
	// its source.
	if d := p.Handle(context.Background(), []byte(resultBody)); d != queue.Ack {
		t.Errorf("Handle = %v, want Ack", d)
	}
}

func TestHandle_DuplicateLinkInsertedOnce(t *testing.T) {
	t.Parallel()
	store := newFakeStore("http://a.onion")
	p := newProcessor(t, store, loadBlacklist(t))

	body := `{"url":"http://a.onion","page_title":"A","page_content":"x","meta_tags":[],` +
		`"links":["http://x.onion/","http://x.onion/"]}`
	if d := p.Handle(context.Background(), []byte(body)); d != queue.Ack {
		t.Fatalf("Handle = %v, want Ack", d)
	}
	if len(store.placeholders) != 1 {
		t.Errorf("placeholders = %v, want a single insert", store.placeholders)
	}
}
