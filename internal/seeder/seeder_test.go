package seeder

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
)

type fakeStore struct {
	known     map[string]struct{}
	inserted  []string
	insertErr error
}

func (f *fakeStore) GetAllURLs(_ context.Context) (map[string]struct{}, error) {
	urls := make(map[string]struct{}, len(f.known))
	for u := range f.known {
		urls[u] = struct{}{}
	}
	return urls, nil
}

func (f *fakeStore) InsertPlaceholder(_ context.Context, url, parentURL string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if parentURL != "" {
		return errors.New("seed rows must have no parent")
	}
	f.inserted = append(f.inserted, url)
	return nil
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func emptyBlacklist(t *testing.T) *blacklist.Blacklist {
	t.Helper()
	path := writeFile(t, "blacklist.txt", "00000000000000000000000000000000")
	bl, err := blacklist.Load(path)
	if err != nil {
		t.Fatalf("loading blacklist: %v", err)
	}
	return bl
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeed_InsertsValidOnionURLs(t *testing.T) {
	t.Parallel()
	seeds := writeFile(t, "seeds.txt", `
# directory sites
http://abc.onion/
http://def.onion/start

not-a-url
http://clearnet.example.com/
`)
	store := &fakeStore{known: map[string]struct{}{}}

	n, err := Seed(context.Background(), seeds, store, emptyBlacklist(t), discardLogger())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
	if len(store.inserted) != 2 || store.inserted[0] != "http://abc.onion/" || store.inserted[1] != "http://def.onion/start" {
		t.Errorf("inserted = %v", store.inserted)
	}
}

func TestSeed_SkipsKnownAndBlacklisted(t *testing.T) {
	t.Parallel()
	seeds := writeFile(t, "seeds.txt", "http://known.onion/\nhttp://bad.onion/\nhttp://new.onion/\n")

	sum := md5.Sum([]byte("http://bad.onion/"))
	blPath := writeFile(t, "blacklist.txt", hex.EncodeToString(sum[:]))
	bl, err := blacklist.Load(blPath)
	if err != nil {
		t.Fatalf("loading blacklist: %v", err)
	}

	store := &fakeStore{known: map[string]struct{}{"http://known.onion/": {}}}

	n, err := Seed(context.Background(), seeds, store, bl, discardLogger())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 1 || len(store.inserted) != 1 || store.inserted[0] != "http://new.onion/" {
		t.Errorf("inserted = %v (n=%d), want only the new url", store.inserted, n)
	}
}

func TestSeed_MissingFile(t *testing.T) {
	t.Parallel()
	store := &fakeStore{known: map[string]struct{}{}}
	if _, err := Seed(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), store, emptyBlacklist(t), discardLogger()); err == nil {
		t.Error("Seed succeeded with a missing file")
	}
}

func TestSeed_InsertFailureContinues(t *testing.T) {
	t.Parallel()
	seeds := writeFile(t, "seeds.txt", "http://abc.onion/\n")
	store := &fakeStore{known: map[string]struct{}{}, insertErr: errors.New("connection refused")}

	n, err := Seed(context.Background(), seeds, store, emptyBlacklist(t), discardLogger())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted = %d, want 0", n)
	}
}
