package blacklist

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"drksrch/internal/links"
)

// Blacklist is the set of MD5 digests of URLs the pipeline must never store.
// A URL matches when either its full form or its stripped form hashes into
// the set. The set is loaded once at startup and never changes.
type Blacklist struct {
	hashes map[string]struct{}
}

// Load reads a file of whitespace-separated hex MD5 digests. An unreadable or
// empty file is an error: the pipeline must not run without a blacklist, and
// callers are expected to exit 0 so the supervisor does not restart them.
func Load(path string) (*Blacklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blacklist file: %w", err)
	}

	hashes := make(map[string]struct{})
	for _, field := range strings.Fields(string(data)) {
		hashes[strings.ToLower(field)] = struct{}{}
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("blacklist file %s is empty", path)
	}

	return &Blacklist{hashes: hashes}, nil
}

// Contains reports whether the URL is forbidden, checking both the full URL
// and its stripped form.
func (b *Blacklist) Contains(url string) bool {
	if _, ok := b.hashes[hash(url)]; ok {
		return true
	}
	_, ok := b.hashes[hash(links.Strip(url))]
	return ok
}

// Len returns the number of loaded digests.
func (b *Blacklist) Len() int {
	return len(b.hashes)
}

func hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
