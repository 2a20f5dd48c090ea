// Package links holds the URL normalization shared by the scraper's link
// extraction and the blacklist's hash matching. Both sides must agree on what
// a "stripped" URL looks like, so the logic lives in one place.
package links

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

const normalizationFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveFragment

// StripQuotes removes the quote characters that sloppy markup leaves around
// href values.
func StripQuotes(s string) string {
	return strings.NewReplacer(`"`, "", `'`, "", "`", "").Replace(s)
}

// IsOnion reports whether the URL's host sits under the .onion TLD.
func IsOnion(u *url.URL) bool {
	return strings.HasSuffix(u.Hostname(), ".onion")
}

// FLD returns the registrable domain of an onion URL: the last two labels of
// the hostname ("<name>.onion"). Returns "" when the host is not an onion.
func FLD(u *url.URL) string {
	host := u.Hostname()
	if !strings.HasSuffix(host, ".onion") {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}
	return labels[len(labels)-2] + "." + labels[len(labels)-1]
}

// Normalize resolves one extracted href against the page it was found on and
// returns the canonical absolute URL. The second return is false when the
// link must be discarded: empty hrefs, intra-page anchors, non-HTTP schemes
// and anything that does not land on a .onion domain.
func Normalize(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(StripQuotes(href))
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") {
		return "", false
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if !IsOnion(resolved) {
		return "", false
	}

	return purell.NormalizeURL(resolved, normalizationFlags), true
}

// Strip reduces a URL to the form the blacklist hashes alongside the full
// string: quote characters removed, scheme, userinfo and fragment dropped.
func Strip(raw string) string {
	raw = strings.TrimSpace(StripQuotes(raw))

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	stripped := purell.NormalizeURL(u, normalizationFlags)
	if i := strings.Index(stripped, "://"); i >= 0 {
		stripped = stripped[i+len("://"):]
	}
	if i := strings.Index(stripped, "@"); i >= 0 {
		stripped = stripped[i+1:]
	}
	return stripped
}
