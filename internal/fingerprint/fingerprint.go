// Package fingerprint derives short stable identity strings for feed items.
//
// A fingerprint identifies the logical item, not its exact representation:
// benign reformatting of the title or tracking junk in the URL must not change
// it. Social sources served through proxy gateways are the noisy case — the
// same post resurfaces with different titles and mirror hosts, so for them the
// canonical post ID embedded in the URL is preferred over any text hashing.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"unicode"
)

// Kind describes what kind of feed an item came from.
type Kind string

// Known feed kinds. KindRSS is the generic case; the rest are social kinds
// served through proxy gateways and require the noisy-input handling.
const (
	KindRSS       Kind = "rss"
	KindInstagram Kind = "instagram"
	KindTwitter   Kind = "twitter"
	KindYouTube   Kind = "youtube"
	KindReddit    Kind = "reddit"
)

// Social reports whether k is a social kind.
func (k Kind) Social() bool { return k != KindRSS && k != "" }

// Fingerprint tags.
const (
	TagSocial  = "social"
	TagGeneric = "generic"
	TagRaw     = "raw"
)

// Tag classifies a fingerprint by its prefix. Social fingerprints are "s:",
// raw-URL fallbacks are "r:", everything else is generic.
func Tag(fp string) string {
	switch {
	case strings.HasPrefix(fp, "s:"):
		return TagSocial
	case strings.HasPrefix(fp, "r:"):
		return TagRaw
	default:
		return TagGeneric
	}
}

const maxSocialTitle = 120 // runes kept from a social title before hashing

// Generate returns the fingerprint for a feed item. It is deterministic and
// never fails: if anything goes wrong during normalization, the fingerprint
// degrades to a hash of the raw URL.
func Generate(title, rawURL string, kind Kind) (fp string) {
	defer func() {
		if recover() != nil {
			fp = rawFallback(rawURL)
		}
	}()

	if kind.Social() {
		if id := postID(rawURL, kind); id != "" {
			return "s:" + id
		}
		normTitle := normalizeSocialTitle(title)
		normURL, ok := normalizeURL(rawURL)
		if !ok {
			return rawFallback(rawURL)
		}
		sum := sha256.Sum256([]byte(normTitle + "\n" + normURL))
		return fmt.Sprintf("s:%x", sum[:8])
	}

	normURL, ok := normalizeURL(rawURL)
	if !ok {
		return rawFallback(rawURL)
	}
	h := fnv.New64a()
	h.Write([]byte(normalizeGenericTitle(title)))
	h.Write([]byte("\n"))
	h.Write([]byte(normURL))
	return fmt.Sprintf("%016x", h.Sum64())
}

func rawFallback(rawURL string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.TrimSpace(rawURL)))
	return fmt.Sprintf("r:%016x", h.Sum64())
}

// Path markers that precede a canonical post ID.
var postIDMarkers = map[Kind][]string{
	KindInstagram: {"p", "reel", "reels", "tv"},
	KindTwitter:   {"status", "statuses"},
	KindYouTube:   {"shorts", "live", "v"},
	KindReddit:    {"comments"},
}

// postID extracts the canonical post identifier from a social URL, or returns
// an empty string if there is none.
func postID(rawURL string, kind Kind) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}

	// YouTube watch URLs keep the ID in the query string.
	if kind == KindYouTube {
		if id := u.Query().Get("v"); id != "" {
			return id
		}
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segs {
		for _, marker := range postIDMarkers[kind] {
			if seg == marker && i+1 < len(segs) && segs[i+1] != "" {
				return segs[i+1]
			}
		}
	}
	return ""
}

// Query parameters that carry no identity: trackers, session and
// cache-busting junk.
var droppedParams = map[string]bool{
	"fbclid":    true,
	"gclid":     true,
	"igshid":    true,
	"igsh":      true,
	"ref":       true,
	"ref_src":   true,
	"ref_url":   true,
	"s":         true,
	"t":         true,
	"cb":        true,
	"_":         true,
	"ts":        true,
	"feature":   true,
	"sessionid": true,
	"sid":       true,
	"phpsessid": true,
}

func dropParam(key string) bool {
	return droppedParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_")
}

// normalizeURL strips tracking parameters and the fragment, and lowercases
// the host. Reports ok=false if the URL can't be parsed.
func normalizeURL(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)

	q := u.Query()
	for key := range q {
		if dropParam(key) {
			q.Del(key)
		}
	}
	// url.Values.Encode sorts keys, which keeps the result deterministic.
	u.RawQuery = q.Encode()

	return u.String(), true
}

// normalizeSocialTitle lowercases the title, strips punctuation and emoji,
// collapses whitespace and bounds the length. Social gateways love to decorate
// the same post differently on every poll.
func normalizeSocialTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	s := strings.Join(fields, " ")
	runes := []rune(s)
	if len(runes) > maxSocialTitle {
		s = string(runes[:maxSocialTitle])
	}
	return s
}

// normalizeGenericTitle strips non-word characters and collapses whitespace.
// Unlike the social variant it preserves case and length: generic feeds have
// low duplicate risk, so less aggressive normalization is enough.
func normalizeGenericTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
