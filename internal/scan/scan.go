// Package scan polls one source and turns its fresh entries into
// notifications.
package scan

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode"

	"feedwatch/internal/config"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/fingerprint"
	"feedwatch/internal/request"
	"feedwatch/internal/resolve"
	"feedwatch/internal/util/set"

	"github.com/mmcdole/gofeed"
)

// Some gateway instances serve an error page to clients that look like bots,
// so feeds are fetched with a desktop browser User-Agent.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	// defaultCutoff bounds how old a generic entry can be and still produce
	// a notification.
	defaultCutoff = 3 * 24 * time.Hour
	// defaultSocialCutoff is wider: gateways often surface social posts days
	// after they were published.
	defaultSocialCutoff = 7 * 24 * time.Hour

	// defaultColdStartThreshold is the seen set size below which a run counts
	// as a first run.
	defaultColdStartThreshold = 5
	// defaultFirstRunLimit caps per-source emissions on a first run so a new
	// deployment doesn't flood the chats with the feed's whole backlog.
	defaultFirstRunLimit = 3

	titleLimit = 100
)

// Scanner polls sources and emits notifications for entries it hasn't seen.
type Scanner struct {
	// Resolver picks the URL to poll. If nil, the source's primary URL is
	// used as is.
	Resolver *resolve.Resolver
	// HTTPClient fetches feeds. If nil, request.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for per-source diagnostics. If nil, they are discarded.
	Logger *slog.Logger
	// Now returns the current time; defaults to time.Now. Tests replace it.
	Now func() time.Time

	// Cutoff and SocialCutoff override the recency cutoffs when positive.
	Cutoff       time.Duration
	SocialCutoff time.Duration
	// ColdStartThreshold and FirstRunLimit override the first-run detection
	// and cap when positive.
	ColdStartThreshold int
	FirstRunLimit      int

	parser *gofeed.Parser
}

// Scan polls src and returns a notification for every fresh entry, most
// recent last. Every returned notification's fingerprint is added to seen
// before Scan returns, so an entry is emitted at most once even if its
// delivery later fails.
func (s *Scanner) Scan(ctx context.Context, src *config.Source, seen set.Set[string]) ([]dispatch.Notification, error) {
	feedURL := src.URL
	if s.Resolver != nil {
		feedURL = s.Resolver.Resolve(ctx, src)
	}

	feed, err := s.fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", src.Name, err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cutoff := s.cutoff(src.Kind)

	coldStart := seen.Len() < cmp.Or(s.ColdStartThreshold, defaultColdStartThreshold)
	limit := cmp.Or(s.FirstRunLimit, defaultFirstRunLimit)

	items := slices.Clone(feed.Items)
	// Most recent first, undated entries last. Items at the top of the feed
	// come first on ties, which preserves the feed's own ordering.
	slices.SortStableFunc(items, func(a, b *gofeed.Item) int {
		return itemTime(b).Compare(itemTime(a))
	})

	var notifications []dispatch.Notification
	for _, item := range items {
		if coldStart && len(notifications) >= limit {
			break
		}

		if item.Link == "" {
			continue
		}
		published := itemTime(item)
		if coldStart && published.IsZero() {
			// On a first run only entries we can order by time are
			// considered.
			continue
		}
		if !published.IsZero() && now().Sub(published) > cutoff {
			continue
		}

		fp := fingerprint.Generate(item.Title, item.Link, src.Kind)
		if !seen.Add(fp) {
			continue
		}

		title := cleanTitle(item.Title)
		notifications = append(notifications, dispatch.Notification{
			Fingerprint: fp,
			Text:        dispatch.Render(src, title, item.Link, published),
			Source:      src.Name,
			Kind:        src.Kind,
			Published:   published,
			Chats:       src.Chats,
		})
	}

	s.log().Debug("scanned source",
		"source", src.Name,
		"url", feedURL,
		"items", len(items),
		"new", len(notifications),
		"cold_start", coldStart,
	)

	// Dispatch wants oldest first.
	slices.Reverse(notifications)
	return notifications, nil
}

func (s *Scanner) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	httpc := s.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: want 200, got %d", feedURL, res.StatusCode)
	}

	if s.parser == nil {
		s.parser = gofeed.NewParser()
	}
	feed, err := s.parser.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", feedURL, err)
	}
	return feed, nil
}

func (s *Scanner) cutoff(kind fingerprint.Kind) time.Duration {
	if kind.Social() {
		if s.SocialCutoff > 0 {
			return s.SocialCutoff
		}
		return defaultSocialCutoff
	}
	if s.Cutoff > 0 {
		return s.Cutoff
	}
	return defaultCutoff
}

// itemTime returns the entry's publish time, falling back to the update time.
// Undated entries get the zero time.
func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// cleanTitle strips characters outside a conservative set that renders fine
// in Telegram messages, collapses whitespace and truncates long titles.
func cleanTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			b.WriteRune(r)
		case strings.ContainsRune(`.,!?;:()'"@#&%+-/`, r):
			b.WriteRune(r)
		}
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")

	runes := []rune(cleaned)
	if len(runes) > titleLimit {
		cleaned = string(runes[:titleLimit]) + "..."
	}
	return cleaned
}

func (s *Scanner) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
