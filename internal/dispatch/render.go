package dispatch

import (
	"fmt"
	"html"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/fingerprint"
)

// Message rendering. One pure render variant per source kind; the kind picks
// the variant, the variant builds the whole message text.

type renderFunc func(src *config.Source, title, link string, published time.Time) string

var renderers = map[fingerprint.Kind]renderFunc{
	fingerprint.KindRSS:       renderArticle,
	fingerprint.KindInstagram: renderKindLine("📸 New Instagram post"),
	fingerprint.KindTwitter:   renderKindLine("🐦 New tweet"),
	fingerprint.KindYouTube:   renderKindLine("📺 New video"),
	fingerprint.KindReddit:    renderKindLine("🤖 New Reddit post"),
}

// Render builds the notification text for one feed item. The markup mode is
// Telegram HTML, so the title is escaped.
func Render(src *config.Source, title, link string, published time.Time) string {
	render, ok := renderers[src.Kind]
	if !ok {
		render = renderArticle
	}
	return render(src, title, link, published)
}

func renderArticle(src *config.Source, title, link string, published time.Time) string {
	return header(src) +
		fmt.Sprintf("📰 %s\n\n🔗 %s", html.EscapeString(title), link) +
		dateLine(published)
}

func renderKindLine(kindLine string) renderFunc {
	return func(src *config.Source, title, link string, published time.Time) string {
		return header(src) +
			fmt.Sprintf("%s\n📝 %s\n\n🔗 %s", kindLine, html.EscapeString(title), link) +
			dateLine(published)
	}
}

func header(src *config.Source) string {
	h := fmt.Sprintf("<b>%s</b>\n\n", html.EscapeString(src.Name))
	if src.Emoji != "" {
		h = src.Emoji + " " + h
	}
	return h
}

func dateLine(published time.Time) string {
	if published.IsZero() {
		return ""
	}
	return "\n📅 " + published.Format("02/01/2006 15:04")
}
