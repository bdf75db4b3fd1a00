// Package dispatch orders candidate notifications chronologically and sends
// them to the configured chats with pacing between sends.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"time"

	"feedwatch/internal/fingerprint"
	"feedwatch/internal/telegram"
)

// Pacing delays between sends. Social gateways tolerate less.
const (
	pace       = 1 * time.Second
	socialPace = 2 * time.Second
)

// Notification is one candidate message.
type Notification struct {
	// Fingerprint is the item's dedup identity.
	Fingerprint string
	// Text is the rendered message.
	Text string
	// Source is the symbolic name of the originating source.
	Source string
	// Kind is the originating source's kind.
	Kind fingerprint.Kind
	// Published is the item's publish time; zero when the feed didn't have one.
	Published time.Time
	// Chats optionally restricts delivery to a subset of the configured chats.
	Chats []string
}

// Sender delivers one message to one chat.
type Sender interface {
	Send(ctx context.Context, chatID, text string, opts telegram.SendOptions) error
}

// Dispatcher fans notifications out to chats.
type Dispatcher struct {
	// Sender is the notification transport.
	Sender Sender
	// Chats are the default destinations for notifications without a chat
	// filter.
	Chats []string
	// Logger is used for delivery diagnostics. If nil, they are discarded.
	Logger *slog.Logger
	// Sleep paces sends; defaults to time.Sleep. Tests replace it.
	Sleep func(time.Duration)
}

// Dispatch sends the notifications in chronological order and reports how
// many of them reached at least one chat.
//
// Items without a publish time sort first: they are treated as the oldest.
// Per-chat failures are logged and don't block the remaining chats or
// notifications, and don't unmark the fingerprint: a failed delivery is
// dropped, not retried on the next run.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications []Notification) (sent int) {
	byTime(notifications)

	sleep := d.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for _, n := range notifications {
		if ctx.Err() != nil {
			d.log().Warn("dispatch interrupted", "remaining", len(notifications)-sent)
			return sent
		}

		chats := n.Chats
		if len(chats) == 0 {
			chats = d.Chats
		}

		delivered := false
		for _, chat := range chats {
			err := d.Sender.Send(ctx, chat, n.Text, telegram.SendOptions{})
			if err != nil {
				d.log().Warn("sending failed",
					"source", n.Source,
					"chat", chat,
					"item", n.Fingerprint,
					"error", err,
				)
			} else {
				delivered = true
			}

			if n.Kind.Social() {
				sleep(socialPace)
			} else {
				sleep(pace)
			}
		}
		if delivered {
			sent++
		}
	}
	return sent
}

// byTime sorts notifications by publish time ascending, in place. The zero
// time naturally sorts first.
func byTime(notifications []Notification) {
	slices.SortStableFunc(notifications, func(a, b Notification) int {
		return a.Published.Compare(b.Published)
	})
}

func (d *Dispatcher) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
