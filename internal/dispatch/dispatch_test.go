package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/fingerprint"
	"feedwatch/internal/telegram"
	"feedwatch/internal/testutil"
)

type sentMessage struct {
	Chat string
	Text string
}

type fakeSender struct {
	sent []sentMessage
	// fail maps chat IDs to the error returned for them.
	fail map[string]error
}

func (f *fakeSender) Send(_ context.Context, chatID, text string, _ telegram.SendOptions) error {
	if err := f.fail[chatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{Chat: chatID, Text: text})
	return nil
}

func testDispatcher(s *fakeSender, chats ...string) *Dispatcher {
	return &Dispatcher{
		Sender: s,
		Chats:  chats,
		Sleep:  func(time.Duration) {},
	}
}

func at(h int) time.Time {
	return time.Date(2025, time.March, 1, h, 0, 0, 0, time.UTC)
}

func TestDispatchChronologicalOrder(t *testing.T) {
	t.Parallel()

	sender := new(fakeSender)
	d := testDispatcher(sender, "42")

	sent := d.Dispatch(context.Background(), []Notification{
		{Fingerprint: "b", Text: "T2", Published: at(2)},
		{Fingerprint: "a", Text: "T1", Published: at(1)},
		{Fingerprint: "c", Text: "T3", Published: at(3)},
	})

	testutil.AssertEqual(t, sent, 3)
	testutil.AssertEqual(t, sender.sent, []sentMessage{
		{Chat: "42", Text: "T1"},
		{Chat: "42", Text: "T2"},
		{Chat: "42", Text: "T3"},
	})
}

func TestDispatchNoTimestampSortsFirst(t *testing.T) {
	t.Parallel()

	sender := new(fakeSender)
	d := testDispatcher(sender, "42")

	d.Dispatch(context.Background(), []Notification{
		{Fingerprint: "a", Text: "timed", Published: at(1)},
		{Fingerprint: "b", Text: "undated"},
	})

	testutil.AssertEqual(t, sender.sent, []sentMessage{
		{Chat: "42", Text: "undated"},
		{Chat: "42", Text: "timed"},
	})
}

func TestDispatchFanOut(t *testing.T) {
	t.Parallel()

	sender := new(fakeSender)
	d := testDispatcher(sender, "1", "2")

	sent := d.Dispatch(context.Background(), []Notification{
		{Fingerprint: "a", Text: "to all"},
		{Fingerprint: "b", Text: "filtered", Chats: []string{"2"}},
	})

	testutil.AssertEqual(t, sent, 2)
	testutil.AssertEqual(t, sender.sent, []sentMessage{
		{Chat: "1", Text: "to all"},
		{Chat: "2", Text: "to all"},
		{Chat: "2", Text: "filtered"},
	})
}

func TestDispatchPartialFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		fail: map[string]error{"1": &telegram.Error{Kind: telegram.RateLimited, Description: "too fast"}},
	}
	d := testDispatcher(sender, "1", "2")

	sent := d.Dispatch(context.Background(), []Notification{
		{Fingerprint: "a", Text: "first", Published: at(1)},
		{Fingerprint: "b", Text: "second", Published: at(2)},
	})

	// Both notifications still reach chat 2.
	testutil.AssertEqual(t, sent, 2)
	testutil.AssertEqual(t, sender.sent, []sentMessage{
		{Chat: "2", Text: "first"},
		{Chat: "2", Text: "second"},
	})
}

func TestDispatchAllChatsFail(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fail: map[string]error{"1": errors.New("down")}}
	d := testDispatcher(sender, "1")

	sent := d.Dispatch(context.Background(), []Notification{{Fingerprint: "a", Text: "x"}})
	testutil.AssertEqual(t, sent, 0)
}

func TestDispatchPacing(t *testing.T) {
	t.Parallel()

	sender := new(fakeSender)
	var waits []time.Duration
	d := &Dispatcher{
		Sender: sender,
		Chats:  []string{"42"},
		Sleep:  func(d time.Duration) { waits = append(waits, d) },
	}

	d.Dispatch(context.Background(), []Notification{
		{Fingerprint: "a", Text: "article", Kind: fingerprint.KindRSS},
		{Fingerprint: "b", Text: "post", Kind: fingerprint.KindInstagram},
	})

	testutil.AssertEqual(t, waits, []time.Duration{pace, socialPace})
}

func TestRenderVariants(t *testing.T) {
	t.Parallel()

	published := time.Date(2025, time.March, 1, 12, 30, 0, 0, time.UTC)

	cases := map[string]struct {
		src  *config.Source
		want string
	}{
		"article": {
			src: &config.Source{Name: "Example News", Emoji: "📢", Kind: fingerprint.KindRSS},
			want: "📢 <b>Example News</b>\n\n" +
				"📰 Big &amp; important news\n\n" +
				"🔗 https://example.com/a\n" +
				"📅 01/03/2025 12:30",
		},
		"instagram": {
			src: &config.Source{Name: "Instagram - example", Emoji: "📸", Kind: fingerprint.KindInstagram},
			want: "📸 <b>Instagram - example</b>\n\n" +
				"📸 New Instagram post\n" +
				"📝 Big &amp; important news\n\n" +
				"🔗 https://example.com/a\n" +
				"📅 01/03/2025 12:30",
		},
		"twitter": {
			src: &config.Source{Name: "X", Kind: fingerprint.KindTwitter},
			want: "<b>X</b>\n\n" +
				"🐦 New tweet\n" +
				"📝 Big &amp; important news\n\n" +
				"🔗 https://example.com/a\n" +
				"📅 01/03/2025 12:30",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Render(tc.src, "Big & important news", "https://example.com/a", published)
			testutil.AssertEqual(t, got, tc.want)
		})
	}
}

func TestRenderNoDate(t *testing.T) {
	t.Parallel()

	src := &config.Source{Name: "N", Kind: fingerprint.KindRSS}
	got := Render(src, "title", "https://example.com", time.Time{})
	if strings.Contains(got, "📅") {
		t.Fatalf("message %q has a date line for an undated item", got)
	}
}
