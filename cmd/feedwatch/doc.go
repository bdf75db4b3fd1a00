/*
Feedwatch monitors RSS feeds and social media sources and sends new entries
to Telegram chats.

# Usage

	$ feedwatch [flags...] <command>

Available commands:

  - run: poll every configured source and deliver fresh entries.
  - sources: print a table of the configured sources.

# Environment Variables

The feedwatch program relies on the following environment variables:

  - TELEGRAM_TOKEN: Telegram bot token for accessing the Telegram Bot API.
  - GITHUB_TOKEN: GitHub personal access token, used together with GIST_ID
    for keeping the seen-set snapshot in a GitHub Gist.
  - GIST_ID: GitHub Gist ID where the seen-set snapshot is mirrored.
  - DATABASE_URL: PostgreSQL connection string. When set, the seen-set
    snapshot is mirrored to Postgres instead of a gist.
  - STATE_DIRECTORY: directory for local state (the seen.json snapshot).
    Defaults to $XDG_STATE_HOME/feedwatch.
  - ERROR_CHAT_ID: Telegram chat that receives a message when a run fails.
    Defaults to the first configured chat.
  - FAIL_THRESHOLD: fraction of sources allowed to fail before the run itself
    is reported as failed. Defaults to 0.5.

# Configuration

feedwatch loads its configuration from a Starlark file, by default
sources.star in the current directory (override with the -config flag). The
file defines the monitored sources, the destination chats and the known
gateway mirror instances:

	gateways = [
	    "https://rsshub.app",
	    "https://rsshub.ktachibana.party",
	]

	chats = ["-1001234567890"]

	sources = [
	    source(
	        name = "Example News",
	        emoji = "📰",
	        url = "https://example.com/feed.xml",
	    ),
	    source(
	        name = "Instagram - example",
	        emoji = "📸",
	        kind = "instagram",
	        url = "https://rsshub.app/instagram/user/example",
	        backup_urls = ["https://rss.shab.fun/instagram/user/example"],
	    ),
	]

A source's kind ("rss", "instagram", "twitter", "youtube" or "reddit")
selects how its entries are fingerprinted for deduplication and how the
notification message looks. When a gateway-served source is unreachable the
backup URLs and then every other configured gateway instance are probed for
an equivalent feed.

# State

feedwatch remembers the entries it already delivered in a seen.json snapshot
in STATE_DIRECTORY. When GIST_ID or DATABASE_URL is configured the snapshot
is also mirrored remotely, so reinstalling the service or moving it to
another machine doesn't replay old entries. The remote copy wins on load when
it is reachable; saving to it is best-effort.
*/
package main

import (
	_ "embed"

	"feedwatch/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
