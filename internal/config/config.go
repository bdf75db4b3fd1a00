// Package config loads the feedwatch configuration.
//
// The configuration is a Starlark file, typically called sources.star, that
// defines the monitored sources with the source builtin, the chats to notify
// and the known gateway mirror instances:
//
//	gateways = [
//	    "https://rsshub.app",
//	    "https://rsshub.ktachibana.party",
//	]
//
//	chats = ["-1001234567890"]
//
//	sources = [
//	    source(
//	        name = "Example News",
//	        emoji = "📰",
//	        url = "https://example.com/feed.xml",
//	    ),
//	    source(
//	        name = "Instagram - example",
//	        emoji = "📸",
//	        kind = "instagram",
//	        url = "https://rsshub.app/instagram/user/example",
//	        backup_urls = ["https://rss.shab.fun/instagram/user/example"],
//	    ),
//	]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	"feedwatch/internal/fingerprint"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Source describes one feed to monitor. It is immutable for the duration of
// a run.
type Source struct {
	// Name is the symbolic name used in message attribution.
	Name string
	// Emoji is an optional display label prepended to messages.
	Emoji string
	// Kind selects recency cutoffs, fingerprinting and message rendering.
	Kind fingerprint.Kind
	// URL is the primary feed URL.
	URL string
	// BackupURLs are probed in order when the primary is unreachable.
	BackupURLs []string
	// Chats optionally restricts delivery to a subset of the configured chats.
	// Empty means all of them.
	Chats []string
}

// Config is the full parsed configuration.
type Config struct {
	// Sources are the feeds to monitor, in declared order.
	Sources []*Source
	// Chats are the destination chat IDs.
	Chats []string
	// Gateways are alternate gateway instance prefixes used for failover.
	Gateways []string
}

func (s *Source) String() string        { return fmt.Sprintf("<source url=%q>", s.URL) }
func (s *Source) Type() string          { return "source" }
func (s *Source) Freeze()               {} // immutable
func (s *Source) Truth() starlark.Bool  { return starlark.Bool(s.URL != "") }
func (s *Source) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }

var kinds = []fingerprint.Kind{
	fingerprint.KindRSS,
	fingerprint.KindInstagram,
	fingerprint.KindTwitter,
	fingerprint.KindYouTube,
	fingerprint.KindReddit,
}

func sourceBuiltin(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, errors.New("source: unexpected positional arguments")
	}
	var (
		s           = &Source{Kind: fingerprint.KindRSS}
		kind        string
		backupURLs  *starlark.List
		sourceChats *starlark.List
	)
	if err := starlark.UnpackArgs("source", args, kwargs,
		"name", &s.Name,
		"url", &s.URL,
		"kind?", &kind,
		"emoji?", &s.Emoji,
		"backup_urls?", &backupURLs,
		"chats?", &sourceChats,
	); err != nil {
		return nil, err
	}
	if kind != "" {
		s.Kind = fingerprint.Kind(kind)
		if !slices.Contains(kinds, s.Kind) {
			return nil, fmt.Errorf("source %q: unknown kind %q", s.Name, kind)
		}
	}
	var err error
	if s.BackupURLs, err = stringList(backupURLs); err != nil {
		return nil, fmt.Errorf("source %q: backup_urls: %v", s.Name, err)
	}
	if s.Chats, err = stringList(sourceChats); err != nil {
		return nil, fmt.Errorf("source %q: chats: %v", s.Name, err)
	}
	return s, nil
}

func stringList(l *starlark.List) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	var out []string
	for elem := range l.Elements() {
		s, ok := starlark.AsString(elem)
		if !ok {
			return nil, fmt.Errorf("want a string, got %s", elem.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

// Parse evaluates the Starlark configuration src. The name is used in error
// messages; print statements from the config go to logf.
func Parse(name, src string, logf func(string, ...any)) (*Config, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { logf("%s", msg) },
		},
		name,
		src,
		starlark.StringDict{
			"source": starlark.NewBuiltin("source", sourceBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	cfg := new(Config)

	sourcesList, ok := globals["sources"].(*starlark.List)
	if !ok {
		return nil, errors.New("sources must be defined and be a list")
	}
	for elem := range sourcesList.Elements() {
		src, ok := elem.(*Source)
		if !ok {
			return nil, fmt.Errorf("sources must contain only source values, got %s", elem.Type())
		}
		if _, err := url.Parse(src.URL); err != nil {
			return nil, fmt.Errorf("invalid URL %q of source %q", src.URL, src.Name)
		}
		cfg.Sources = append(cfg.Sources, src)
	}

	if chats, ok := globals["chats"]; ok {
		l, ok := chats.(*starlark.List)
		if !ok {
			return nil, errors.New("chats must be a list")
		}
		if cfg.Chats, err = stringList(l); err != nil {
			return nil, fmt.Errorf("chats: %v", err)
		}
	}

	if gateways, ok := globals["gateways"]; ok {
		l, ok := gateways.(*starlark.List)
		if !ok {
			return nil, errors.New("gateways must be a list")
		}
		if cfg.Gateways, err = stringList(l); err != nil {
			return nil, fmt.Errorf("gateways: %v", err)
		}
	}

	return cfg, nil
}
