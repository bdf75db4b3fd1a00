package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"feedwatch/internal/api/gist"
	"feedwatch/internal/cli"
	"feedwatch/internal/config"
	"feedwatch/internal/dispatch"
	"feedwatch/internal/resolve"
	"feedwatch/internal/scan"
	"feedwatch/internal/seen"
	"feedwatch/internal/telegram"
)

// Seen-set pruning policy: snapshots untouched for longer than retention keep
// only their social fingerprints plus the last maxGeneric others.
const (
	retention  = 30 * 24 * time.Hour
	maxGeneric = 200
)

const defaultFailThreshold = 0.5

func main() { cli.Main(new(app)) }

type app struct {
	init    sync.Once
	initErr error

	// flags
	dry        bool
	verbose    bool
	configPath string

	// configuration from environment
	tgToken       string
	ghToken       string
	gistID        string
	databaseURL   string
	stateDir      string
	errorChatID   string
	failThreshold float64

	// initialized by doInit
	httpc     *http.Client
	slogLevel *slog.LevelVar
	slog      *slog.Logger
	scrubber  *strings.Replacer
	sender    *telegram.Sender
	store     *seen.Store
	closers   []io.Closer

	cfg *config.Config

	// test hooks
	now   func() time.Time
	sleep func(time.Duration)
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: log would-be notifications, but don't send them or save state.")
	fs.BoolVar(&a.verbose, "verbose", false, "Enable debug logging.")
	fs.StringVar(&a.configPath, "config", "sources.star", "Path to the configuration file.")
}

func (a *app) Run(ctx context.Context, env *cli.Env) error {
	// Load configuration from environment variables.
	a.tgToken = cmp.Or(a.tgToken, env.Getenv("TELEGRAM_TOKEN"))
	a.ghToken = cmp.Or(a.ghToken, env.Getenv("GITHUB_TOKEN"))
	a.gistID = cmp.Or(a.gistID, env.Getenv("GIST_ID"))
	a.databaseURL = cmp.Or(a.databaseURL, env.Getenv("DATABASE_URL"))
	a.errorChatID = cmp.Or(a.errorChatID, env.Getenv("ERROR_CHAT_ID"))
	a.stateDir = cmp.Or(a.stateDir, env.Getenv("STATE_DIRECTORY"))
	if a.stateDir == "" {
		xdgStateHome := env.Getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		a.stateDir = filepath.Join(xdgStateHome, "feedwatch")
	}
	if err := os.MkdirAll(a.stateDir, 0o700); err != nil {
		return err
	}
	if a.failThreshold == 0 {
		a.failThreshold = parseThreshold(env.Getenv("FAIL_THRESHOLD"))
	}

	a.init.Do(func() { a.initErr = a.doInit(ctx, env) })
	if a.initErr != nil {
		return a.initErr
	}

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	switch command := env.Args[0]; command {
	case "run":
		defer a.close()
		if err := a.run(ctx); err != nil {
			return a.errNotify(ctx, err)
		}
		return nil
	case "sources":
		return a.listSources(env.Stdout)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

func (a *app) doInit(ctx context.Context, env *cli.Env) error {
	if a.slogLevel == nil {
		a.slogLevel = new(slog.LevelVar)
	}
	if a.verbose || a.dry {
		a.slogLevel.Set(slog.LevelDebug)
	}
	if a.slog == nil {
		a.slog = slog.New(slog.NewTextHandler(env.Stderr, &slog.HandlerOptions{
			Level: a.slogLevel,
		}))
	}

	var scrub []string
	for _, token := range []string{a.tgToken, a.ghToken} {
		if token != "" {
			scrub = append(scrub, token, "[EXPUNGED]")
		}
	}
	if len(scrub) > 0 {
		a.scrubber = strings.NewReplacer(scrub...)
	}

	a.sender = &telegram.Sender{
		Token:      a.tgToken,
		HTTPClient: a.httpc,
		Sleep:      a.sleep,
	}

	var remote seen.Remote
	switch {
	case a.databaseURL != "":
		pg, err := seen.OpenPostgres(ctx, a.databaseURL, "feedwatch")
		if err != nil {
			return fmt.Errorf("connecting to Postgres: %w", err)
		}
		a.closers = append(a.closers, pg)
		remote = pg
	case a.gistID != "" && a.ghToken != "":
		remote = &seen.GistRemote{
			Client: &gist.Client{
				Token:      a.ghToken,
				HTTPClient: a.httpc,
				Scrubber:   a.scrubber,
			},
			GistID: a.gistID,
		}
	}

	a.store = &seen.Store{
		Path:       filepath.Join(a.stateDir, "seen.json"),
		Remote:     remote,
		Retention:  retention,
		MaxGeneric: maxGeneric,
		Logger:     a.slog,
		Now:        a.now,
	}

	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.slog.Warn("closing failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	b, err := os.ReadFile(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := config.Parse(filepath.Base(a.configPath), string(b), func(format string, args ...any) {
		a.slog.Info(fmt.Sprintf(format, args...))
	})
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Chats) == 0 {
		return nil, fmt.Errorf("config %s declares no chats", a.configPath)
	}
	a.cfg = cfg
	return cfg, nil
}

// run is the main feedwatch workflow: scan every source, deliver what's new,
// persist the seen set. Per-source failures don't abort the run; the run
// itself fails only when their share exceeds the failure threshold.
func (a *app) run(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	seenSet := a.store.Load(ctx)

	scanner := &scan.Scanner{
		Resolver: &resolve.Resolver{
			Gateways:   cfg.Gateways,
			HTTPClient: a.httpc,
			Logger:     a.slog,
		},
		HTTPClient: a.httpc,
		Logger:     a.slog,
		Now:        a.now,
	}

	var (
		notifications []dispatch.Notification
		failed        int
	)
	for _, src := range cfg.Sources {
		ns, err := scanner.Scan(ctx, src, seenSet)
		if err != nil {
			a.slog.Warn("scanning failed", "source", src.Name, "error", err)
			failed++
			continue
		}
		notifications = append(notifications, ns...)
	}

	if a.dry {
		for _, n := range notifications {
			a.slog.Info("would send",
				"source", n.Source,
				"item", n.Fingerprint,
				"published", n.Published,
			)
		}
		a.slog.Info("dry run finished", "new", len(notifications), "failed_sources", failed)
		return a.checkFailures(failed, len(cfg.Sources))
	}

	dispatcher := &dispatch.Dispatcher{
		Sender: a.sender,
		Chats:  cfg.Chats,
		Logger: a.slog,
		Sleep:  a.sleep,
	}
	sent := dispatcher.Dispatch(ctx, notifications)

	// Emitted fingerprints stay marked even when their delivery failed, so
	// the snapshot is saved regardless of how dispatch went. A save failure
	// doesn't fail the run: the delivered notifications are already out, and
	// the worst case is re-emitting recent items next time.
	if err := a.store.Save(ctx, seenSet); err != nil {
		a.slog.Warn("saving seen set failed", "error", err)
	}

	a.slog.Info("run finished",
		"sent", sent,
		"new", len(notifications),
		"failed_sources", failed,
		"sources", len(cfg.Sources),
	)
	return a.checkFailures(failed, len(cfg.Sources))
}

func (a *app) checkFailures(failed, total int) error {
	if total == 0 || failed == 0 {
		return nil
	}
	if ratio := float64(failed) / float64(total); ratio > a.failThreshold {
		return fmt.Errorf("%d of %d sources failed", failed, total)
	}
	return nil
}

// errNotify reports a top-level run failure to the error chat, best-effort,
// and hands the original error back.
func (a *app) errNotify(ctx context.Context, err error) error {
	chat := a.errorChatID
	if chat == "" && a.cfg != nil && len(a.cfg.Chats) > 0 {
		chat = a.cfg.Chats[0]
	}
	if chat == "" || a.tgToken == "" {
		return err
	}

	text := "❌ <b>feedwatch</b> run failed:\n\n<code>" + html.EscapeString(err.Error()) + "</code>"
	if sendErr := a.sender.Send(ctx, chat, text, telegram.SendOptions{DisableLinkPreview: true}); sendErr != nil {
		a.slog.Warn("error notification failed", "error", sendErr)
	}
	return err
}

func (a *app) listSources(w io.Writer) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tURL\tBACKUPS")
	for _, src := range cfg.Sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", src.Name, src.Kind, src.URL, len(src.BackupURLs))
	}
	return tw.Flush()
}

func parseThreshold(s string) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultFailThreshold
}
