// Package resolve picks a reachable URL for a configured source.
//
// Gateway-served feeds are flaky: public mirror instances come and go, get
// rate limited or block entire networks. The resolver probes the primary URL,
// then the declared backups, then equivalent URLs derived against every other
// configured gateway instance, and settles for the first one that answers.
// It never fails — when nothing is reachable it hands back the primary URL
// and lets the fetch produce the per-source error.
package resolve

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"feedwatch/internal/config"
	"feedwatch/internal/request"
)

// Resolver resolves source URLs using reachability probes.
type Resolver struct {
	// Gateways are the alternate gateway instance prefixes, in preference
	// order.
	Gateways []string
	// HTTPClient is the client used for probes. If nil, request.DefaultClient
	// is used. Its timeout bounds each individual probe.
	HTTPClient *http.Client
	// Logger is used for debug output. If nil, probes are silent.
	Logger *slog.Logger
}

// Resolve returns a best-effort URL to poll for src. It never fails: if no
// candidate is reachable, the primary URL is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, src *config.Source) string {
	if r.reachable(ctx, src.URL) {
		return src.URL
	}

	for _, backup := range src.BackupURLs {
		r.log(ctx, "probing backup URL", "source", src.Name, "url", backup)
		if r.reachable(ctx, backup) {
			return backup
		}
	}

	for _, candidate := range r.gatewayCandidates(src) {
		r.log(ctx, "probing gateway mirror", "source", src.Name, "url", candidate)
		if r.reachable(ctx, candidate) {
			return candidate
		}
	}

	r.log(ctx, "no reachable URL, falling back to primary", "source", src.Name, "url", src.URL)
	return src.URL
}

// gatewayCandidates derives equivalent URLs against each configured gateway
// instance for sources whose primary or backup URLs pass through a known
// instance. The feed path is preserved, only the instance prefix changes.
func (r *Resolver) gatewayCandidates(src *config.Source) []string {
	urls := append([]string{src.URL}, src.BackupURLs...)

	var path string
	for _, u := range urls {
		for _, gw := range r.Gateways {
			if rest, ok := strings.CutPrefix(u, strings.TrimSuffix(gw, "/")+"/"); ok {
				path = rest
				break
			}
		}
		if path != "" {
			break
		}
	}
	if path == "" {
		return nil
	}

	var candidates []string
	for _, gw := range r.Gateways {
		candidate := strings.TrimSuffix(gw, "/") + "/" + path
		// Skip URLs we already tried.
		tried := false
		for _, u := range urls {
			if u == candidate {
				tried = true
				break
			}
		}
		if !tried {
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

// reachable reports whether u answers a HEAD request with status 200. Probe
// errors are swallowed: an unreachable URL and a broken one look the same to
// the caller.
func (r *Resolver) reachable(ctx context.Context, u string) bool {
	if _, err := url.ParseRequestURI(u); err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", request.UserAgent())

	httpc := r.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return false
	}
	res.Body.Close()
	return res.StatusCode == http.StatusOK
}

func (r *Resolver) log(ctx context.Context, msg string, args ...any) {
	if r.Logger != nil {
		r.Logger.DebugContext(ctx, msg, args...)
	}
}
