// Package seen persists the set of fingerprints that were already notified.
//
// The set is stored as a complete JSON snapshot in a local file and,
// optionally, in a remote durable store (a GitHub Gist or a Postgres row)
// behind the [Remote] interface. The remote copy is authoritative on load when
// it is reachable; on save the local copy is always written and the remote
// sync is best-effort. An absent, empty or corrupt snapshot is the expected
// first-run state, not an error.
package seen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"feedwatch/internal/atomicio"
	"feedwatch/internal/fingerprint"
	"feedwatch/internal/util/set"
)

// Snapshot is the persisted record: a timestamp, counts and the full
// fingerprint collection, written as a whole each run.
type Snapshot struct {
	LastUpdated  time.Time      `json:"last_updated"`
	Count        int            `json:"count"`
	ByTag        map[string]int `json:"by_tag,omitempty"`
	Fingerprints []string       `json:"fingerprints"`
}

// ErrNotFound is returned by [Remote.Get] when no snapshot has been stored
// yet.
var ErrNotFound = errors.New("snapshot not found")

// Remote is a durable store holding the snapshot payload under an opaque key.
type Remote interface {
	// Get retrieves the full snapshot payload, or ErrNotFound.
	Get(ctx context.Context) ([]byte, error)
	// Put replaces the full snapshot payload.
	Put(ctx context.Context, payload []byte) error
}

// Store loads and saves the seen set.
type Store struct {
	// Path is the local snapshot file.
	Path string
	// Remote is the optional remote durable store.
	Remote Remote
	// Retention enables age-based pruning: when the loaded snapshot is older
	// than Retention, only social fingerprints are kept in full and the rest
	// is truncated to the last MaxGeneric entries. Zero disables pruning.
	Retention time.Duration
	// MaxGeneric bounds non-social fingerprints kept by pruning.
	MaxGeneric int
	// Logger is used for load/save diagnostics. If nil, they are discarded.
	Logger *slog.Logger
	// Now is time.Now, overridable in tests.
	Now func() time.Time
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Load returns the set of previously notified fingerprints. It never fails:
// unreadable local state and unreachable remotes degrade to whatever copy is
// available, down to the empty set.
func (s *Store) Load(ctx context.Context) set.Set[string] {
	snap := s.loadLocal()

	if s.Remote != nil {
		payload, err := s.Remote.Get(ctx)
		switch {
		case err == nil:
			var remote Snapshot
			if jsonErr := json.Unmarshal(payload, &remote); jsonErr != nil {
				s.log().Warn("corrupt remote snapshot, using local copy", "error", jsonErr)
			} else {
				// Remote is authoritative when present.
				snap = &remote
			}
		case errors.Is(err, ErrNotFound):
			s.log().Debug("no remote snapshot yet")
		default:
			s.log().Warn("remote load failed, using local copy", "error", err)
		}
	}

	s.prune(snap)

	seen := set.New[string](len(snap.Fingerprints))
	seen.AddAll(snap.Fingerprints)
	return seen
}

func (s *Store) loadLocal() *Snapshot {
	snap := new(Snapshot)

	b, err := os.ReadFile(s.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log().Warn("reading local snapshot failed", "path", s.Path, "error", err)
		}
		return snap
	}
	if len(b) == 0 {
		return snap
	}
	if err := json.Unmarshal(b, snap); err != nil {
		s.log().Warn("corrupt local snapshot, starting fresh", "path", s.Path, "error", err)
		return new(Snapshot)
	}
	return snap
}

// prune applies the age-based retention policy in place. Social fingerprints
// are cheap to keep and expensive to resurface, so they are always retained;
// old generic ones are truncated, accepting that a very old item may come back
// as "new" once.
func (s *Store) prune(snap *Snapshot) {
	if s.Retention <= 0 || snap.LastUpdated.IsZero() {
		return
	}
	if s.now().Sub(snap.LastUpdated) < s.Retention {
		return
	}

	var social, other []string
	for _, fp := range snap.Fingerprints {
		if fingerprint.Tag(fp) == fingerprint.TagSocial {
			social = append(social, fp)
		} else {
			other = append(other, fp)
		}
	}
	if len(other) > s.MaxGeneric {
		other = other[len(other)-s.MaxGeneric:]
	}
	pruned := append(social, other...)

	s.log().Info("pruned stale snapshot",
		"age", s.now().Sub(snap.LastUpdated),
		"before", len(snap.Fingerprints),
		"after", len(pruned),
	)
	snap.Fingerprints = pruned
}

// Save persists the full set. The local copy is always written; if a remote
// is configured, the same payload is pushed best-effort and a remote failure
// does not fail the save.
func (s *Store) Save(ctx context.Context, seen set.Set[string]) error {
	snap := &Snapshot{
		LastUpdated:  s.now(),
		Count:        seen.Len(),
		ByTag:        make(map[string]int),
		Fingerprints: seen.ToSortedSlice(),
	}
	for _, fp := range snap.Fingerprints {
		snap.ByTag[fingerprint.Tag(fp)]++
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	if err := atomicio.WriteFile(s.Path, payload, 0o600); err != nil {
		return err
	}

	if s.Remote != nil {
		if err := s.Remote.Put(ctx, payload); err != nil {
			s.log().Warn("remote sync failed", "error", err)
		}
	}
	return nil
}
