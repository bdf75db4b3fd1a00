package seen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"feedwatch/internal/testutil"
	"feedwatch/internal/util/set"
)

type fakeRemote struct {
	payload []byte
	getErr  error
	putErr  error
	puts    int
}

func (f *fakeRemote) Get(context.Context) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.payload == nil {
		return nil, ErrNotFound
	}
	return f.payload, nil
}

func (f *fakeRemote) Put(_ context.Context, payload []byte) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.payload = payload
	return nil
}

func testStore(t *testing.T) *Store {
	return &Store{Path: filepath.Join(t.TempDir(), "seen.json")}
}

func TestLoadFirstRun(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	seen := s.Load(context.Background())
	testutil.AssertEqual(t, seen.Len(), 0)
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	if err := os.WriteFile(s.Path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	seen := s.Load(context.Background())
	testutil.AssertEqual(t, seen.Len(), 0)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testStore(t)

	seen := set.NewFromSlice("s:abc", "0011223344556677", "r:8899aabbccddeeff")
	if err := s.Save(ctx, seen); err != nil {
		t.Fatal(err)
	}

	loaded := s.Load(ctx)
	testutil.AssertEqual(t, loaded.ToSortedSlice(), seen.ToSortedSlice())

	// Saving the unmodified result and loading again yields the same set.
	if err := s.Save(ctx, loaded); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.Load(ctx).ToSortedSlice(), seen.ToSortedSlice())
}

func TestSaveCountsByTag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testStore(t)

	if err := s.Save(ctx, set.NewFromSlice("s:abc", "s:def", "0011223344556677", "r:8899aabbccddeeff")); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatal(err)
	}
	snap := testutil.UnmarshalJSON[*Snapshot](t, b)
	testutil.AssertEqual(t, snap.Count, 4)
	testutil.AssertEqual(t, snap.ByTag, map[string]int{"social": 2, "generic": 1, "raw": 1})
	if snap.LastUpdated.IsZero() {
		t.Fatal("snapshot has no last_updated timestamp")
	}
}

func TestRemoteIsAuthoritative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testStore(t)
	if err := s.Save(ctx, set.NewFromSlice("local-only")); err != nil {
		t.Fatal(err)
	}

	remote := new(fakeRemote)
	if err := (&Store{Path: filepath.Join(t.TempDir(), "seen.json"), Remote: remote}).Save(ctx, set.NewFromSlice("s:remote")); err != nil {
		t.Fatal(err)
	}

	s.Remote = remote
	loaded := s.Load(ctx)
	testutil.AssertEqual(t, loaded.ToSortedSlice(), []string{"s:remote"})
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testStore(t)
	if err := s.Save(ctx, set.NewFromSlice("local")); err != nil {
		t.Fatal(err)
	}

	s.Remote = &fakeRemote{getErr: errors.New("remote is down")}
	loaded := s.Load(ctx)
	testutil.AssertEqual(t, loaded.ToSortedSlice(), []string{"local"})
}

func TestRemoteSaveFailureDoesNotFailSave(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	remote := &fakeRemote{putErr: errors.New("remote is down")}
	s.Remote = remote

	if err := s.Save(context.Background(), set.NewFromSlice("a")); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, remote.puts, 1)

	// The local copy was still written.
	if _, err := os.Stat(s.Path); err != nil {
		t.Fatal(err)
	}
}

func TestPruning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()

	s := testStore(t)
	s.Retention = 30 * 24 * time.Hour
	s.MaxGeneric = 2

	// Snapshot written 40 days ago.
	s.Now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
	if err := s.Save(ctx, set.NewFromSlice("s:keep1", "s:keep2", "aaa", "bbb", "ccc", "ddd")); err != nil {
		t.Fatal(err)
	}

	s.Now = func() time.Time { return now }
	loaded := s.Load(ctx)

	// All social entries survive, generic ones are truncated to MaxGeneric.
	testutil.AssertEqual(t, loaded.Has("s:keep1"), true)
	testutil.AssertEqual(t, loaded.Has("s:keep2"), true)
	testutil.AssertEqual(t, loaded.Len(), 4)
}

func TestPruningDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()

	s := testStore(t)
	s.MaxGeneric = 1 // no Retention, so this must not kick in

	s.Now = func() time.Time { return now.Add(-365 * 24 * time.Hour) }
	if err := s.Save(ctx, set.NewFromSlice("aaa", "bbb", "ccc")); err != nil {
		t.Fatal(err)
	}

	s.Now = func() time.Time { return now }
	testutil.AssertEqual(t, s.Load(ctx).Len(), 3)
}

func TestPruningFreshSnapshotUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testStore(t)
	s.Retention = 30 * 24 * time.Hour
	s.MaxGeneric = 1

	if err := s.Save(ctx, set.NewFromSlice("aaa", "bbb", "ccc")); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.Load(ctx).Len(), 3)
}
