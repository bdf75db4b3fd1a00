package seen

import (
	"context"

	"feedwatch/internal/api/gist"
)

// snapshotFile is the name of the snapshot file inside the gist.
const snapshotFile = "seen.json"

// GistRemote stores the snapshot as a file in a GitHub Gist.
type GistRemote struct {
	Client *gist.Client
	GistID string
}

// Get implements the [Remote] interface.
func (g *GistRemote) Get(ctx context.Context) ([]byte, error) {
	gs, err := g.Client.Get(ctx, g.GistID)
	if err != nil {
		return nil, err
	}
	f, ok := gs.Files[snapshotFile]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(f.Content), nil
}

// Put implements the [Remote] interface.
func (g *GistRemote) Put(ctx context.Context, payload []byte) error {
	_, err := g.Client.Update(ctx, g.GistID, &gist.Gist{
		Files: map[string]gist.File{
			snapshotFile: {Content: string(payload)},
		},
	})
	return err
}
