package access

import (
	"context"
	"fmt"

	"github.com/flemzord/relaybot/internal/fsutil"
)

// Persister stores full State snapshots.
//
// Load returns ErrNoState when nothing has been saved yet. Any other error
// means the backing data could not be read or decoded. Save must replace the
// previous snapshot atomically.
type Persister interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

// FilePersister keeps the state as one JSON document on disk.
type FilePersister struct {
	Path string
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

// Load implements Persister.
func (p *FilePersister) Load(_ context.Context) (*State, error) {
	st := newState()
	ok, err := fsutil.ReadJSON(p.Path, st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoState
	}
	return st, nil
}

// Save implements Persister.
func (p *FilePersister) Save(_ context.Context, s *State) error {
	if err := fsutil.WriteJSONAtomic(p.Path, s); err != nil {
		return fmt.Errorf("saving state to %s: %w", p.Path, err)
	}
	return nil
}
