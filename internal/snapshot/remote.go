package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/pathstore"
	"github.com/dgallion1/raptree/internal/tree"
)

// RemoteStore keeps a snapshot as one pathstore value.
type RemoteStore struct {
	client *pathstore.Client
	key    string
}

func (s *RemoteStore) Location() string { return PathstorePrefix + s.key }

func (s *RemoteStore) Save(ctx context.Context, t *tree.Tree) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	err = s.client.Put(ctx, s.key, pathstore.PutRequest{
		Value:      json.RawMessage(data),
		MemoryType: "snapshot",
		Source:     "raptree",
	})
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func (s *RemoteStore) Load(ctx context.Context) (*tree.Tree, error) {
	e, err := s.client.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if e == nil {
		return nil, apperr.Configf("path", "no snapshot at %s", s.Location())
	}
	return Decode(s.Location(), e.Value)
}
