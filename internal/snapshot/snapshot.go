// Package snapshot persists trees. Every backend stores the same encoded
// blob, so identical trees produce byte-identical snapshots wherever they
// are written.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/pathstore"
	"github.com/dgallion1/raptree/internal/tree"
)

// formatVersion is bumped on incompatible layout changes.
const formatVersion = 1

// PathstorePrefix selects the remote key/value backend.
const PathstorePrefix = "pathstore:"

// Store saves and loads one tree.
type Store interface {
	Save(ctx context.Context, t *tree.Tree) error
	Load(ctx context.Context) (*tree.Tree, error)
	Location() string
}

// Options carries the dependencies some backends need.
type Options struct {
	Pathstore *pathstore.Client
}

// ForPath picks a backend from the location: "pathstore:<key>" for the
// remote store, *.db / *.sqlite / *.sqlite3 for SQLite (an optional
// "#name" suffix selects the row), anything else a JSON file.
func ForPath(location string, opts Options) (Store, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, apperr.Configf("path", "snapshot location is required")
	}
	if key, ok := strings.CutPrefix(location, PathstorePrefix); ok {
		if key == "" {
			return nil, apperr.Configf("path", "pathstore key is required")
		}
		if opts.Pathstore == nil {
			return nil, apperr.Configf("path", "pathstore is not configured")
		}
		return &RemoteStore{client: opts.Pathstore, key: key}, nil
	}
	path, name, _ := strings.Cut(location, "#")
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		if name == "" {
			name = defaultName
		}
		return &SQLiteStore{path: path, name: name}, nil
	}
	return &FileStore{path: location}, nil
}

type document struct {
	Version      int           `json:"version"`
	NumLayers    int           `json:"num_layers"`
	LeafNodes    []int         `json:"leaf_nodes"`
	LayerToNodes map[int][]int `json:"layer_to_nodes"`
	Nodes        []*tree.Node  `json:"nodes"`
}

// Encode serializes t deterministically.
func Encode(t *tree.Tree) ([]byte, error) {
	if t == nil {
		return nil, apperr.ErrTreeNotInitialized
	}
	doc := document{
		Version:      formatVersion,
		NumLayers:    t.NumLayers,
		LeafNodes:    t.LeafNodes,
		LayerToNodes: t.LayerToNodes,
		Nodes:        t.Nodes(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}
	return data, nil
}

// Decode parses and validates a snapshot read from location.
func Decode(location string, data []byte) (*tree.Tree, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, &apperr.CorruptSnapshotError{Location: location, Reason: "decode", Err: err}
	}
	if doc.Version != formatVersion {
		return nil, &apperr.CorruptSnapshotError{Location: location, Reason: fmt.Sprintf("unsupported version %d", doc.Version)}
	}

	t := &tree.Tree{
		AllNodes:     make(map[int]*tree.Node, len(doc.Nodes)),
		LeafNodes:    doc.LeafNodes,
		LayerToNodes: doc.LayerToNodes,
		NumLayers:    doc.NumLayers,
	}
	if t.LayerToNodes == nil {
		t.LayerToNodes = map[int][]int{}
	}
	for _, n := range doc.Nodes {
		if n == nil {
			return nil, &apperr.CorruptSnapshotError{Location: location, Reason: "null node"}
		}
		if _, dup := t.AllNodes[n.Index]; dup {
			return nil, &apperr.CorruptSnapshotError{Location: location, Reason: fmt.Sprintf("duplicate node %d", n.Index)}
		}
		t.AllNodes[n.Index] = n
	}
	if err := t.Validate(); err != nil {
		return nil, &apperr.CorruptSnapshotError{Location: location, Reason: "invalid structure", Err: err}
	}
	return t, nil
}
