package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/snapshot"
)

type snapshotRequest struct {
	// Path is a file or SQLite location relative to the snapshot
	// directory, or a pathstore: key. Empty uses the configured snapshot
	// path.
	Path string `json:"path"`
}

// resolveSnapshotPath confines a client-supplied location to dir.
func resolveSnapshotPath(dir, path string) (string, error) {
	if strings.HasPrefix(path, snapshot.PathstorePrefix) {
		return path, nil
	}
	if !filepath.IsLocal(path) {
		return "", apperr.Configf("path", "must be relative to the snapshot directory, got %q", path)
	}
	return filepath.Join(dir, path), nil
}

func (s *Server) snapshotPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req snapshotRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeErr(w, r, err)
			return "", false
		}
	}
	if req.Path == "" {
		return s.cfg.SnapshotPath, true
	}
	path, err := resolveSnapshotPath(s.cfg.SnapshotDir, req.Path)
	if err != nil {
		s.writeErr(w, r, err)
		return "", false
	}
	return path, true
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	path, ok := s.snapshotPath(w, r)
	if !ok {
		return
	}
	if err := s.orchestrator.Persist(r.Context(), path); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	path, ok := s.snapshotPath(w, r)
	if !ok {
		return
	}
	info, err := s.orchestrator.Restore(r.Context(), path)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "tree": info})
}
