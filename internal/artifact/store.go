// Package artifact persists synthesized audio and generated images under a
// per-session directory and derives the URL they are served from.
package artifact

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

var extensions = map[domain.ArtifactKind]string{
	domain.ArtifactKindAudio: ".mp3",
	domain.ArtifactKindImage: ".png",
}

// Store writes artifacts to {root}/{kind}/{session}/{id}.{ext} and exposes
// them at {urlPrefix}/{kind}/{session}/{id}.{ext}.
type Store struct {
	root      string
	urlPrefix string
	now       func() time.Time
}

// NewStore creates a store rooted at root.
func NewStore(root, urlPrefix string) *Store {
	return &Store{
		root:      root,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
		now:       time.Now,
	}
}

// Save writes data as a new artifact of the given kind for sessionID.
// Failures wrap domain.ErrIO.
func (s *Store) Save(sessionID string, kind domain.ArtifactKind, data []byte) (*domain.Artifact, error) {
	ext, ok := extensions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown artifact kind %q", domain.ErrIO, kind)
	}
	if !validSegment(sessionID) {
		return nil, fmt.Errorf("%w: invalid session id %q", domain.ErrIO, sessionID)
	}

	id := uuid.New().String()
	dir := filepath.Join(s.root, string(kind), sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	p := filepath.Join(dir, id+ext)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}

	return &domain.Artifact{
		ArtifactID: id,
		SessionID:  sessionID,
		Kind:       kind,
		Path:       p,
		URL:        path.Join(s.urlPrefix, string(kind), sessionID, id+ext),
		CreatedAt:  s.now(),
	}, nil
}

// Sweep removes artifact files last modified more than maxAge ago and
// returns how many were removed. Empty session directories are left in place.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0

	for kind := range extensions {
		base := filepath.Join(s.root, string(kind))
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(p); err != nil {
					return err
				}
				removed++
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("%w: sweep %s: %v", domain.ErrIO, kind, err)
		}
	}

	if removed > 0 {
		slog.Info("artifact sweep finished", slog.Int("removed", removed))
	}
	return removed, nil
}

// validSegment reports whether id can be used as a single path element.
func validSegment(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}
