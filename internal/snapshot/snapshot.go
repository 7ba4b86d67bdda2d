// Package snapshot keeps file-level backups taken before a run mutates the
// working tree, so rejected changes can be restored without a VCS.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kory/internal/logging"
)

// copyConcurrency bounds the parallel file copies during Create.
const copyConcurrency = 8

const manifestName = "manifest.json"

// Manifest records what a snapshot contains.
type Manifest struct {
	SessionID string    `json:"sessionId"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
	Workdir   string    `json:"workdir"`
	Paths     []string  `json:"paths"`
}

// RestoreResult reports which files came back and which were absent from the
// snapshot.
type RestoreResult struct {
	Restored []string
	Missing  []string
}

// Store copies files under <root>/<session>/<label>/ preserving relative
// layout.
type Store struct {
	root   string
	logger logging.Logger
}

// New creates a snapshot store rooted at root.
func New(root string) *Store {
	return &Store{root: root, logger: logging.NewComponentLogger("snapshot")}
}

func (s *Store) dir(sessionID, label string) string {
	return filepath.Join(s.root, sessionID, label)
}

// Create copies the listed files from workdir into the snapshot directory and
// writes a manifest. A path of "." snapshots the whole working tree, minus
// .git and the snapshot root itself. Missing files are skipped.
func (s *Store) Create(sessionID, label string, paths []string, workdir string) error {
	files, err := s.collectFiles(workdir, paths)
	if err != nil {
		return fmt.Errorf("collect snapshot files: %w", err)
	}

	dir := s.dir(sessionID, label)
	// A fresh snapshot replaces any previous one under the same label.
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear previous snapshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(copyConcurrency)
	for _, rel := range files {
		g.Go(func() error {
			src := filepath.Join(workdir, rel)
			dst := filepath.Join(dir, rel)
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("snapshot %s: %w", rel, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	manifest := Manifest{
		SessionID: sessionID,
		Label:     label,
		CreatedAt: time.Now().UTC(),
		Workdir:   workdir,
		Paths:     files,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	s.logger.Info("snapshot %s/%s captured %d files", sessionID, label, len(files))
	return nil
}

// Restore overwrites every manifest path in workdir from the snapshot.
func (s *Store) Restore(sessionID, label, workdir string) error {
	manifest, err := s.readManifest(sessionID, label)
	if err != nil {
		return err
	}
	result, err := s.RestoreFiles(sessionID, label, workdir, manifest.Paths)
	if err != nil {
		return err
	}
	if len(result.Missing) > 0 {
		return fmt.Errorf("snapshot %s/%s missing files: %s", sessionID, label, strings.Join(result.Missing, ", "))
	}
	return nil
}

// RestoreFiles restores a subset of the snapshot.
func (s *Store) RestoreFiles(sessionID, label, workdir string, paths []string) (*RestoreResult, error) {
	dir := s.dir(sessionID, label)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("snapshot %s/%s not found", sessionID, label)
	}

	result := &RestoreResult{}
	for _, rel := range paths {
		src := filepath.Join(dir, rel)
		if _, err := os.Stat(src); err != nil {
			result.Missing = append(result.Missing, rel)
			continue
		}
		dst := filepath.Join(workdir, rel)
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("restore %s: %w", rel, err)
		}
		result.Restored = append(result.Restored, rel)
	}
	return result, nil
}

// Manifest returns the manifest for a snapshot, if present.
func (s *Store) Manifest(sessionID, label string) (*Manifest, error) {
	return s.readManifest(sessionID, label)
}

// Prune deletes every snapshot belonging to a session.
func (s *Store) Prune(sessionID string) error {
	return os.RemoveAll(filepath.Join(s.root, sessionID))
}

func (s *Store) readManifest(sessionID, label string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(sessionID, label), manifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest for %s/%s: %w", sessionID, label, err)
	}
	manifest := &Manifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("parse manifest for %s/%s: %w", sessionID, label, err)
	}
	return manifest, nil
}

// collectFiles resolves the requested paths to relative file paths that exist
// under workdir.
func (s *Store) collectFiles(workdir string, paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	add := func(rel string) {
		rel = filepath.ToSlash(rel)
		if !seen[rel] {
			seen[rel] = true
			files = append(files, rel)
		}
	}

	for _, p := range paths {
		if p == "." || p == "" {
			err := filepath.WalkDir(workdir, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				rel, relErr := filepath.Rel(workdir, path)
				if relErr != nil {
					return relErr
				}
				if d.IsDir() {
					if rel == "." {
						return nil
					}
					if d.Name() == ".git" || isUnder(s.root, path) {
						return filepath.SkipDir
					}
					return nil
				}
				add(rel)
				return nil
			})
			if err != nil {
				return nil, err
			}
			continue
		}

		abs := filepath.Join(workdir, p)
		info, err := os.Stat(abs)
		if err != nil {
			// Paths that do not exist yet have nothing to back up.
			continue
		}
		if info.IsDir() {
			err := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					if d.Name() == ".git" {
						return filepath.SkipDir
					}
					return nil
				}
				rel, relErr := filepath.Rel(workdir, path)
				if relErr != nil {
					return relErr
				}
				add(rel)
				return nil
			})
			if err != nil {
				return nil, err
			}
			continue
		}
		add(p)
	}
	return files, nil
}

func isUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
