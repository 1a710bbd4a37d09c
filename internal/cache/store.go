package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	manifestName = "manifest.json"
	dataDir      = "data"
	tmpDir       = ".tmp"
)

// ErrCorrupt marks an entry that exists but cannot be trusted.
var ErrCorrupt = errors.New("cache entry corrupt")

// Manifest describes a stored entry.
type Manifest struct {
	Key            string      `json:"key"`
	Platform       string      `json:"platform"`
	RuntimeVersion string      `json:"runtime_version"`
	Template       string      `json:"template"`
	Paths          []string    `json:"paths"`
	Files          []FileEntry `json:"files"`
	Size           int64       `json:"size"`
	CreatedAt      time.Time   `json:"created_at"`
}

// FileEntry is one stored file, identified by its slash path relative to
// the job directory.
type FileEntry struct {
	Path   string      `json:"path"`
	Mode   fs.FileMode `json:"mode"`
	Size   int64       `json:"size"`
	SHA256 string      `json:"sha256,omitempty"`
	Link   string      `json:"link,omitempty"`
	Dir    bool        `json:"dir,omitempty"`
}

// FileStore keeps entries on disk under <root>/<key[:2]>/<key>/. Entries are
// built in a temp dir and renamed into place; a published entry is never
// modified, only removed.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir is empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, tmpDir), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) entryDir(key string) string {
	return filepath.Join(s.root, key[:2], key)
}

// Lookup returns the manifest of key, ErrCacheMiss when absent, or an error
// wrapping ErrCorrupt when the manifest is unreadable.
func (s *FileStore) Lookup(key string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.entryDir(key), manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	if m.Key != key {
		return nil, fmt.Errorf("%w: manifest key %q", ErrCorrupt, m.Key)
	}
	return &m, nil
}

// Restore copies the entry's files into dst, verifying every digest.
func (s *FileStore) Restore(m *Manifest, dst string) error {
	src := filepath.Join(s.entryDir(m.Key), dataDir)
	for _, p := range m.Paths {
		if err := os.RemoveAll(filepath.Join(dst, filepath.FromSlash(p))); err != nil {
			return fmt.Errorf("clear %s: %w", p, err)
		}
	}
	for _, f := range m.Files {
		if !filepath.IsLocal(filepath.FromSlash(f.Path)) {
			return fmt.Errorf("%w: path %q escapes job dir", ErrCorrupt, f.Path)
		}
		target := filepath.Join(dst, filepath.FromSlash(f.Path))
		switch {
		case f.Dir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case f.Link != "":
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(f.Link, target); err != nil {
				return err
			}
		default:
			sum, err := copyHashed(filepath.Join(src, filepath.FromSlash(f.Path)), target, f.Mode.Perm())
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Path, err)
			}
			if sum != f.SHA256 {
				return fmt.Errorf("%w: %s: digest mismatch", ErrCorrupt, f.Path)
			}
		}
	}
	return nil
}

// Save stores paths below dir as the entry described by m. When another
// writer published the same key first, Save keeps theirs and returns nil.
func (s *FileStore) Save(m *Manifest, dir string) error {
	tmp, err := os.MkdirTemp(filepath.Join(s.root, tmpDir), m.Key[:8]+"-")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	defer os.RemoveAll(tmp)

	m.Files = m.Files[:0]
	m.Size = 0
	for _, p := range m.Paths {
		if !filepath.IsLocal(filepath.FromSlash(p)) {
			return fmt.Errorf("cache path %q escapes job dir", p)
		}
		if err := s.collect(m, dir, p, filepath.Join(tmp, dataDir)); err != nil {
			return err
		}
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	final := s.entryDir(m.Key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("create entry parent: %w", err)
	}
	if _, err := os.Stat(final); err == nil {
		return nil
	}
	if err := os.Rename(tmp, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			return nil
		}
		return fmt.Errorf("publish entry: %w", err)
	}
	return nil
}

func (s *FileStore) collect(m *Manifest, dir, rel, out string) error {
	root := filepath.Join(dir, filepath.FromSlash(rel))
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("collect %s: %w", rel, err)
		}
		r, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := FileEntry{Path: filepath.ToSlash(r), Mode: info.Mode()}
		switch {
		case d.IsDir():
			entry.Dir = true
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entry.Link = link
		case d.Type().IsRegular():
			sum, err := copyHashed(path, filepath.Join(out, r), info.Mode().Perm())
			if err != nil {
				return err
			}
			entry.SHA256 = sum
			entry.Size = info.Size()
			m.Size += info.Size()
		default:
			return nil
		}
		m.Files = append(m.Files, entry)
		return nil
	})
}

// Remove deletes the entry of key.
func (s *FileStore) Remove(key string) error {
	return os.RemoveAll(s.entryDir(key))
}

// Keys lists every published entry key.
func (s *FileStore) Keys() ([]string, error) {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), shard.Name()) {
				keys = append(keys, e.Name())
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func copyHashed(src, dst string, perm fs.FileMode) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
