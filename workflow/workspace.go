package workflow

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
)

// jobDirs is the isolated directory layout of one job.
type jobDirs struct {
	root string
	src  string // working directory of every step
	home string
	tmp  string
}

func newJobDirs(workRoot, jobID string) jobDirs {
	root := filepath.Join(workRoot, jobID)
	return jobDirs{
		root: root,
		src:  filepath.Join(root, "src"),
		home: filepath.Join(root, "home"),
		tmp:  filepath.Join(root, "tmp"),
	}
}

// create starts from an empty tree; leftovers of a previous run of the same
// job are removed first.
func (d jobDirs) create() error {
	if err := os.RemoveAll(d.root); err != nil {
		return fmt.Errorf("clear work dir: %w", err)
	}
	for _, p := range []string{d.src, d.home, d.tmp} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
	}
	return nil
}

// copyTree copies src into dst. Entries whose base name is in skipNames
// and directories whose absolute path is in skipDirs are not descended into.
func copyTree(src, dst string, skipNames map[string]bool, skipDirs []string) error {
	root, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel != "." && (skipNames[d.Name()] || (d.IsDir() && slices.Contains(skipDirs, path))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// envList flattens env into a sorted KEY=VALUE list.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}
