package overlay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/danieljhkim/bspstage/internal/fsops"
)

// CopyFile copies the single file src into dst. When dst is an existing
// directory the file keeps its basename inside it, otherwise dst names the
// copy. Permission bits and modification time are preserved.
func (c *Composer) CopyFile(src, dst string) (string, error) {
	target, err := c.intoDir(src, dst)
	if err != nil {
		return "", err
	}

	c.logger.Info().Str("source", src).Str("dest", target).Msg("Copying file")
	if c.dryRun {
		return target, nil
	}
	return target, c.fs.CopyFile(src, target)
}

// Move renames src to dst. A rename across filesystems falls back to copying
// the tree (files, directories and symlinks) and removing src. When dst is an
// existing directory src is moved into it.
func (c *Composer) Move(src, dst string) (string, error) {
	if _, err := c.fs.Lstat(src); err != nil {
		return "", fsops.Classify("move", src, err)
	}

	target, err := c.intoDir(src, dst)
	if err != nil {
		return "", err
	}

	c.logger.Info().Str("source", src).Str("dest", target).Msg("Moving")
	if c.dryRun {
		return target, nil
	}

	err = c.fs.Rename(src, target)
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return "", err
	}

	c.logger.Debug().Str("source", src).Msg("Rename crosses filesystems, copying")
	if err := c.copyTree(src, target); err != nil {
		return "", err
	}
	if err := c.fs.RemoveAll(src); err != nil {
		return "", fsops.Classify("remove", src, err)
	}
	return target, nil
}

// copyTree recreates src at dst without following symlinks.
func (c *Composer) copyTree(src, dst string) error {
	return c.fs.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fsops.Classify("move", path, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := c.fs.Readlink(path)
			if err != nil {
				return fsops.Classify("readlink", path, err)
			}
			return c.fs.Symlink(link, target)
		case info.IsDir():
			return c.fs.MkdirAll(target, info.Mode().Perm())
		default:
			return c.fs.CopyFile(path, target)
		}
	})
}

// RemoveTree removes path and everything below it. An absent path is fine.
func (c *Composer) RemoveTree(path string) error {
	c.logger.Info().Str("path", path).Msg("Removing tree")
	if c.dryRun {
		return nil
	}
	return c.fs.RemoveAll(path)
}

// ResolveOne resolves pattern to exactly one path.
func (c *Composer) ResolveOne(pattern string) (string, error) {
	matches, err := c.fs.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("%w: pattern %q matched %d paths, want exactly 1", fsops.ErrAmbiguousMatch, pattern, len(matches))
	}
	return matches[0], nil
}

// FindDir walks root for the single directory named name.
func (c *Composer) FindDir(root, name string) (string, error) {
	return c.find(root, name, true)
}

// FindFile walks root for the single non-directory named name.
func (c *Composer) FindFile(root, name string) (string, error) {
	return c.find(root, name, false)
}

func (c *Composer) find(root, name string, wantDir bool) (string, error) {
	kind := "file"
	if wantDir {
		kind = "directory"
	}

	if _, err := c.fs.Stat(root); err != nil {
		return "", fsops.Classify("search", root, err)
	}

	var found []string
	err := c.fs.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fsops.Classify("search", path, err)
		}
		if path == root {
			return nil
		}
		if info.Name() == name && info.IsDir() == wantDir {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no %s named %q under %s", fsops.ErrMissingPath, kind, name, root)
	case 1:
		c.logger.Debug().Str("name", name).Str("path", found[0]).Msgf("Found %s", kind)
		return found[0], nil
	default:
		sort.Strings(found)
		return "", fmt.Errorf("%w: %d %ss named %q under %s: %s",
			fsops.ErrAmbiguousMatch, len(found), kind, name, root, strings.Join(found, ", "))
	}
}

// WriteManifest writes the file name into dir listing, one per line, the
// directory's top-level non-hidden entries, then name itself, then extra.
// A previous manifest is not listed twice.
func (c *Composer) WriteManifest(dir, name string, extra ...string) (string, error) {
	if err := c.fs.ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("manifest name: %w", err)
	}

	matches, err := c.fs.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return "", err
	}

	entries := make([]string, 0, len(matches)+1+len(extra))
	for _, m := range matches {
		if base := filepath.Base(m); base != name {
			entries = append(entries, base)
		}
	}
	sort.Strings(entries)
	entries = append(entries, name)
	entries = append(entries, extra...)

	path := filepath.Join(dir, name)
	c.logger.Info().Str("path", path).Int("entries", len(entries)).Msg("Writing manifest")
	if c.dryRun {
		return path, nil
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	if err := c.fs.AtomicWrite(path, []byte(b.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// intoDir returns dst/base(src) when dst is a directory, else dst.
func (c *Composer) intoDir(src, dst string) (string, error) {
	info, err := c.fs.Stat(dst)
	if err == nil && info.IsDir() {
		return filepath.Join(dst, filepath.Base(src)), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return "", fsops.Classify("stat", dst, err)
	}
	return dst, nil
}
