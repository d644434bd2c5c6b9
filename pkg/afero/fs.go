// Package afero wraps spf13's afero with the symlink and atomic-write helpers
// the loop stages need, so the run layout can be exercised against an
// in-memory filesystem in tests.
package afero

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	cp "github.com/otiai10/copy"
	"github.com/spf13/afero"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

type File interface {
	afero.File
}

// Fs is an afero.Fs that can create, read and lstat symbolic links.
type Fs interface {
	afero.Fs
	afero.Symlinker
}

func TempDir(fs Fs, dir, prefix string) (name string, err error) {
	return afero.TempDir(fs, dir, prefix)
}

func Walk(fs Fs, root string, walkFn filepath.WalkFunc) error {
	return afero.Walk(fs, root, walkFn)
}

func WriteFile(fs Fs, filename string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(fs, filename, data, perm)
}

func ReadFile(fs Fs, filename string) ([]byte, error) {
	return afero.ReadFile(fs, filename)
}

func ReadDir(fs Fs, dirname string) ([]os.FileInfo, error) {
	return afero.ReadDir(fs, dirname)
}

// Exists returns true and nil error if the given path for a file or directory
// exists.
func Exists(fs afero.Fs, path string) (bool, error) {
	return afero.Exists(fs, path)
}

// IsDir reports whether path exists and is a directory. Symlinks are followed.
func IsDir(fs afero.Fs, path string) bool {
	ok, err := afero.IsDir(fs, path)
	return err == nil && ok
}

// IsSymlink reports whether name is a symbolic link.
func IsSymlink(fs Fs, name string) bool {
	info, lstatCalled, err := fs.LstatIfPossible(name)
	if err != nil || !lstatCalled {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// AtomicWriteFile writes data to destPath through a sibling temp file and a
// rename, skipping the write entirely when the contents are unchanged.
func AtomicWriteFile(
	fs afero.Fs,
	destPath string,
	data []byte,
	fileMode os.FileMode,
	log logging.Interface,
) error {
	oldContents, err := afero.ReadFile(fs, destPath)
	if err == nil && bytes.Equal(oldContents, data) {
		return nil
	}

	destDir, destFile := filepath.Split(destPath)
	if destDir == "" {
		destDir = "."
	}
	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	log.WithField("destPath", destPath).
		Debug("Writing file...")

	if isRenameBugged(fs) {
		if err := afero.WriteFile(fs, destPath, data, fileMode); err != nil {
			return fmt.Errorf("error writing %s: %w", destPath, err)
		}
		return nil
	}

	tmp, err := afero.TempFile(fs, destDir, "."+destFile+"~")
	if err != nil {
		return fmt.Errorf("creating tmp file for atomic write: %w", err)
	}
	_ = tmp.Close()
	defer func() { _ = fs.Remove(tmp.Name()) }()

	if err := afero.WriteFile(fs, tmp.Name(), data, fileMode); err != nil {
		return fmt.Errorf("error writing into a temp file: %w", err)
	}

	return fs.Rename(tmp.Name(), destPath)
}

// HACK: MemMapFs renames don't carry over parent directory listings reliably.
// It is only used in tests, so plain writes are fine there.
func isRenameBugged(fs afero.Fs) bool {
	switch fs.(type) {
	case *MemMapFs, *afero.MemMapFs:
		return true
	default:
		return false
	}
}

// ReplaceSymlink points link at target, removing whatever link was there
// before. When the filesystem refuses symlinks the target directory is copied
// in its place.
func ReplaceSymlink(fs Fs, target, link string, log logging.Interface) error {
	if _, _, err := fs.LstatIfPossible(link); err == nil {
		if err := fs.Remove(link); err != nil {
			return fmt.Errorf("removing previous %s: %w", link, err)
		}
	}

	err := fs.SymlinkIfPossible(target, link)
	if err == nil {
		return nil
	}

	if _, ok := fs.(*OsFs); !ok {
		return fmt.Errorf("linking %s -> %s: %w", link, target, err)
	}

	log.WithError(err).
		WithField("link", link).
		Warn("Symlink unsupported, copying directory instead")
	if err := cp.Copy(target, link); err != nil {
		return fmt.Errorf("copying %s to %s: %w", target, link, err)
	}
	return nil
}
