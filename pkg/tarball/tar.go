// Package tarball writes gzip-compressed tar archives of directory trees.
package tarball

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Source is one tree to archive. Entries are stored as
// <Arcname>/<path relative to Path>; Arcname defaults to the base name of Path.
type Source struct {
	Path    string
	Arcname string
}

// Options controls what goes into the archive.
type Options struct {
	// Excludes drops every file whose absolute path contains one of these
	// substrings.
	Excludes []string
	// IncludeDirs also records directory entries (and the root itself).
	IncludeDirs bool
}

// Sources turns plain paths into Sources archived under their base names.
func Sources(paths ...string) []Source {
	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		out = append(out, Source{Path: p})
	}
	return out
}

// TarGz archives sources into outputFilename and returns the number of
// regular files written. Missing sources are skipped.
func TarGz(sources []Source, outputFilename string, opts Options) (int, error) {
	if err := os.MkdirAll(filepath.Dir(outputFilename), 0o755); err != nil {
		return 0, fmt.Errorf("error creating output directory: %v", err)
	}
	absOut, err := filepath.Abs(outputFilename)
	if err != nil {
		return 0, err
	}

	outFile, err := os.Create(outputFilename)
	if err != nil {
		return 0, fmt.Errorf("error creating output file: %v", err)
	}
	defer outFile.Close()

	gz := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gz)

	count := 0
	for _, src := range sources {
		n, err := addTree(tw, src, absOut, opts)
		count += n
		if err != nil {
			return count, err
		}
	}

	if err := tw.Close(); err != nil {
		return count, err
	}
	if err := gz.Close(); err != nil {
		return count, err
	}
	return count, outFile.Close()
}

func excluded(p string, excludes []string) bool {
	for _, ex := range excludes {
		if ex != "" && strings.Contains(p, ex) {
			return true
		}
	}
	return false
}

func addTree(tw *tar.Writer, src Source, absOut string, opts Options) (int, error) {
	root, err := filepath.Abs(src.Path)
	if err != nil {
		return 0, err
	}
	if _, err := os.Lstat(root); os.IsNotExist(err) {
		return 0, nil
	}
	arcRoot := src.Arcname
	if arcRoot == "" {
		arcRoot = filepath.Base(root)
	}

	count := 0
	err = filepath.WalkDir(root, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if filePath == absOut {
			return nil
		}
		if d.IsDir() && excluded(filePath+string(filepath.Separator), opts.Excludes) {
			return filepath.SkipDir
		}
		if !d.IsDir() && excluded(filePath, opts.Excludes) {
			return nil
		}
		if d.IsDir() && !opts.IncludeDirs {
			return nil
		}

		relPath, err := filepath.Rel(root, filePath)
		if err != nil {
			return err
		}
		name := path.Join(arcRoot, filepath.ToSlash(relPath))

		info, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(filePath); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		fsFile, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer fsFile.Close()

		if _, err := io.Copy(tw, fsFile); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
