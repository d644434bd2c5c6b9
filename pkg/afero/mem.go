package afero

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// MemMapFs is an in-memory Fs. afero.MemMapFs has no notion of links, so
// they are kept in a side table and resolved on the last path element only.
type MemMapFs struct {
	*afero.MemMapFs

	sync.Mutex
	links map[string]string
}

type linkInfo struct {
	name string
}

func (l linkInfo) Name() string       { return l.name }
func (l linkInfo) Size() int64        { return 0 }
func (l linkInfo) Mode() os.FileMode  { return os.ModeSymlink | 0o777 }
func (l linkInfo) ModTime() time.Time { return time.Time{} }
func (l linkInfo) IsDir() bool        { return false }
func (l linkInfo) Sys() interface{}   { return nil }

func (m *MemMapFs) target(name string) (string, bool) {
	m.Lock()
	defer m.Unlock()

	t, ok := m.links[filepath.Clean(name)]
	if !ok {
		return "", false
	}
	if !filepath.IsAbs(t) {
		t = filepath.Join(filepath.Dir(name), t)
	}
	return t, true
}

func (m *MemMapFs) resolve(name string) string {
	if t, ok := m.target(name); ok {
		return t
	}
	return name
}

func (m *MemMapFs) SymlinkIfPossible(oldname, newname string) error {
	if _, _, err := m.LstatIfPossible(newname); err == nil {
		return &os.LinkError{Op: "symlink", Old: oldname, New: newname, Err: os.ErrExist}
	}

	m.Lock()
	defer m.Unlock()
	m.links[filepath.Clean(newname)] = oldname
	return nil
}

func (m *MemMapFs) ReadlinkIfPossible(name string) (string, error) {
	m.Lock()
	defer m.Unlock()

	t, ok := m.links[filepath.Clean(name)]
	if !ok {
		return "", &os.PathError{Op: "readlink", Path: name, Err: os.ErrInvalid}
	}
	return t, nil
}

func (m *MemMapFs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	if _, ok := m.target(name); ok {
		return linkInfo{name: filepath.Base(name)}, true, nil
	}
	info, err := m.MemMapFs.Stat(name)
	return info, true, err
}

func (m *MemMapFs) Stat(name string) (os.FileInfo, error) {
	return m.MemMapFs.Stat(m.resolve(name))
}

func (m *MemMapFs) Open(name string) (afero.File, error) {
	return m.MemMapFs.Open(m.resolve(name))
}

func (m *MemMapFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return m.MemMapFs.OpenFile(m.resolve(name), flag, perm)
}

func (m *MemMapFs) Remove(name string) error {
	m.Lock()
	clean := filepath.Clean(name)
	if _, ok := m.links[clean]; ok {
		delete(m.links, clean)
		m.Unlock()
		return nil
	}
	m.Unlock()

	return m.MemMapFs.Remove(name)
}

var _ Fs = (*MemMapFs)(nil)
var _ afero.Fs = (*MemMapFs)(nil)

func NewMemMapFs() Fs {
	return &MemMapFs{
		MemMapFs: afero.NewMemMapFs().(*afero.MemMapFs),
		links:    make(map[string]string),
	}
}
