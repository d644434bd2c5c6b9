package afero

import (
	"github.com/spf13/afero"
)

// OsFs is the real filesystem. Symlink support comes from afero.OsFs.
type OsFs struct {
	*afero.OsFs
}

var _ Fs = (*OsFs)(nil)
var _ afero.Fs = (*OsFs)(nil)

func NewOsFs() Fs {
	return &OsFs{
		OsFs: afero.NewOsFs().(*afero.OsFs),
	}
}
