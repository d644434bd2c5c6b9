package afero

import (
	"github.com/spf13/afero"
	"go.uber.org/fx"
)

// Module makes available both standard spf13 afero.Fs
// and this package's extension (+ symlink methods), backed by the OS.
var Module fx.Option = fx.Provide(
	NewOsFs,
	func(fs Fs) afero.Fs { return fs },
)
