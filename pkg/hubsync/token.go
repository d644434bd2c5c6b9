package hubsync

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/sgl-project/ome-loop/pkg/constants"
)

// ErrMissingToken is returned by every operation when no token is available.
var ErrMissingToken = errors.New("HF_TOKEN is required for all HF Hub operations")

// ResolveToken returns HF_TOKEN, else the trimmed contents of
// <root>/secrets/hf_token. An empty result is not an error here.
func ResolveToken(root string) (string, error) {
	if tok := strings.TrimSpace(os.Getenv(constants.HFTokenEnvVarKey)); tok != "" {
		return tok, nil
	}

	data, err := os.ReadFile(filepath.Join(root, constants.HFTokenFilePath))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "reading token file")
	}
	return strings.TrimSpace(string(data)), nil
}
