package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ostanlabs/msrl/internal/markdown"
)

// vaultSource implements search.SourceReader by reading a doc's file
// straight off the vault and applying the same normalization used at index
// time, so excerpt char offsets line up with what was chunked.
type vaultSource struct {
	vaultRoot string
}

func newVaultSource(vaultRoot string) *vaultSource {
	return &vaultSource{vaultRoot: vaultRoot}
}

func (v *vaultSource) ReadDoc(_ context.Context, docURI string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(v.vaultRoot, filepath.FromSlash(docURI)))
	if err != nil {
		return "", err
	}
	return markdown.Normalize(raw), nil
}
