package pathx

import (
	"path/filepath"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/assert"
)

// FromCwd resolves path against the working directory.
// An empty path stays empty so optional files can be left unset.
func FromCwd(path string) string {
	if path == "" {
		return ""
	}

	connectedPath, err := filepath.Abs(filepath.FromSlash(path))
	assert.NoError(
		err, "not finding a path should never happen",
		assert.AssertData{"path": path},
	)

	return connectedPath
}
