package impl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// localFileSource reads document bytes from disk. Relative paths resolve
// under the configured base directory.
type localFileSource struct {
	baseDir string
}

func NewLocalFileSource(baseDir string) services.FileSource {
	return &localFileSource{baseDir: baseDir}
}

func (s *localFileSource) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := path
	if !filepath.IsAbs(path) && s.baseDir != "" {
		full = filepath.Join(s.baseDir, path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.NewNotFoundError("document file", path)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}
