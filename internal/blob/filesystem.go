package blob

import (
	"context"
	"errors"
	"fmt"
	"os"

	"front.evalgo.org/internal/manifest"
)

// FilesystemSource fetches blobs from the local filesystem, optionally
// rooted under a base directory.
type FilesystemSource struct {
	Root string
}

func NewFilesystemSource(root string) *FilesystemSource {
	return &FilesystemSource{Root: root}
}

func (f *FilesystemSource) resolve(path string) string {
	if f.Root == "" {
		return path
	}
	return f.Root + string(os.PathSeparator) + path
}

func (f *FilesystemSource) Fetch(_ context.Context, ref manifest.BlobRef) ([]byte, error) {
	if ref.Kind != manifest.BlobFilesystem {
		return nil, fmt.Errorf("%w: not a filesystem ref", ErrSourceUnavailable)
	}

	data, err := os.ReadFile(f.resolve(ref.Path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, ref.Path, err)
	}
	return data, nil
}
