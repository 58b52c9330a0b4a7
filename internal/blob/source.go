// Package blob implements BlobSource: uniform fetching of byte content from
// either the local filesystem or an S3-compatible object store, following
// storage.S3Client's interface-over-SDK-client pattern.
package blob

import (
	"context"
	"errors"

	"front.evalgo.org/internal/manifest"
)

// ErrSourceUnavailable is returned for I/O or remote errors unrelated to the
// blob simply not existing.
var ErrSourceUnavailable = errors.New("blob source unavailable")

// ErrNotFound is returned when the referenced blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Source fetches byte blobs by reference. Implementations do not cache:
// callers that need fresh bytes must call Fetch again.
type Source interface {
	Fetch(ctx context.Context, ref manifest.BlobRef) ([]byte, error)
}

// Multi dispatches to a filesystem or S3 backend depending on the BlobRef's
// kind, so callers can hold a single Source regardless of where any given
// reference points.
type Multi struct {
	FS *FilesystemSource
	S3 *S3Source
}

// NewMulti builds a Multi from the two concrete backends. Either may be nil
// if the manifest never references that kind of location; Fetch on a nil
// backend's kind returns ErrSourceUnavailable.
func NewMulti(fs *FilesystemSource, s3 *S3Source) *Multi {
	return &Multi{FS: fs, S3: s3}
}

func (m *Multi) Fetch(ctx context.Context, ref manifest.BlobRef) ([]byte, error) {
	switch ref.Kind {
	case manifest.BlobFilesystem:
		if m.FS == nil {
			return nil, ErrSourceUnavailable
		}
		return m.FS.Fetch(ctx, ref)
	case manifest.BlobS3:
		if m.S3 == nil {
			return nil, ErrSourceUnavailable
		}
		return m.S3.Fetch(ctx, ref)
	default:
		return nil, ErrSourceUnavailable
	}
}
