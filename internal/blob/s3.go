package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"front.evalgo.org/internal/manifest"
)

// s3API is the narrow slice of the SDK client S3Source actually needs,
// following the same interface-over-client pattern used elsewhere so a
// fake can stand in for tests without touching real AWS credentials.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source fetches blobs from an S3-compatible object store.
type S3Source struct {
	client s3API
}

// NewS3Source builds an S3Source from the default AWS credential and region
// chain (environment, shared config, IAM role).
func NewS3Source(ctx context.Context) (*S3Source, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}
	return &S3Source{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3SourceWithClient builds an S3Source around an already-configured
// client, for callers that need a custom endpoint (e.g. a MinIO-compatible
// store) or for tests.
func NewS3SourceWithClient(client s3API) *S3Source {
	return &S3Source{client: client}
}

func (s *S3Source) Fetch(ctx context.Context, ref manifest.BlobRef) ([]byte, error) {
	if ref.Kind != manifest.BlobS3 {
		return nil, fmt.Errorf("%w: not an s3 ref", ErrSourceUnavailable)
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.String())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, ref.String(), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, ref.String(), err)
	}
	return data, nil
}
