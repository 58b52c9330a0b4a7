package manifest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// BlobRefKind distinguishes the two BlobRef variants the system recognises.
type BlobRefKind int

const (
	BlobFilesystem BlobRefKind = iota
	BlobS3
)

// BlobRef is an abstract pointer to byte content living either on the local
// filesystem or in an S3-compatible object store.
type BlobRef struct {
	Kind   BlobRefKind
	Path   string // set when Kind == BlobFilesystem
	Bucket string // set when Kind == BlobS3
	Key    string // set when Kind == BlobS3
}

func (r BlobRef) String() string {
	switch r.Kind {
	case BlobS3:
		return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Key)
	default:
		return r.Path
	}
}

// ParseBlobRef turns a CLI/manifest location string into a BlobRef. A
// location of the form "s3://bucket/key" becomes a BlobRef{Kind: BlobS3};
// anything else is treated as a filesystem path. An "s3://" location with a
// missing bucket or key is a fatal configuration error.
func ParseBlobRef(location string) (BlobRef, error) {
	const s3Prefix = "s3://"
	if !strings.HasPrefix(location, s3Prefix) {
		return BlobRef{Kind: BlobFilesystem, Path: location}, nil
	}

	rest := strings.TrimPrefix(location, s3Prefix)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return BlobRef{}, fmt.Errorf("invalid s3 bucket and key provided: %s", rest)
	}
	return BlobRef{Kind: BlobS3, Bucket: bucket, Key: key}, nil
}

// UnmarshalYAML decodes a scalar manifest value (a path or an s3:// URI)
// into a BlobRef using the same rules as the --config flag.
func (r *BlobRef) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	ref, err := ParseBlobRef(s)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// MarshalYAML emits a BlobRef in the same string form it was parsed from.
func (r BlobRef) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}
