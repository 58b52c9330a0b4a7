package manifest

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"gopkg.in/yaml.v3"
)

// Fetcher is the subset of blob.Source the manifest loader needs. Defined
// here rather than imported so this package has no dependency on the blob
// backend implementations; any type with a matching Fetch method
// satisfies it, including blob.Source.
type Fetcher interface {
	Fetch(ctx context.Context, ref BlobRef) ([]byte, error)
}

// Load fetches the manifest blob at ref through fetcher, parses it as
// strict YAML (unknown top-level keys are rejected), and validates it.
func Load(ctx context.Context, fetcher Fetcher, ref BlobRef) (*Manifest, error) {
	raw, err := fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	return Parse(raw)
}

// Parse decodes raw YAML bytes into a validated Manifest.
func Parse(raw []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	return &m, nil
}

// Validate checks the invariants required at load time: replicas >= 1,
// a well-formed bind address, and (implicitly, since every
// BlobRef is only ever constructed through ParseBlobRef) that every blob
// reference can be expressed.
func (m *Manifest) Validate() error {
	if m.Front.Addr != "" {
		if ip := net.ParseIP(m.Front.Addr); ip == nil || ip.To4() == nil {
			return fmt.Errorf("front.addr %q is not a valid IPv4 address", m.Front.Addr)
		}
	}
	for name, svc := range m.Services {
		if svc.Replicas < 1 {
			return fmt.Errorf("services.%s.replicas must be >= 1, got %d", name, svc.Replicas)
		}
	}
	return nil
}
