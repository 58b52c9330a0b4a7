// Package manifest holds the declarative description of desired state (the
// document an operator edits and the control plane reconciles towards)
// and the diff algorithm that turns two manifests into a list of changes.
package manifest

import "reflect"

// Scheme is a listener protocol, one of "http" or "https".
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// ShutdownMode chooses how a service's containers are retired when they are
// no longer wanted.
type ShutdownMode string

const (
	// Graceful sends SIGTERM and waits a grace period before removal.
	Graceful ShutdownMode = "graceful"
	// Forceful force-removes regardless of state. The default.
	Forceful ShutdownMode = "forceful"
)

// Route binds a host (and optionally a path prefix) on a listener port to a
// service. A nil Prefix matches every path under Host.
type Route struct {
	Host   string  `yaml:"host"`
	Prefix *string `yaml:"prefix,omitempty"`
	Port   int     `yaml:"port"`
}

// VolumeSpec describes a single bind-mounted volume: content fetched from
// Source is staged on the host and mounted read-write at Target inside the
// container.
type VolumeSpec struct {
	Source BlobRef `yaml:"source"`
	Target string  `yaml:"target"`
}

// ServiceSpec is the desired state of one logical service. Equality
// compares every field; a service's identity for reconciliation purposes is
// its name in Manifest.Services, not any field of ServiceSpec itself.
type ServiceSpec struct {
	Image        string                `yaml:"image"`
	Tag          string                `yaml:"tag"`
	Replicas     int                   `yaml:"replicas"`
	Routes       []Route               `yaml:"routes"`
	Environment  map[string]string     `yaml:"environment,omitempty"`
	Volumes      map[string]VolumeSpec `yaml:"volumes,omitempty"`
	ShutdownMode ShutdownMode          `yaml:"shutdown_mode,omitempty"`
}

// Equal reports whether two specs are identical in every field. Diffing
// uses this rather than a hash: the (image, tag) pair is used elsewhere
// purely to deduplicate image pulls during reconciliation, never as an
// identity or map key for the ServiceSpec itself.
func (s ServiceSpec) Equal(other ServiceSpec) bool {
	return reflect.DeepEqual(s, other)
}

// EffectiveShutdownMode returns the service's configured shutdown mode,
// defaulting to Forceful when unset.
func (s ServiceSpec) EffectiveShutdownMode() ShutdownMode {
	if s.ShutdownMode == "" {
		return Forceful
	}
	return s.ShutdownMode
}

// TLSEntry pairs a certificate chain with its private key for one domain.
type TLSEntry struct {
	Cert BlobRef `yaml:"cert"`
	Key  BlobRef `yaml:"key"`
}

// MTLSConfig names the trust anchor and the domains that require a client
// certificate during the TLS handshake.
type MTLSConfig struct {
	Anchor  BlobRef  `yaml:"anchor"`
	Domains []string `yaml:"domains"`
}

// FrontConfig describes the front-door listener(s).
type FrontConfig struct {
	Addr           string              `yaml:"addr"`
	Ports          map[Scheme]int      `yaml:"ports"`
	Reconciliation string              `yaml:"reconciliation"`
	TLS            map[string]TLSEntry `yaml:"tls,omitempty"`
	MTLS           *MTLSConfig         `yaml:"mtls,omitempty"`
}

// SecretsConfig names the key material used to unseal secret values.
type SecretsConfig struct {
	PrivateKey *BlobRef `yaml:"private_key,omitempty"`
}

// Manifest is the full declarative description of desired state.
type Manifest struct {
	Front    FrontConfig            `yaml:"front"`
	Secrets  SecretsConfig          `yaml:"secrets,omitempty"`
	Services map[string]ServiceSpec `yaml:"services"`
}
