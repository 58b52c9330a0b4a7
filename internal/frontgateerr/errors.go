// Package frontgateerr collects the sentinel error kinds the control
// plane's error-handling design distinguishes, so callers across
// packages can classify a wrapped error with a single errors.Is check
// regardless of which component produced it. Kinds that already have a
// natural home (a blob source not finding a file, a secret with no key)
// are aliases of the package-local sentinel rather than a second value,
// so errors.Is still matches on the original.
package frontgateerr

import (
	"errors"

	"front.evalgo.org/internal/blob"
	"front.evalgo.org/internal/secrets"
)

var (
	// ErrConfig marks a manifest or --config value that failed to parse
	// or validate.
	ErrConfig = errors.New("configuration error")

	// ErrSourceUnavailable and ErrNotFound are the blob package's own
	// sentinels, re-exported here so callers that only import
	// frontgateerr can still classify a blob.Source failure.
	ErrSourceUnavailable = blob.ErrSourceUnavailable
	ErrNotFound          = blob.ErrNotFound

	// ErrNoKey, ErrDecrypt, ErrBadUTF8 are the secrets package's own
	// sentinels, re-exported for the same reason.
	ErrNoKey   = secrets.ErrNoKey
	ErrDecrypt = secrets.ErrDecrypt
	ErrBadUTF8 = secrets.ErrBadUTF8

	// ErrEngine marks a container engine operation failure (image listing,
	// network lookup, container create/start/stop/remove/inspect). A
	// rejected image pull is reported as engine.ErrImageUnavailable instead.
	ErrEngine = errors.New("container engine error")

	// ErrRoutingMiss marks a proxied request whose host+path matched no
	// route, or whose matching service currently has no live backends.
	ErrRoutingMiss = errors.New("no route for request")

	// ErrUpstream marks a proxied request that matched a route but
	// failed in transit to the chosen backend.
	ErrUpstream = errors.New("upstream request failed")

	// ErrAdminUnauthorised marks an admin endpoint call with a missing
	// or incorrect bearer token.
	ErrAdminUnauthorised = errors.New("admin request unauthorised")
)
