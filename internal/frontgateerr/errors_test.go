package frontgateerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"front.evalgo.org/internal/blob"
	"front.evalgo.org/internal/secrets"
)

func TestAliasesMatchOriginatingSentinels(t *testing.T) {
	wrapped := fmt.Errorf("fetch: %w", ErrNotFound)
	assert.ErrorIs(t, wrapped, blob.ErrNotFound)

	wrapped = fmt.Errorf("unseal: %w", ErrNoKey)
	assert.ErrorIs(t, wrapped, secrets.ErrNoKey)
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{ErrConfig, ErrSourceUnavailable, ErrNotFound, ErrNoKey, ErrDecrypt, ErrBadUTF8, ErrEngine, ErrRoutingMiss, ErrUpstream, ErrAdminUnauthorised}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinel %d and %d must be distinct", i, j)
		}
	}
}
