package certs

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"front.evalgo.org/internal/manifest"
)

func generateCertPEM(t *testing.T, commonName string) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{commonName},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	var certBuf, keyBuf bytes.Buffer
	require.NoError(t, pem.Encode(&certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: der}))

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(&keyBuf, &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))

	return certBuf.Bytes(), keyBuf.Bytes()
}

type fakeFetcher map[string][]byte

func (f fakeFetcher) Fetch(_ context.Context, ref manifest.BlobRef) ([]byte, error) {
	data, ok := f[ref.Path]
	if !ok {
		return nil, assertNotFound
	}
	return data, nil
}

var assertNotFound = assertErr("blob not found")

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestResolverResolvesConfiguredDomain(t *testing.T) {
	certPEM, keyPEM := generateCertPEM(t, "primary.example.com")
	fetcher := fakeFetcher{
		"cert-a.pem": certPEM,
		"key-a.pem":  keyPEM,
	}
	entries := map[string]manifest.TLSEntry{
		"primary.example.com": {
			Cert: manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "cert-a.pem"},
			Key:  manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "key-a.pem"},
		},
	}

	r, err := NewResolver(context.Background(), fetcher, entries, nil)
	require.NoError(t, err)

	cert, ok := r.Resolve("primary.example.com")
	require.True(t, ok)
	assert.NotNil(t, cert)

	_, ok = r.Resolve("other.example.com")
	assert.False(t, ok)
}

func TestResolverConstructionFailsOnBadEntry(t *testing.T) {
	entries := map[string]manifest.TLSEntry{
		"bad.example.com": {
			Cert: manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "missing.pem"},
			Key:  manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "missing-key.pem"},
		},
	}
	_, err := NewResolver(context.Background(), fakeFetcher{}, entries, nil)
	assert.Error(t, err)
}

func TestResolverRefreshHotSwapsCertificate(t *testing.T) {
	certA, keyA := generateCertPEM(t, "primary.example.com")
	fetcher := fakeFetcher{"cert.pem": certA, "key.pem": keyA}
	entries := map[string]manifest.TLSEntry{
		"primary.example.com": {
			Cert: manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "cert.pem"},
			Key:  manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "key.pem"},
		},
	}
	r, err := NewResolver(context.Background(), fetcher, entries, nil)
	require.NoError(t, err)

	first, _ := r.Resolve("primary.example.com")

	certB, keyB := generateCertPEM(t, "primary.example.com")
	fetcher["cert.pem"] = certB
	fetcher["key.pem"] = keyB
	r.Refresh(context.Background())

	second, ok := r.Resolve("primary.example.com")
	require.True(t, ok)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestResolverRefreshRejectsPartialFailureWhole(t *testing.T) {
	certA, keyA := generateCertPEM(t, "a.example.com")
	fetcher := fakeFetcher{"cert-a.pem": certA, "key-a.pem": keyA}
	entries := map[string]manifest.TLSEntry{
		"a.example.com": {
			Cert: manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "cert-a.pem"},
			Key:  manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "key-a.pem"},
		},
	}
	r, err := NewResolver(context.Background(), fetcher, entries, nil)
	require.NoError(t, err)
	before, _ := r.Resolve("a.example.com")

	// Break the blob so the refresh would fail entirely.
	delete(fetcher, "cert-a.pem")
	r.Refresh(context.Background())

	after, ok := r.Resolve("a.example.com")
	require.True(t, ok)
	assert.Equal(t, before.Certificate[0], after.Certificate[0])
}

func TestResolverClientCAsLoadsAnchor(t *testing.T) {
	anchorCert, _ := generateCertPEM(t, "trust-anchor")
	fetcher := fakeFetcher{"anchor.pem": anchorCert}
	anchorRef := manifest.BlobRef{Kind: manifest.BlobFilesystem, Path: "anchor.pem"}

	r, err := NewResolver(context.Background(), fetcher, nil, &anchorRef)
	require.NoError(t, err)

	pool := r.ClientCAs()
	require.NotNil(t, pool)
	assert.Len(t, pool.Subjects(), 1) //nolint:staticcheck // Subjects() is fine for a test assertion
}

func TestResolverClientCAsEmptyWithoutAnchor(t *testing.T) {
	r, err := NewResolver(context.Background(), fakeFetcher{}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, r.ClientCAs())
}

func TestAuthLevelResolverDefaultsToStandard(t *testing.T) {
	r := NewAuthLevelResolver(&manifest.Manifest{})
	assert.Equal(t, Standard, r.Resolve("anything.example.com"))
}

func TestAuthLevelResolverMutualForConfiguredDomain(t *testing.T) {
	m := &manifest.Manifest{
		Front: manifest.FrontConfig{
			MTLS: &manifest.MTLSConfig{Domains: []string{"secure.example.com"}},
		},
	}
	r := NewAuthLevelResolver(m)
	assert.Equal(t, Mutual, r.Resolve("secure.example.com"))
	assert.Equal(t, Standard, r.Resolve("public.example.com"))
}

func TestAuthLevelResolverSwapIsObservable(t *testing.T) {
	r := NewAuthLevelResolver(&manifest.Manifest{})
	assert.Equal(t, Standard, r.Resolve("secure.example.com"))

	r.Swap(&manifest.Manifest{
		Front: manifest.FrontConfig{
			MTLS: &manifest.MTLSConfig{Domains: []string{"secure.example.com"}},
		},
	})
	assert.Equal(t, Mutual, r.Resolve("secure.example.com"))
}
