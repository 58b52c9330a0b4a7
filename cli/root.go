// Package cli implements the frontgate command: a cobra.Command whose
// persistent flags are registered in init(), and a run function that parses
// --config, loads the initial manifest, wires every control-plane component
// together, and runs until terminated.
package cli

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"front.evalgo.org/internal/blob"
	"front.evalgo.org/internal/bus"
	"front.evalgo.org/internal/certs"
	"front.evalgo.org/internal/engine"
	"front.evalgo.org/internal/frontgateerr"
	"front.evalgo.org/internal/listener"
	"front.evalgo.org/internal/manifest"
	"front.evalgo.org/internal/obs"
	"front.evalgo.org/internal/proxy"
	"front.evalgo.org/internal/reconcile"
	"front.evalgo.org/internal/registry"
	"front.evalgo.org/internal/secrets"
)

var configLocation string
var bearerToken string
var stagingRoot string
var dockerSocket string

// RootCmd is the frontgate entry point: load --config, wire the control
// plane, and run every component until the process receives a termination
// signal.
var RootCmd = &cobra.Command{
	Use:   "frontgate",
	Short: "frontgate is a reverse-proxy micro-orchestrator for container-packaged HTTP services",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configLocation, "config", "", "manifest location: a filesystem path or s3://bucket/key")
	RootCmd.PersistentFlags().StringVar(&bearerToken, "admin-token", "", "bearer token required on the admin endpoints")
	RootCmd.PersistentFlags().StringVar(&stagingRoot, "staging-root", "/var/lib/frontgate/staging", "host directory volumes are staged under before mounting")
	RootCmd.PersistentFlags().StringVar(&dockerSocket, "docker-socket", "unix:///var/run/docker.sock", "Docker Engine API socket")
	_ = RootCmd.MarkPersistentFlagRequired("config")
}

// run wires and starts every control-plane component: the blob source, the
// initial manifest load, the registry, the container engine, the
// certificate and mTLS resolvers, the reconciler, the proxy handler, and
// the listener supervisor. It blocks until SIGINT or SIGTERM; clean
// shutdown is out of scope, so this simply stops accepting work rather
// than draining it.
func run(ctx context.Context) error {
	obs.SetLevel(obs.GetEnv("FRONTGATE_LOG_LEVEL", "info"))
	log := obs.ServiceLogger("cli")

	configRef, err := manifest.ParseBlobRef(configLocation)
	if err != nil {
		return fmt.Errorf("%w: --config: %v", frontgateerr.ErrConfig, err)
	}

	source, err := buildBlobSource(ctx, configRef)
	if err != nil {
		return fmt.Errorf("build blob source: %w", err)
	}

	current, err := manifest.Load(ctx, source, configRef)
	if err != nil {
		return fmt.Errorf("%w: load initial manifest: %v", frontgateerr.ErrConfig, err)
	}

	unsealer, err := buildUnsealer(ctx, source, current.Secrets)
	if err != nil {
		return fmt.Errorf("build secret unsealer: %w", err)
	}

	eng, err := engine.NewDockerEngine(dockerSocket)
	if err != nil {
		return fmt.Errorf("connect to docker engine: %w", err)
	}
	if _, found, err := eng.FindNetwork(ctx, engine.OverlayNetwork); err != nil {
		return fmt.Errorf("check overlay network: %w", err)
	} else if !found {
		return fmt.Errorf("%w: %q must exist before startup", engine.ErrNetworkMissing, engine.OverlayNetwork)
	}

	reg := registry.New()
	messages := bus.New()

	for name, spec := range current.Services {
		reg.Define(name, spec)
	}

	var anchorRef *manifest.BlobRef
	if current.Front.MTLS != nil {
		anchorRef = obs.Ptr(current.Front.MTLS.Anchor)
	}
	certResolver, err := certs.NewResolver(ctx, source, current.Front.TLS, anchorRef)
	if err != nil {
		return fmt.Errorf("resolve initial certificates: %w", err)
	}
	authLevels := certs.NewAuthLevelResolver(current)

	reconciler := reconcile.New(source, configRef, reg, eng, unsealer, stagingRoot, authLevels, current)

	handler := proxy.New(reg, messages, current.Front.Reconciliation, bearerToken)
	sup := listener.New(handler, certResolver, authLevels, certResolver)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reconciler.Run(runCtx, messages)
	go certResolver.Run(runCtx, messages)

	log.WithField("config", configRef.String()).WithField("admin_token", obs.MaskSecret(bearerToken)).Info("frontgate starting")
	sup.Start(runCtx, current.Front)
	log.Info("frontgate shutting down")
	return nil
}

// buildBlobSource constructs the Multi blob source's backends. A
// filesystem backend is always available (the manifest itself, and most
// volumes/certs, are commonly local paths); an S3 backend is added only
// when the manifest location itself is an s3:// URI, to avoid an
// unconditional AWS credential resolution attempt on every start-up.
func buildBlobSource(ctx context.Context, configRef manifest.BlobRef) (*blob.Multi, error) {
	fs := blob.NewFilesystemSource("")
	if configRef.Kind != manifest.BlobS3 {
		return blob.NewMulti(fs, nil), nil
	}
	s3Source, err := blob.NewS3Source(ctx)
	if err != nil {
		return nil, err
	}
	return blob.NewMulti(fs, s3Source), nil
}

// buildUnsealer loads and parses the RSA private key named by
// secrets.private_key, if any. The key is expected PEM-encoded, either
// PKCS#1 ("RSA PRIVATE KEY") or PKCS#8 ("PRIVATE KEY"); manifests that
// declare no secrets key get an Unsealer that rejects any secret it
// actually encounters.
func buildUnsealer(ctx context.Context, source manifest.Fetcher, cfg manifest.SecretsConfig) (*secrets.Unsealer, error) {
	if cfg.PrivateKey == nil {
		return secrets.New(nil), nil
	}

	raw, err := source.Fetch(ctx, *cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("fetch secrets private key: %w", err)
	}
	key, err := parseRSAPrivateKeyPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse secrets private key: %w", err)
	}
	return secrets.New(key), nil
}

func parseRSAPrivateKeyPEM(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("not a PKCS#1 or PKCS#8 RSA key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}
