// Package reconcile implements the Reconciler: the control loop that turns
// a freshly reloaded manifest into container-engine and registry
// mutations. Follows reconciler.rs's diff-driven handle_diff for the
// Add/Remove/Alter dispatch shape, translated to idiomatic Go with
// explicit error returns, and the holds-handle-registry-and-receiver
// "run a loop" shape of network/proxy_balancer.go's HealthChecker.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"front.evalgo.org/internal/bus"
	"front.evalgo.org/internal/certs"
	"front.evalgo.org/internal/engine"
	"front.evalgo.org/internal/manifest"
	"front.evalgo.org/internal/obs"
	"front.evalgo.org/internal/registry"
	"front.evalgo.org/internal/secrets"
)

// Fetcher is the subset of blob.Source the reconciler needs to refetch the
// manifest and resolve volume blobs.
type Fetcher interface {
	Fetch(ctx context.Context, ref manifest.BlobRef) ([]byte, error)
}

// Reconciler holds the manifest handle (atomically swappable), the
// registry, a container engine, and the dependencies needed to resolve and
// unseal a service's configuration before creating containers for it.
type Reconciler struct {
	fetcher     Fetcher
	configRef   manifest.BlobRef
	reg         *registry.Registry
	eng         engine.Engine
	unsealer    *secrets.Unsealer
	stagingRoot string
	authLevels  *certs.AuthLevelResolver

	current atomic.Pointer[manifest.Manifest]
	log     *obs.ContextLogger
}

// New builds a Reconciler seeded with the manifest already loaded at
// start-up (current), so the first diff compares against the live world
// rather than an empty manifest. authLevels is swapped to the freshly
// loaded manifest on every pass that produces changes, so mTLS scope
// stays in step with the reconciler's own manifest handle.
func New(fetcher Fetcher, configRef manifest.BlobRef, reg *registry.Registry, eng engine.Engine, unsealer *secrets.Unsealer, stagingRoot string, authLevels *certs.AuthLevelResolver, current *manifest.Manifest) *Reconciler {
	r := &Reconciler{
		fetcher:     fetcher,
		configRef:   configRef,
		reg:         reg,
		eng:         eng,
		unsealer:    unsealer,
		stagingRoot: stagingRoot,
		authLevels:  authLevels,
		log:         obs.ServiceLogger("reconciler"),
	}
	r.current.Store(current)
	return r
}

// Current returns the manifest the reconciler last swapped in. The
// AuthLevelResolver keeps its own handle, which Pass swaps to the same
// manifest.
func (r *Reconciler) Current() *manifest.Manifest {
	return r.current.Load()
}

// Run blocks, performing one reconciliation pass per message received on
// the bus's reconciliation channel, until ctx is cancelled. Concurrent
// triggers are serialised by this single consumer.
func (r *Reconciler) Run(ctx context.Context, messages *bus.Bus) {
	for {
		msg, ok := messages.ReceiveReconciliation(ctx)
		if !ok {
			return
		}
		log := r.log.WithField("correlation_id", msg.CorrelationID)
		log.Info("starting reconciliation pass")
		if err := r.Pass(ctx); err != nil {
			log.WithError(err).Warn("reconciliation pass failed")
			continue
		}
		log.Info("reconciliation pass complete")
	}
}

// Pass fetches and parses the manifest, diffs it against the current one,
// and applies every resulting change. A fetch or parse failure is returned
// (Run logs it) without touching the current manifest; a failed change is
// logged and the remaining changes are still applied.
func (r *Reconciler) Pass(ctx context.Context) error {
	newManifest, err := manifest.Load(ctx, r.fetcher, r.configRef)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	oldManifest := r.current.Load()
	changes := manifest.Diff(oldManifest, newManifest)
	if len(changes) == 0 {
		return nil
	}

	r.current.Store(newManifest)
	r.authLevels.Swap(newManifest)

	for _, change := range changes {
		if err := r.apply(ctx, change); err != nil {
			r.log.WithField("service", change.Name).WithError(err).Warn("change failed, leaving partial state")
		}
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, change manifest.Change) error {
	switch change.Kind {
	case manifest.ChangeAdd:
		return r.applyAdd(ctx, change.Name, change.NewSpec)
	case manifest.ChangeRemove:
		return r.applyRemove(ctx, change.Name, change.OldSpec)
	case manifest.ChangeAlter:
		return r.applyAlter(ctx, change.Name, change.OldSpec, change.NewSpec)
	default:
		return fmt.Errorf("unknown change kind %d", change.Kind)
	}
}

// applyAdd ensures the image, brings up spec.Replicas containers, and
// registers each as a backend only after the engine confirms it has an IP.
// The registry's definition is inserted before the engine calls so
// resolve() sees it (with zero backends, i.e. a routing miss) while
// containers are still starting. On failure the definition is removed
// again, so the registry is back to its pre-change state.
func (r *Reconciler) applyAdd(ctx context.Context, name string, spec manifest.ServiceSpec) error {
	r.reg.Define(name, spec)

	backends, err := r.bringUp(ctx, name, spec, spec.Replicas)
	if err != nil {
		r.cleanup(ctx, backends)
		r.reg.Undefine(name)
		return fmt.Errorf("add %s: %w", name, err)
	}
	for _, b := range backends {
		r.reg.AddBackend(name, b)
	}
	return nil
}

// applyRemove undefines the service (capturing its previous backends for
// the engine teardown) and then removes every container per its shutdown
// mode. Registry state is updated first: the backends are considered gone
// for routing purposes even if the engine calls below fail.
func (r *Reconciler) applyRemove(ctx context.Context, name string, oldSpec manifest.ServiceSpec) error {
	previous := r.reg.BackendsOf(name).Members()
	r.reg.Undefine(name)

	var firstErr error
	for _, b := range previous {
		if err := r.teardown(ctx, engine.ContainerID(b.ID), oldSpec.EffectiveShutdownMode()); err != nil {
			r.log.WithField("service", name).WithField("container", b.ID).WithError(err).Warn("failed to remove old container")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// applyAlter makes new backends live before breaking old ones: new
// containers are created and started first; only once all of them are
// recorded as backends are the old ones dropped from the registry and
// scheduled for removal. If any new container fails, every new container
// created so far is force-removed, the change is reverted in full, and
// the registry is never touched.
func (r *Reconciler) applyAlter(ctx context.Context, name string, oldSpec, newSpec manifest.ServiceSpec) error {
	newBackends, err := r.bringUp(ctx, name, newSpec, newSpec.Replicas)
	if err != nil {
		r.cleanup(ctx, newBackends)
		return fmt.Errorf("alter %s: %w", name, err)
	}

	oldBackends := r.reg.BackendsOf(name).Members()
	r.reg.Define(name, newSpec)
	for _, b := range newBackends {
		r.reg.AddBackend(name, b)
	}
	for _, b := range oldBackends {
		r.reg.RemoveBackend(name, b.ID)
	}

	var firstErr error
	for _, b := range oldBackends {
		if err := r.teardown(ctx, engine.ContainerID(b.ID), oldSpec.EffectiveShutdownMode()); err != nil {
			r.log.WithField("service", name).WithField("container", b.ID).WithError(err).Warn("failed to remove old container")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// teardown retires one container per shutdown mode: Graceful sends SIGTERM
// with the engine's 15-second grace before removal, Forceful removes
// immediately regardless of state.
func (r *Reconciler) teardown(ctx context.Context, id engine.ContainerID, mode manifest.ShutdownMode) error {
	if mode == manifest.Graceful {
		if err := r.eng.StopContainer(ctx, id); err != nil {
			return err
		}
	}
	return r.eng.RemoveContainer(ctx, id)
}

// bringUp unseals the service's secrets once, ensures the image, and creates
// and starts `replicas` containers, returning a backend for each once the
// engine reports its IP. On the first failure it returns the backends
// created so far alongside the error so the caller can clean them up.
func (r *Reconciler) bringUp(ctx context.Context, name string, spec manifest.ServiceSpec, replicas int) ([]registry.RunningBackend, error) {
	env, err := r.unsealEnvironment(spec.Environment)
	if err != nil {
		return nil, fmt.Errorf("unseal environment: %w", err)
	}

	binds, err := r.stageVolumes(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("stage volumes: %w", err)
	}

	if err := r.eng.EnsureImage(ctx, spec.Image, spec.Tag); err != nil {
		return nil, fmt.Errorf("ensure image: %w", err)
	}

	alias := engine.DeriveAlias(spec.Image)
	networkID, found, err := r.eng.FindNetwork(ctx, engine.OverlayNetwork)
	if err != nil {
		return nil, fmt.Errorf("find overlay network: %w", err)
	}
	if !found {
		return nil, engine.ErrNetworkMissing
	}

	var backends []registry.RunningBackend
	for i := 0; i < replicas; i++ {
		id, err := r.eng.CreateContainer(ctx, engine.CreateSpec{
			ImageRef: spec.Image + ":" + spec.Tag,
			Env:      env,
			Binds:    binds,
			Network:  networkID,
			Alias:    alias,
			Hostname: fmt.Sprintf("%s-%s-%d", name, alias, i),
		})
		if err != nil {
			return backends, fmt.Errorf("create container: %w", err)
		}
		if err := r.eng.StartContainer(ctx, id); err != nil {
			backends = append(backends, registry.RunningBackend{ID: string(id)})
			return backends, fmt.Errorf("start container: %w", err)
		}
		ip, err := r.eng.IPOf(ctx, id)
		if err != nil {
			backends = append(backends, registry.RunningBackend{ID: string(id)})
			return backends, fmt.Errorf("inspect container ip: %w", err)
		}
		backends = append(backends, registry.RunningBackend{ID: string(id), Addr: ip})
	}
	return backends, nil
}

// cleanup force-removes every backend created during a failed bringUp so
// an aborted change leaves nothing running behind it.
func (r *Reconciler) cleanup(ctx context.Context, backends []registry.RunningBackend) {
	for _, b := range backends {
		if err := r.eng.RemoveContainer(ctx, engine.ContainerID(b.ID)); err != nil {
			r.log.WithField("container", b.ID).WithError(err).Warn("failed to clean up aborted container")
		}
	}
}

// unsealEnvironment transforms a spec's environment value-by-value into
// "KEY=value" entries the container engine's Env field expects.
func (r *Reconciler) unsealEnvironment(env map[string]string) ([]string, error) {
	out := make([]string, 0, len(env))
	for key, value := range env {
		unsealed, err := r.unsealer.UnsealValue(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, key+"="+unsealed)
	}
	return out, nil
}

// stageVolumes fetches and unseals each volume's blob, writes it to a
// per-image/tag/volume staging path, and returns the resulting host:target
// bind specs.
func (r *Reconciler) stageVolumes(ctx context.Context, spec manifest.ServiceSpec) ([]string, error) {
	binds := make([]string, 0, len(spec.Volumes))
	for volName, vol := range spec.Volumes {
		raw, err := r.fetcher.Fetch(ctx, vol.Source)
		if err != nil {
			return nil, fmt.Errorf("%s: fetch volume blob: %w", volName, err)
		}
		content, err := r.unsealer.UnsealBlob(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", volName, err)
		}

		dir := filepath.Join(r.stagingRoot, spec.Image, spec.Tag, volName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%s: stage directory: %w", volName, err)
		}
		hostPath := filepath.Join(dir, filepath.Base(vol.Target))
		if err := os.WriteFile(hostPath, content, 0o644); err != nil {
			return nil, fmt.Errorf("%s: write staging file: %w", volName, err)
		}

		binds = append(binds, hostPath+":"+vol.Target)
	}
	return binds, nil
}
