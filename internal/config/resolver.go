// Package config resolves the inputs a ContainerRegistry reconcile works from:
// the raw registry credential and the set of target namespaces.
package config

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
	"github.com/lexfrei/registry-credentials-controller/internal/store"
)

const (
	// DefaultSecretWaitInterval is how often a missing credential Secret is re-checked.
	DefaultSecretWaitInterval = 2 * time.Second

	// DefaultSecretWaitTimeout bounds the wait for a missing credential Secret.
	DefaultSecretWaitTimeout = 30 * time.Second
)

var (
	// ErrCredentialSourceMissing is returned when neither gcrAccessData nor secretRef is set.
	ErrCredentialSourceMissing = errors.New("no credential source: set gcrAccessData or secretRef")

	// ErrSecretNotReady is returned when the referenced Secret did not appear, or stayed
	// empty, within the wait timeout.
	ErrSecretNotReady = errors.New("credential secret not ready")
)

// Resolver reads credentials and namespace scope from the cluster.
// It keeps no state between calls apart from coalescing concurrent waits.
type Resolver struct {
	store         *store.Store
	homeNamespace string
	waitInterval  time.Duration
	waitTimeout   time.Duration
	waits         singleflight.Group
	logger        *slog.Logger
}

// NewResolver creates a new Resolver. Non-positive durations fall back to the defaults.
func NewResolver(s *store.Store, homeNamespace string, waitInterval, waitTimeout time.Duration) *Resolver {
	if waitInterval <= 0 {
		waitInterval = DefaultSecretWaitInterval
	}

	if waitTimeout <= 0 {
		waitTimeout = DefaultSecretWaitTimeout
	}

	return &Resolver{
		store:         s,
		homeNamespace: homeNamespace,
		waitInterval:  waitInterval,
		waitTimeout:   waitTimeout,
		logger:        slog.Default().With("component", "config-resolver"),
	}
}

// HomeNamespace returns the namespace the controller keeps its own artifacts in.
func (r *Resolver) HomeNamespace() string {
	return r.homeNamespace
}

// ResolveCredential returns the raw credential of the registry.
//
// An inline credential is returned as is. A secretRef is read from the home
// namespace; when the Secret is missing or empty it is polled for until the
// wait timeout, after which ErrSecretNotReady is returned.
func (r *Resolver) ResolveCredential(ctx context.Context, registry *v1alpha1.ContainerRegistry) (string, error) {
	spec := &registry.Spec

	if spec.GCRAccessData != "" {
		if spec.SecretRef != "" {
			r.logger.Warn("both gcrAccessData and secretRef set, using gcrAccessData",
				"registry", registry.Name)
		}

		return spec.GCRAccessData, nil
	}

	if spec.SecretRef == "" {
		return "", errors.Wrapf(ErrCredentialSourceMissing, "registry %s", registry.Name)
	}

	result, err, shared := r.waits.Do(spec.SecretRef, func() (any, error) {
		return r.waitForSecret(ctx, spec.SecretRef)
	})
	if err != nil {
		return "", err //nolint:wrapcheck // already wrapped by waitForSecret
	}

	if shared {
		r.logger.Debug("credential secret wait coalesced", "secret", spec.SecretRef, "registry", registry.Name)
	}

	credential, _ := result.(string)

	return credential, nil
}

// ResolveNamespaces returns the target namespaces of the registry, sorted and
// deduplicated. The wildcard expands to every Active namespace at call time.
// An empty result means the pull secret is retracted everywhere.
func (r *Resolver) ResolveNamespaces(ctx context.Context, registry *v1alpha1.ContainerRegistry) ([]string, error) {
	if registry.Spec.IsWildcard() {
		namespaces, err := r.store.ActiveNamespaces(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to expand namespace wildcard")
		}

		return namespaces, nil
	}

	namespaces := make([]string, 0, len(registry.Spec.Namespaces))

	for _, ns := range registry.Spec.Namespaces {
		if ns != "" {
			namespaces = append(namespaces, ns)
		}
	}

	slices.Sort(namespaces)

	return slices.Compact(namespaces), nil
}

func (r *Resolver) waitForSecret(ctx context.Context, name string) (string, error) {
	var credential string

	err := wait.PollUntilContextTimeout(ctx, r.waitInterval, r.waitTimeout, true,
		func(ctx context.Context) (bool, error) {
			secret := &corev1.Secret{}

			found, err := r.store.Get(ctx, name, r.homeNamespace, secret)
			if err != nil {
				r.logger.Warn("failed to read credential secret, retrying",
					"secret", name, "namespace", r.homeNamespace, "error", err)

				return false, nil
			}

			if !found {
				r.logger.Info("credential secret not found, waiting",
					"secret", name, "namespace", r.homeNamespace)

				return false, nil
			}

			value, ok := FirstValue(secret)
			if !ok {
				r.logger.Info("credential secret is empty, waiting",
					"secret", name, "namespace", r.homeNamespace)

				return false, nil
			}

			credential = value

			return true, nil
		})
	if err != nil {
		if wait.Interrupted(err) {
			return "", errors.Mark(
				errors.Wrapf(err, "secret %s/%s", r.homeNamespace, name),
				ErrSecretNotReady,
			)
		}

		return "", errors.Wrapf(err, "failed waiting for secret %s/%s", r.homeNamespace, name)
	}

	return credential, nil
}

// FirstValue returns the value stored under the lexically first key of the
// Secret, which is how a referenced credential Secret is read regardless of
// the key its creator chose.
func FirstValue(secret *corev1.Secret) (string, bool) {
	if len(secret.Data) > 0 {
		return firstOf(secret.Data, func(v []byte) string { return string(v) })
	}

	if len(secret.StringData) > 0 {
		return firstOf(secret.StringData, func(v string) string { return v })
	}

	return "", false
}

func firstOf[V any](data map[string]V, conv func(V) string) (string, bool) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	value := conv(data[keys[0]])

	return value, value != ""
}
