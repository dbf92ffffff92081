// Package store is the controller's only path to the API server.
//
// Every call goes straight to the API server; nothing is cached locally, so
// each reconcile observes the cluster as it is. Calls are timed and recorded
// through the metrics collector.
package store

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
	"github.com/lexfrei/registry-credentials-controller/internal/metrics"
)

// DefaultServiceAccount is the ServiceAccount pods use when none is set.
const DefaultServiceAccount = "default"

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Store wraps a client.Client with not-found handling and API metrics.
type Store struct {
	client  client.Client
	metrics metrics.Collector
	logger  *slog.Logger
}

// New creates a Store. A nil collector disables metrics.
func New(c client.Client, metricsCollector metrics.Collector) *Store {
	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	return &Store{
		client:  c,
		metrics: metricsCollector,
		logger:  slog.Default().With("component", "store"),
	}
}

// Client returns the underlying client.
func (s *Store) Client() client.Client {
	return s.client
}

// Get reads the object addressed by name and namespace into obj.
// It returns false without an error when the object does not exist.
func (s *Store) Get(ctx context.Context, name, namespace string, obj client.Object) (bool, error) {
	start := time.Now()
	err := s.client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, obj)

	if apierrors.IsNotFound(err) {
		s.observe(ctx, "get", obj, start, nil)

		return false, nil
	}

	s.observe(ctx, "get", obj, start, err)

	if err != nil {
		return false, errors.Wrapf(err, "failed to get %s %s", resourceName(obj), key(name, namespace))
	}

	return true, nil
}

// Exists reports whether the object addressed by name and namespace exists.
// obj only selects the kind and receives the object when found.
func (s *Store) Exists(ctx context.Context, name, namespace string, obj client.Object) (bool, error) {
	return s.Get(ctx, name, namespace, obj)
}

// Create creates obj.
func (s *Store) Create(ctx context.Context, obj client.Object) error {
	start := time.Now()
	err := s.client.Create(ctx, obj)
	s.observe(ctx, "create", obj, start, err)

	if err != nil {
		return errors.Wrapf(err, "failed to create %s %s", resourceName(obj), objectKey(obj))
	}

	return nil
}

// Update replaces obj.
func (s *Store) Update(ctx context.Context, obj client.Object) error {
	start := time.Now()
	err := s.client.Update(ctx, obj)
	s.observe(ctx, "update", obj, start, err)

	if err != nil {
		return errors.Wrapf(err, "failed to update %s %s", resourceName(obj), objectKey(obj))
	}

	return nil
}

// Delete removes obj. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, obj client.Object) error {
	start := time.Now()
	err := s.client.Delete(ctx, obj)

	if apierrors.IsNotFound(err) {
		s.observe(ctx, "delete", obj, start, nil)

		return nil
	}

	s.observe(ctx, "delete", obj, start, err)

	if err != nil {
		return errors.Wrapf(err, "failed to delete %s %s", resourceName(obj), objectKey(obj))
	}

	return nil
}

// ListByLabel lists objects carrying label key=value. An empty namespace lists
// across all namespaces.
func (s *Store) ListByLabel(ctx context.Context, list client.ObjectList, labelKey, value, namespace string) error {
	opts := []client.ListOption{client.MatchingLabels{labelKey: value}}
	if namespace != "" {
		opts = append(opts, client.InNamespace(namespace))
	}

	return s.list(ctx, list, opts...)
}

// ListAll lists every object of the list's kind. An empty namespace lists
// across all namespaces.
func (s *Store) ListAll(ctx context.Context, list client.ObjectList, namespace string) error {
	var opts []client.ListOption
	if namespace != "" {
		opts = append(opts, client.InNamespace(namespace))
	}

	return s.list(ctx, list, opts...)
}

// ActiveNamespaces returns the names of all namespaces in phase Active.
func (s *Store) ActiveNamespaces(ctx context.Context) ([]string, error) {
	namespaces := &corev1.NamespaceList{}

	err := s.ListAll(ctx, namespaces, "")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(namespaces.Items))

	for i := range namespaces.Items {
		if namespaces.Items[i].Status.Phase == corev1.NamespaceActive {
			names = append(names, namespaces.Items[i].Name)
		}
	}

	slices.Sort(names)

	return names, nil
}

// AttachPullSecret adds secretName to the imagePullSecrets of the ServiceAccount.
// It reports whether the ServiceAccount was modified; an existing reference is left as is.
func (s *Store) AttachPullSecret(ctx context.Context, serviceAccount, namespace, secretName string) (bool, error) {
	return s.mutateServiceAccount(ctx, serviceAccount, namespace, func(sa *corev1.ServiceAccount) bool {
		if hasPullSecret(sa, secretName) {
			return false
		}

		sa.ImagePullSecrets = append(sa.ImagePullSecrets, corev1.LocalObjectReference{Name: secretName})

		return true
	})
}

// DetachPullSecret removes every reference to secretName from the imagePullSecrets
// of the ServiceAccount. Other references are preserved in order.
// A missing ServiceAccount is not an error.
func (s *Store) DetachPullSecret(ctx context.Context, serviceAccount, namespace, secretName string) (bool, error) {
	return s.mutateServiceAccount(ctx, serviceAccount, namespace, func(sa *corev1.ServiceAccount) bool {
		before := len(sa.ImagePullSecrets)
		sa.ImagePullSecrets = slices.DeleteFunc(sa.ImagePullSecrets, func(ref corev1.LocalObjectReference) bool {
			return ref.Name == secretName
		})

		return len(sa.ImagePullSecrets) != before
	})
}

func (s *Store) mutateServiceAccount(
	ctx context.Context,
	name, namespace string,
	mutate func(*corev1.ServiceAccount) bool,
) (bool, error) {
	var changed bool

	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		changed = false
		sa := &corev1.ServiceAccount{}

		found, err := s.Get(ctx, name, namespace, sa)
		if err != nil {
			return err
		}

		if !found {
			s.logger.Debug("service account not found, skipping",
				"serviceAccount", name, "namespace", namespace)

			return nil
		}

		if !mutate(sa) {
			return nil
		}

		start := time.Now()
		err = s.client.Update(ctx, sa)
		s.observe(ctx, "update", sa, start, err)

		if err != nil {
			// Returned unwrapped so RetryOnConflict can see the conflict.
			return err //nolint:wrapcheck // see above
		}

		changed = true

		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to update service account %s", key(name, namespace))
	}

	return changed, nil
}

func (s *Store) list(ctx context.Context, list client.ObjectList, opts ...client.ListOption) error {
	start := time.Now()
	err := s.client.List(ctx, list, opts...)
	s.observe(ctx, "list", list, start, err)

	if err != nil {
		return errors.Wrapf(err, "failed to list %s", resourceName(list))
	}

	return nil
}

func (s *Store) observe(ctx context.Context, method string, obj any, start time.Time, err error) {
	resource := resourceName(obj)

	if err != nil {
		s.metrics.RecordAPICall(ctx, method, resource, statusError, time.Since(start))
		s.metrics.RecordAPIError(ctx, method, metrics.ClassifyAPIError(err))

		return
	}

	s.metrics.RecordAPICall(ctx, method, resource, statusSuccess, time.Since(start))
}

func hasPullSecret(sa *corev1.ServiceAccount, secretName string) bool {
	return slices.ContainsFunc(sa.ImagePullSecrets, func(ref corev1.LocalObjectReference) bool {
		return ref.Name == secretName
	})
}

//nolint:cyclop // flat type switch
func resourceName(obj any) string {
	switch obj.(type) {
	case *corev1.ConfigMap, *corev1.ConfigMapList:
		return "configmaps"
	case *corev1.Secret, *corev1.SecretList:
		return "secrets"
	case *corev1.Namespace, *corev1.NamespaceList:
		return "namespaces"
	case *corev1.ServiceAccount, *corev1.ServiceAccountList:
		return "serviceaccounts"
	case *batchv1.CronJob, *batchv1.CronJobList:
		return "cronjobs"
	case *v1alpha1.ContainerRegistry, *v1alpha1.ContainerRegistryList:
		return "containerregistries"
	case *v1alpha1.ContainerRegistryCleanupJob, *v1alpha1.ContainerRegistryCleanupJobList:
		return "containerregistrycleanupjobs"
	default:
		return "unknown"
	}
}

func objectKey(obj client.Object) string {
	return key(obj.GetName(), obj.GetNamespace())
}

func key(name, namespace string) string {
	if namespace == "" {
		return name
	}

	return namespace + "/" + name
}
