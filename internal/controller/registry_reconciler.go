package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
	"github.com/lexfrei/registry-credentials-controller/internal/config"
	"github.com/lexfrei/registry-credentials-controller/internal/credentials"
	"github.com/lexfrei/registry-credentials-controller/internal/metrics"
	"github.com/lexfrei/registry-credentials-controller/internal/store"
	"github.com/lexfrei/registry-credentials-controller/internal/templates"
)

const (
	registryControllerName = "registry"

	// ConfigKey is the ConfigMap key holding {"hostname","project"}.
	ConfigKey = "config.json"

	// CredentialKey is the credential Secret key holding the raw credential.
	CredentialKey = "gcr-admin.json"
)

// registryConfig is the payload of the generated ConfigMap.
type registryConfig struct {
	Hostname string `json:"hostname"`
	Project  string `json:"project"`
}

// RegistryReconciler converges the artifacts derived from a ContainerRegistry:
// the config ConfigMap, the credential Secret, one pull secret per target
// namespace referenced by its default ServiceAccount, and the cleanup CronJobs.
//
// Every step is create-or-update-on-diff, so a second reconcile without
// external changes performs no writes. A failing step is logged and the
// remaining steps still run.
type RegistryReconciler struct {
	Store         *store.Store
	Resolver      *config.Resolver
	Templates     *templates.Set
	Syncer        *SelectorSyncer
	Metrics       metrics.Collector
	HomeNamespace string
}

// Reconcile applies the desired state of one registry.
//
//nolint:funlen // linear sequence of apply steps
func (r *RegistryReconciler) Reconcile(ctx context.Context, registry *v1alpha1.ContainerRegistry) error {
	logger := slog.Default().With("component", "registry-reconciler", "registry", registry.Name)
	logger.Info("reconciling container registry")

	credential, err := r.Resolver.ResolveCredential(ctx, registry)
	if err != nil {
		r.recordError(ctx, err)

		return errors.Wrapf(err, "failed to resolve credential of %s", registry.Name)
	}

	authBlob, err := credentials.BuildPullSecret(credential, registry.Spec.Hostname, registry.Spec.RegistryKind())
	if err != nil {
		r.recordError(ctx, err)

		return errors.Wrapf(err, "failed to build pull secret of %s", registry.Name)
	}

	namespaces, err := r.Resolver.ResolveNamespaces(ctx, registry)
	if err != nil {
		r.recordError(ctx, err)

		return errors.Wrapf(err, "failed to resolve namespaces of %s", registry.Name)
	}

	var result error

	created, err := r.applyConfigMap(ctx, registry)
	if err != nil {
		logger.Error("failed to apply config map", "configMap", registry.ConfigMapName(), "error", err)
		result = errors.CombineErrors(result, err)
	}

	err = r.applyCredentialSecret(ctx, registry, credential)
	if err != nil {
		logger.Error("failed to apply credential secret", "secret", registry.CredentialsSecretName(), "error", err)
		result = errors.CombineErrors(result, err)
	}

	owned, listErr := r.ownedPullSecrets(ctx, registry.Name)
	if listErr != nil {
		// Creates are still attempted; stale removal needs the listing.
		logger.Error("failed to list pull secrets", "error", listErr)
		result = errors.CombineErrors(result, listErr)
	}

	propagated := 0

	for _, namespace := range namespaces {
		applied, nsErr := r.applyPullSecret(ctx, registry, namespace, authBlob, owned[namespace])
		if nsErr != nil {
			logger.Error("failed to apply pull secret", "namespace", namespace, "error", nsErr)
			result = errors.CombineErrors(result, nsErr)

			continue
		}

		if applied {
			propagated++
		}
	}

	r.Metrics.RecordPullSecrets(ctx, registry.Name, propagated)

	if listErr == nil {
		err = r.removeStale(ctx, registry.Name, namespaces, owned)
		if err != nil {
			result = errors.CombineErrors(result, err)
		}
	}

	phase := PhaseUpdate
	if created {
		phase = PhaseAdd
	}

	err = r.Syncer.Sync(ctx, registry, phase)
	if err != nil {
		logger.Error("failed to sync cleanup jobs", "phase", string(phase), "error", err)
		result = errors.CombineErrors(result, err)
	}

	if result != nil {
		r.recordError(ctx, result)

		return result
	}

	logger.Info("container registry reconciled", "namespaces", len(namespaces))

	return nil
}

// Retract removes everything derived from the registry. Only the name is used,
// so the last known state from a delete notification is enough.
func (r *RegistryReconciler) Retract(ctx context.Context, registry *v1alpha1.ContainerRegistry) error {
	logger := slog.Default().With("component", "registry-reconciler", "registry", registry.Name)
	logger.Info("retracting container registry")

	var result error

	err := r.Store.Delete(ctx, &corev1.ConfigMap{
		ObjectMeta: objectMeta(registry.ConfigMapName(), r.HomeNamespace),
	})
	if err != nil {
		result = errors.CombineErrors(result, err)
	}

	err = r.Store.Delete(ctx, &corev1.Secret{
		ObjectMeta: objectMeta(registry.CredentialsSecretName(), r.HomeNamespace),
	})
	if err != nil {
		result = errors.CombineErrors(result, err)
	}

	owned, err := r.ownedPullSecrets(ctx, registry.Name)
	if err != nil {
		result = errors.CombineErrors(result, err)
	} else {
		for namespace, secrets := range owned {
			for i := range secrets {
				err = r.removePullSecret(ctx, namespace, &secrets[i])
				if err != nil {
					logger.Error("failed to remove pull secret", "namespace", namespace, "error", err)
					result = errors.CombineErrors(result, err)
				}
			}
		}
	}

	err = r.Syncer.Sync(ctx, registry, PhaseDelete)
	if err != nil {
		result = errors.CombineErrors(result, err)
	}

	r.Metrics.RecordPullSecrets(ctx, registry.Name, 0)

	if result != nil {
		r.recordError(ctx, result)

		return result
	}

	logger.Info("container registry retracted")

	return nil
}

// applyConfigMap reports whether the ConfigMap was created, which marks the
// first reconcile of the registry.
func (r *RegistryReconciler) applyConfigMap(ctx context.Context, registry *v1alpha1.ContainerRegistry) (bool, error) {
	payload, err := json.Marshal(registryConfig{
		Hostname: registry.Spec.Hostname,
		Project:  registry.Spec.Project,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to encode registry config")
	}

	desired := string(payload)
	current := &corev1.ConfigMap{}

	found, err := r.Store.Get(ctx, registry.ConfigMapName(), r.HomeNamespace, current)
	if err != nil {
		return false, err //nolint:wrapcheck // store errors carry the object key
	}

	if !found {
		cm := r.Templates.ConfigMap(registry.ConfigMapName(), r.HomeNamespace, registry.Name,
			map[string]string{ConfigKey: desired})

		err = r.Store.Create(ctx, cm)
		if err != nil {
			return false, err //nolint:wrapcheck // store errors carry the object key
		}

		return true, nil
	}

	if current.Data[ConfigKey] == desired {
		return false, nil
	}

	if current.Data == nil {
		current.Data = make(map[string]string, 1)
	}

	current.Data[ConfigKey] = desired

	return false, r.Store.Update(ctx, current) //nolint:wrapcheck // store errors carry the object key
}

// applyCredentialSecret converges the credential Secret whichever source the
// credential came from.
func (r *RegistryReconciler) applyCredentialSecret(
	ctx context.Context,
	registry *v1alpha1.ContainerRegistry,
	credential string,
) error {
	current := &corev1.Secret{}

	found, err := r.Store.Get(ctx, registry.CredentialsSecretName(), r.HomeNamespace, current)
	if err != nil {
		return err //nolint:wrapcheck // store errors carry the object key
	}

	if !found {
		secret := r.Templates.Secret(registry.CredentialsSecretName(), r.HomeNamespace, registry.Name,
			corev1.SecretTypeOpaque, map[string][]byte{CredentialKey: []byte(credential)})

		return r.Store.Create(ctx, secret) //nolint:wrapcheck // store errors carry the object key
	}

	if string(current.Data[CredentialKey]) == credential {
		return nil
	}

	if current.Data == nil {
		current.Data = make(map[string][]byte, 1)
	}

	current.Data[CredentialKey] = []byte(credential)

	return r.Store.Update(ctx, current) //nolint:wrapcheck // store errors carry the object key
}

// applyPullSecret converges the pull secret of one namespace. It reports false
// without an error when the namespace does not exist.
func (r *RegistryReconciler) applyPullSecret(
	ctx context.Context,
	registry *v1alpha1.ContainerRegistry,
	namespace string,
	authBlob []byte,
	owned []corev1.Secret,
) (bool, error) {
	logger := slog.Default().With("component", "registry-reconciler",
		"registry", registry.Name, "namespace", namespace)

	found, err := r.Store.Exists(ctx, namespace, "", &corev1.Namespace{})
	if err != nil {
		return false, err //nolint:wrapcheck // store errors carry the object key
	}

	if !found {
		logger.Error("namespace does not exist, skipping")

		return false, nil
	}

	desiredName := registry.PullSecretName()

	var (
		current *corev1.Secret
		result  error
	)

	for i := range owned {
		if owned[i].Name == desiredName {
			current = &owned[i]

			continue
		}

		// Left over from a previous secretName.
		logger.Info("replacing renamed pull secret", "old", owned[i].Name, "new", desiredName)

		err = r.removePullSecret(ctx, namespace, &owned[i])
		if err != nil {
			result = errors.CombineErrors(result, err)
		}
	}

	if current == nil {
		secret := r.Templates.Secret(desiredName, namespace, registry.Name,
			corev1.SecretTypeDockerConfigJson, map[string][]byte{corev1.DockerConfigJsonKey: authBlob})

		err = r.Store.Create(ctx, secret)

		switch {
		case apierrors.IsAlreadyExists(err):
			// Owned secrets were not listed; converge the existing one instead.
			current = &corev1.Secret{}

			_, err = r.Store.Get(ctx, desiredName, namespace, current)
			if err != nil {
				return false, errors.CombineErrors(result, err)
			}
		case err != nil:
			return false, errors.CombineErrors(result, err)
		default:
			logger.Info("created pull secret", "secret", desiredName)
		}
	}

	if current != nil && !credentials.Equal(current.Data[corev1.DockerConfigJsonKey], authBlob) {
		if current.Data == nil {
			current.Data = make(map[string][]byte, 1)
		}

		current.Data[corev1.DockerConfigJsonKey] = authBlob

		err = r.Store.Update(ctx, current)
		if err != nil {
			return false, errors.CombineErrors(result, err)
		}

		logger.Info("updated pull secret", "secret", desiredName)
	}

	attached, err := r.Store.AttachPullSecret(ctx, store.DefaultServiceAccount, namespace, desiredName)
	if err != nil {
		return false, errors.CombineErrors(result, err)
	}

	if attached {
		logger.Info("attached pull secret to service account", "secret", desiredName)
	}

	return result == nil, result
}

// removeStale removes the pull secrets of namespaces that left the scope.
func (r *RegistryReconciler) removeStale(
	ctx context.Context,
	registryName string,
	scope []string,
	owned map[string][]corev1.Secret,
) error {
	var result error

	for namespace, secrets := range owned {
		if slices.Contains(scope, namespace) {
			continue
		}

		for i := range secrets {
			slog.Default().Info("removing pull secret from namespace out of scope",
				"component", "registry-reconciler", "registry", registryName,
				"namespace", namespace, "secret", secrets[i].Name)

			err := r.removePullSecret(ctx, namespace, &secrets[i])
			if err != nil {
				result = errors.CombineErrors(result, err)
			}
		}
	}

	return result
}

func (r *RegistryReconciler) removePullSecret(ctx context.Context, namespace string, secret *corev1.Secret) error {
	err := r.Store.Delete(ctx, secret)
	if err != nil {
		return err //nolint:wrapcheck // store errors carry the object key
	}

	_, err = r.Store.DetachPullSecret(ctx, store.DefaultServiceAccount, namespace, secret.Name)

	return err //nolint:wrapcheck // store errors carry the object key
}

// ownedPullSecrets returns the pull secrets labelled as created by the
// registry, across all namespaces, grouped by namespace. The credential Secret
// carries the same label and is told apart by its type.
func (r *RegistryReconciler) ownedPullSecrets(ctx context.Context, registryName string) (map[string][]corev1.Secret, error) {
	secrets := &corev1.SecretList{}

	err := r.Store.ListByLabel(ctx, secrets, templates.LabelCreatedBy, registryName, "")
	if err != nil {
		return nil, err //nolint:wrapcheck // store errors carry the object key
	}

	owned := make(map[string][]corev1.Secret)

	for i := range secrets.Items {
		if secrets.Items[i].Type != corev1.SecretTypeDockerConfigJson {
			continue
		}

		namespace := secrets.Items[i].Namespace
		owned[namespace] = append(owned[namespace], secrets.Items[i])
	}

	return owned, nil
}

func (r *RegistryReconciler) recordError(ctx context.Context, err error) {
	r.Metrics.RecordReconcileError(ctx, registryControllerName, classifyError(err))
}

// Target adapts the reconciler to a Dispatcher.
func (r *RegistryReconciler) Target() Target {
	return registryTarget{r}
}

type registryTarget struct {
	r *RegistryReconciler
}

func (registryTarget) Kind() string {
	return registryControllerName
}

func (registryTarget) NewList() client.ObjectList {
	return &v1alpha1.ContainerRegistryList{}
}

func (registryTarget) Items(list client.ObjectList) []client.Object {
	registries, ok := list.(*v1alpha1.ContainerRegistryList)
	if !ok {
		return nil
	}

	items := make([]client.Object, 0, len(registries.Items))
	for i := range registries.Items {
		items = append(items, &registries.Items[i])
	}

	return items
}

func (t registryTarget) Reconcile(ctx context.Context, obj client.Object) error {
	registry, ok := obj.(*v1alpha1.ContainerRegistry)
	if !ok {
		return errors.Newf("unexpected object type %T", obj)
	}

	return t.r.Reconcile(ctx, registry)
}

func (t registryTarget) Retract(ctx context.Context, obj client.Object) error {
	registry, ok := obj.(*v1alpha1.ContainerRegistry)
	if !ok {
		return errors.Newf("unexpected object type %T", obj)
	}

	return t.r.Retract(ctx, registry)
}

// Orphans finds registries that left config maps behind without a delete
// notification.
func (t registryTarget) Orphans(ctx context.Context, live []client.Object) ([]client.Object, error) {
	names := make(map[string]bool, len(live))
	for _, obj := range live {
		names[obj.GetName()] = true
	}

	configMaps := &corev1.ConfigMapList{}

	err := t.r.Store.ListAll(ctx, configMaps, t.r.HomeNamespace)
	if err != nil {
		return nil, err //nolint:wrapcheck // store errors carry the object key
	}

	var orphans []client.Object

	for i := range configMaps.Items {
		owner := configMaps.Items[i].Labels[templates.LabelCreatedBy]
		if owner == "" || names[owner] {
			continue
		}

		registry := &v1alpha1.ContainerRegistry{ObjectMeta: objectMeta(owner, t.r.HomeNamespace)}
		if registry.ConfigMapName() != configMaps.Items[i].Name {
			continue
		}

		orphans = append(orphans, registry)
	}

	return orphans, nil
}

func objectMeta(name, namespace string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name, Namespace: namespace}
}

// classifyError maps a reconcile error to a metrics error type.
func classifyError(err error) string {
	switch {
	case errors.Is(err, credentials.ErrUnsupportedRegistryKind):
		return "unsupported_kind"
	case errors.Is(err, credentials.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, config.ErrCredentialSourceMissing):
		return "credential_missing"
	case errors.Is(err, config.ErrSecretNotReady):
		return "secret_not_ready"
	case errors.Is(err, ErrInvalidSchedule):
		return "invalid_schedule"
	default:
		return metrics.ClassifyAPIError(err)
	}
}
