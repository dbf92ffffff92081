package controller

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
	"github.com/lexfrei/registry-credentials-controller/internal/config"
	"github.com/lexfrei/registry-credentials-controller/internal/credentials"
	"github.com/lexfrei/registry-credentials-controller/internal/metrics"
	"github.com/lexfrei/registry-credentials-controller/internal/templates"
)

func pullSecretRefs(names ...string) []corev1.LocalObjectReference {
	refs := make([]corev1.LocalObjectReference, 0, len(names))
	for _, name := range names {
		refs = append(refs, corev1.LocalObjectReference{Name: name})
	}

	return refs
}

func TestRegistryReconciler_Reconcile_CreatesArtifacts(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", nil, "ns1")
	c := newFakeClient(
		activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"),
		serviceAccount("ns1"), serviceAccount("ns2"),
		registry,
	)
	r := newTestComponents(t, c).RegistryReconciler

	require.NoError(t, r.Reconcile(context.Background(), registry))

	cm := &corev1.ConfigMap{}
	require.True(t, getObject(t, c, "acme-config", testNamespace, cm))
	assert.JSONEq(t, `{"hostname":"eu.gcr.io","project":"acme-project"}`, cm.Data[ConfigKey])
	assert.Equal(t, "acme", cm.Labels[templates.LabelCreatedBy])

	credSecret := &corev1.Secret{}
	require.True(t, getObject(t, c, "acme-registry-credentials", testNamespace, credSecret))
	assert.Equal(t, corev1.SecretTypeOpaque, credSecret.Type)
	assert.Equal(t, testCredential, string(credSecret.Data[CredentialKey]))
	assert.Equal(t, "acme", credSecret.Labels[templates.LabelCreatedBy])

	expected, err := credentials.BuildPullSecret(testCredential, testHostname, v1alpha1.ImageRegistryGCR)
	require.NoError(t, err)

	pullSecret := &corev1.Secret{}
	require.True(t, getObject(t, c, "acme-image-pull-secret", "ns1", pullSecret))
	assert.Equal(t, corev1.SecretTypeDockerConfigJson, pullSecret.Type)
	assert.JSONEq(t, string(expected), string(pullSecret.Data[corev1.DockerConfigJsonKey]))
	assert.Equal(t, "acme", pullSecret.Labels[templates.LabelCreatedBy])

	sa := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns1", sa))
	assert.Empty(t, cmp.Diff(pullSecretRefs("acme-image-pull-secret"), sa.ImagePullSecrets))

	assert.False(t, getObject(t, c, "acme-image-pull-secret", "ns2", &corev1.Secret{}),
		"namespaces out of scope receive nothing")
}

func TestRegistryReconciler_Reconcile_MovesBetweenNamespaces(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", nil, "ns1")
	c := newFakeClient(
		activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"),
		serviceAccount("ns1", "unrelated"), serviceAccount("ns2"),
	)
	r := newTestComponents(t, c).RegistryReconciler
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, registry))

	registry.Spec.Namespaces = []string{"ns2"}
	require.NoError(t, r.Reconcile(ctx, registry))

	assert.False(t, getObject(t, c, "acme-image-pull-secret", "ns1", &corev1.Secret{}))
	assert.True(t, getObject(t, c, "acme-image-pull-secret", "ns2", &corev1.Secret{}))

	sa1 := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns1", sa1))
	assert.Empty(t, cmp.Diff(pullSecretRefs("unrelated"), sa1.ImagePullSecrets),
		"foreign references are preserved")

	sa2 := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns2", sa2))
	assert.Empty(t, cmp.Diff(pullSecretRefs("acme-image-pull-secret"), sa2.ImagePullSecrets))
}

func TestRegistryReconciler_Reconcile_Idempotent(t *testing.T) {
	t.Parallel()

	counter := &writeCounter{}
	registry := newRegistry("acme", map[string]string{v1alpha1.LabelEnvironment: "dev"}, "ns1", "ns2")
	c := countingClient(newFakeClient(
		activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"),
		serviceAccount("ns1"), serviceAccount("ns2"),
		registry,
		newCleanupJob("nightly", "0 3 * * *", v1alpha1.RegistrySelector{Environment: "dev"}),
	), counter)
	r := newTestComponents(t, c).RegistryReconciler
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, registry))
	assert.Positive(t, counter.total())

	counter.reset()

	require.NoError(t, r.Reconcile(ctx, registry))
	assert.Zero(t, counter.total(), "second reconcile without changes performs no writes")
}

func TestRegistryReconciler_Reconcile_UpdatesChangedCredential(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", nil, "ns1")
	c := newFakeClient(activeNamespace(testNamespace), activeNamespace("ns1"), serviceAccount("ns1"))
	r := newTestComponents(t, c).RegistryReconciler
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, registry))

	rotated := `{"type":"service_account","project_id":"acme","private_key_id":"2"}`
	registry.Spec.GCRAccessData = rotated
	registry.Spec.Project = "acme-next"
	require.NoError(t, r.Reconcile(ctx, registry))

	credSecret := &corev1.Secret{}
	require.True(t, getObject(t, c, "acme-registry-credentials", testNamespace, credSecret))
	assert.Equal(t, rotated, string(credSecret.Data[CredentialKey]))

	cm := &corev1.ConfigMap{}
	require.True(t, getObject(t, c, "acme-config", testNamespace, cm))
	assert.JSONEq(t, `{"hostname":"eu.gcr.io","project":"acme-next"}`, cm.Data[ConfigKey])

	pullSecret := &corev1.Secret{}
	require.True(t, getObject(t, c, "acme-image-pull-secret", "ns1", pullSecret))

	cfg, err := credentials.Parse(pullSecret.Data[corev1.DockerConfigJsonKey])
	require.NoError(t, err)
	assert.Equal(t, rotated, cfg.Auths[testHostname].Password)
}

func TestRegistryReconciler_Reconcile_RenamedPullSecret(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", nil, "ns1")
	registry.Spec.SecretName = "old-pull"

	c := newFakeClient(activeNamespace(testNamespace), activeNamespace("ns1"), serviceAccount("ns1", "unrelated"))
	r := newTestComponents(t, c).RegistryReconciler
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, registry))
	require.True(t, getObject(t, c, "old-pull", "ns1", &corev1.Secret{}))

	registry.Spec.SecretName = "new-pull"
	require.NoError(t, r.Reconcile(ctx, registry))

	assert.False(t, getObject(t, c, "old-pull", "ns1", &corev1.Secret{}), "old pull secret is removed")
	assert.True(t, getObject(t, c, "new-pull", "ns1", &corev1.Secret{}))

	sa := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns1", sa))
	assert.Empty(t, cmp.Diff(pullSecretRefs("unrelated", "new-pull"), sa.ImagePullSecrets))
}

func TestRegistryReconciler_Reconcile_Wildcard(t *testing.T) {
	t.Parallel()

	terminating := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: "ns3"},
		Status:     corev1.NamespaceStatus{Phase: corev1.NamespaceTerminating},
	}

	registry := newRegistry("acme", nil, v1alpha1.NamespaceWildcard)
	c := newFakeClient(
		activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"), terminating,
		serviceAccount("ns1"), serviceAccount("ns2"),
	)
	r := newTestComponents(t, c).RegistryReconciler

	require.NoError(t, r.Reconcile(context.Background(), registry))

	for _, ns := range []string{testNamespace, "ns1", "ns2"} {
		assert.True(t, getObject(t, c, "acme-image-pull-secret", ns, &corev1.Secret{}), "namespace %s", ns)
	}

	assert.False(t, getObject(t, c, "acme-image-pull-secret", "ns3", &corev1.Secret{}),
		"namespaces that are not Active are skipped")

	assert.True(t, getObject(t, c, "acme-registry-credentials", testNamespace, &corev1.Secret{}),
		"credential secret coexists with the pull secret in the home namespace")
}

func TestRegistryReconciler_Reconcile_EmptyScopeRemovesEverywhere(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", nil, "ns1", "ns2")
	c := newFakeClient(activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"))
	r := newTestComponents(t, c).RegistryReconciler
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, registry))

	registry.Spec.Namespaces = nil
	require.NoError(t, r.Reconcile(ctx, registry))

	secrets := &corev1.SecretList{}
	require.NoError(t, c.List(ctx, secrets))

	for i := range secrets.Items {
		assert.NotEqual(t, corev1.SecretTypeDockerConfigJson, secrets.Items[i].Type,
			"pull secret %s/%s left behind", secrets.Items[i].Namespace, secrets.Items[i].Name)
	}

	assert.True(t, getObject(t, c, "acme-config", testNamespace, &corev1.ConfigMap{}))
}

func TestRegistryReconciler_Reconcile_SkipsMissingNamespace(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", nil, "ns1", "ghost")
	c := newFakeClient(activeNamespace(testNamespace), activeNamespace("ns1"), serviceAccount("ns1"))
	r := newTestComponents(t, c).RegistryReconciler

	require.NoError(t, r.Reconcile(context.Background(), registry))

	assert.True(t, getObject(t, c, "acme-image-pull-secret", "ns1", &corev1.Secret{}))
	assert.False(t, getObject(t, c, "acme-image-pull-secret", "ghost", &corev1.Secret{}))
}

func TestRegistryReconciler_Reconcile_DockerKind(t *testing.T) {
	t.Parallel()

	registry := newRegistry("hub", nil, "ns1")
	registry.Spec.Hostname = "registry.example.com"
	registry.Spec.ImageRegistry = v1alpha1.ImageRegistryDocker
	registry.Spec.GCRAccessData = `{"username":"bot","password":"s3cret","email":"bot@example.com"}`

	c := newFakeClient(activeNamespace(testNamespace), activeNamespace("ns1"))
	r := newTestComponents(t, c).RegistryReconciler

	require.NoError(t, r.Reconcile(context.Background(), registry))

	pullSecret := &corev1.Secret{}
	require.True(t, getObject(t, c, "hub-image-pull-secret", "ns1", pullSecret))

	cfg, err := credentials.Parse(pullSecret.Data[corev1.DockerConfigJsonKey])
	require.NoError(t, err)

	want := credentials.DockerConfigEntry{
		Username: "bot",
		Password: "s3cret",
		Email:    "bot@example.com",
		Auth:     base64.StdEncoding.EncodeToString([]byte("bot:s3cret")),
	}
	assert.Empty(t, cmp.Diff(want, cfg.Auths["registry.example.com"]))
}

func TestRegistryReconciler_Reconcile_SecretRef(t *testing.T) {
	t.Parallel()

	source := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "acme-source", Namespace: testNamespace},
		Data:       map[string][]byte{"key.json": []byte(testCredential)},
	}

	registry := newRegistry("acme", nil, "ns1")
	registry.Spec.GCRAccessData = ""
	registry.Spec.SecretRef = "acme-source"

	c := newFakeClient(activeNamespace(testNamespace), activeNamespace("ns1"), source)
	r := newTestComponents(t, c).RegistryReconciler

	require.NoError(t, r.Reconcile(context.Background(), registry))

	credSecret := &corev1.Secret{}
	require.True(t, getObject(t, c, "acme-registry-credentials", testNamespace, credSecret))
	assert.Equal(t, testCredential, string(credSecret.Data[CredentialKey]))
}

func TestRegistryReconciler_Reconcile_CredentialErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*v1alpha1.ContainerRegistry)
		wantErr   error
		errorType string
	}{
		{
			name: "no credential source",
			mutate: func(r *v1alpha1.ContainerRegistry) {
				r.Spec.GCRAccessData = ""
			},
			wantErr:   config.ErrCredentialSourceMissing,
			errorType: "credential_missing",
		},
		{
			name: "referenced secret never appears",
			mutate: func(r *v1alpha1.ContainerRegistry) {
				r.Spec.GCRAccessData = ""
				r.Spec.SecretRef = "missing"
			},
			wantErr:   config.ErrSecretNotReady,
			errorType: "secret_not_ready",
		},
		{
			name: "malformed docker credential",
			mutate: func(r *v1alpha1.ContainerRegistry) {
				r.Spec.ImageRegistry = v1alpha1.ImageRegistryDocker
				r.Spec.GCRAccessData = "not-json"
			},
			wantErr:   credentials.ErrInvalidCredential,
			errorType: "invalid_credential",
		},
		{
			name: "unsupported kind",
			mutate: func(r *v1alpha1.ContainerRegistry) {
				r.Spec.ImageRegistry = "ecr"
			},
			wantErr:   credentials.ErrUnsupportedRegistryKind,
			errorType: "unsupported_kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			registry := newRegistry("acme", nil, "ns1")
			tt.mutate(registry)

			reg := prometheus.NewRegistry()
			c := newFakeClient(activeNamespace(testNamespace), activeNamespace("ns1"))
			r := newTestComponents(t, c).RegistryReconciler
			r.Metrics = metrics.NewCollector(reg)

			err := r.Reconcile(context.Background(), registry)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			assert.False(t, getObject(t, c, "acme-config", testNamespace, &corev1.ConfigMap{}),
				"nothing is written before the credential resolves")

			expected := `
# HELP regcred_reconcile_errors_total Total reconcile errors by type
# TYPE regcred_reconcile_errors_total counter
regcred_reconcile_errors_total{controller="registry",error_type="` + tt.errorType + `"} 1
`
			assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "regcred_reconcile_errors_total"))
		})
	}
}

func TestRegistryReconciler_Retract(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", map[string]string{v1alpha1.LabelEnvironment: "dev"}, "ns1", "ns2")
	c := newFakeClient(
		activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"),
		serviceAccount("ns1", "unrelated"), serviceAccount("ns2"),
		newCleanupJob("nightly", "@daily", v1alpha1.RegistrySelector{Environment: "dev"}),
	)
	r := newTestComponents(t, c).RegistryReconciler
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, registry))
	require.True(t, getObject(t, c, "nightly-acme-cron-job", testNamespace, &batchv1.CronJob{}))

	// Only the name survives a delete notification.
	gone := &v1alpha1.ContainerRegistry{
		ObjectMeta: metav1.ObjectMeta{Name: "acme", Namespace: testNamespace},
	}
	require.NoError(t, r.Retract(ctx, gone))

	assert.False(t, getObject(t, c, "acme-config", testNamespace, &corev1.ConfigMap{}))
	assert.False(t, getObject(t, c, "acme-registry-credentials", testNamespace, &corev1.Secret{}))
	assert.False(t, getObject(t, c, "acme-image-pull-secret", "ns1", &corev1.Secret{}))
	assert.False(t, getObject(t, c, "acme-image-pull-secret", "ns2", &corev1.Secret{}))
	assert.False(t, getObject(t, c, "nightly-acme-cron-job", testNamespace, &batchv1.CronJob{}))

	sa1 := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns1", sa1))
	assert.Empty(t, cmp.Diff(pullSecretRefs("unrelated"), sa1.ImagePullSecrets))

	sa2 := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns2", sa2))
	assert.Empty(t, sa2.ImagePullSecrets)

	require.NoError(t, r.Retract(ctx, gone), "retract is idempotent")
}

func TestRegistryReconciler_Retract_KeepsOtherRegistries(t *testing.T) {
	t.Parallel()

	acme := newRegistry("acme", nil, "ns1")
	other := newRegistry("other", nil, "ns1")
	c := newFakeClient(activeNamespace(testNamespace), activeNamespace("ns1"), serviceAccount("ns1"))
	r := newTestComponents(t, c).RegistryReconciler
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, acme))
	require.NoError(t, r.Reconcile(ctx, other))
	require.NoError(t, r.Retract(ctx, acme))

	assert.True(t, getObject(t, c, "other-image-pull-secret", "ns1", &corev1.Secret{}))
	assert.True(t, getObject(t, c, "other-config", testNamespace, &corev1.ConfigMap{}))

	sa := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns1", sa))
	assert.Empty(t, cmp.Diff(pullSecretRefs("other-image-pull-secret"), sa.ImagePullSecrets))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "unsupported kind", err: errors.Wrap(credentials.ErrUnsupportedRegistryKind, "x"), want: "unsupported_kind"},
		{name: "invalid credential", err: errors.Wrap(credentials.ErrInvalidCredential, "x"), want: "invalid_credential"},
		{name: "missing source", err: errors.Wrap(config.ErrCredentialSourceMissing, "x"), want: "credential_missing"},
		{name: "secret not ready", err: errors.Wrap(config.ErrSecretNotReady, "x"), want: "secret_not_ready"},
		{name: "invalid schedule", err: ValidateSchedule("nope"), want: "invalid_schedule"},
		{name: "other", err: errors.New("boom"), want: metrics.ClassifyAPIError(errors.New("boom"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestRegistryReconciler_AcmeScenario(t *testing.T) {
	t.Parallel()

	registry := &v1alpha1.ContainerRegistry{
		ObjectMeta: metav1.ObjectMeta{Name: "acme", Namespace: testNamespace},
		Spec: v1alpha1.ContainerRegistrySpec{
			Hostname:      "gcr.io",
			Project:       "p1",
			GCRAccessData: `{"type":"service_account"}`,
			Namespaces:    []string{"ns1"},
		},
	}

	c := newFakeClient(
		activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"),
		serviceAccount("ns1"), serviceAccount("ns2"),
	)
	r := newTestComponents(t, c).RegistryReconciler
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, registry))

	cm := &corev1.ConfigMap{}
	require.True(t, getObject(t, c, "acme-config", testNamespace, cm))
	assert.Equal(t, `{"hostname":"gcr.io","project":"p1"}`, cm.Data[ConfigKey])
	assert.True(t, getObject(t, c, "acme-registry-credentials", testNamespace, &corev1.Secret{}))

	pullSecret := &corev1.Secret{}
	require.True(t, getObject(t, c, "acme-image-pull-secret", "ns1", pullSecret))

	cfg, err := credentials.Parse(pullSecret.Data[corev1.DockerConfigJsonKey])
	require.NoError(t, err)
	assert.Equal(t, credentials.GCRUsername, cfg.Auths["gcr.io"].Username)

	registry.Spec.Namespaces = []string{"ns2"}
	require.NoError(t, r.Reconcile(ctx, registry))

	assert.False(t, getObject(t, c, "acme-image-pull-secret", "ns1", &corev1.Secret{}))
	assert.True(t, getObject(t, c, "acme-image-pull-secret", "ns2", &corev1.Secret{}))

	sa1 := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns1", sa1))
	assert.Empty(t, sa1.ImagePullSecrets)

	sa2 := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns2", sa2))
	assert.Empty(t, cmp.Diff(pullSecretRefs("acme-image-pull-secret"), sa2.ImagePullSecrets))
}

func TestRegistryReconciler_Reconcile_IsolatesNamespaceFailures(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", nil, "ns1", "ns2")
	base := newFakeClient(
		activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"),
		serviceAccount("ns1"), serviceAccount("ns2"),
		registry,
	)
	c := interceptor.NewClient(base, interceptor.Funcs{
		Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			if _, ok := obj.(*corev1.Secret); ok && obj.GetNamespace() == "ns1" {
				return errors.New("apiserver unavailable")
			}

			return c.Create(ctx, obj, opts...)
		},
	})
	r := newTestComponents(t, c).RegistryReconciler

	err := r.Reconcile(context.Background(), registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiserver unavailable")

	assert.False(t, getObject(t, c, "acme-image-pull-secret", "ns1", &corev1.Secret{}))
	assert.True(t, getObject(t, c, "acme-image-pull-secret", "ns2", &corev1.Secret{}))
	assert.True(t, getObject(t, c, "acme-config", testNamespace, &corev1.ConfigMap{}))

	sa1 := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns1", sa1))
	assert.Empty(t, sa1.ImagePullSecrets)

	sa2 := &corev1.ServiceAccount{}
	require.True(t, getObject(t, c, "default", "ns2", sa2))
	assert.Empty(t, cmp.Diff(pullSecretRefs("acme-image-pull-secret"), sa2.ImagePullSecrets))
}

func TestRegistryReconciler_Reconcile_PullSecretListFailure(t *testing.T) {
	t.Parallel()

	registry := newRegistry("acme", nil, "ns1", "ns2")
	existing := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "acme-image-pull-secret",
			Namespace: "ns1",
			Labels:    map[string]string{templates.LabelCreatedBy: "acme"},
		},
		Type: corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{corev1.DockerConfigJsonKey: []byte(`{"auths":{}}`)},
	}
	stale := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "acme-image-pull-secret",
			Namespace: "old",
			Labels:    map[string]string{templates.LabelCreatedBy: "acme"},
		},
		Type: corev1.SecretTypeDockerConfigJson,
	}

	base := newFakeClient(
		activeNamespace(testNamespace), activeNamespace("ns1"), activeNamespace("ns2"), activeNamespace("old"),
		serviceAccount("ns1"), serviceAccount("ns2"),
		registry, existing, stale,
	)
	c := interceptor.NewClient(base, interceptor.Funcs{
		List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
			if _, ok := list.(*corev1.SecretList); ok {
				return errors.New("apiserver unavailable")
			}

			return c.List(ctx, list, opts...)
		},
	})
	r := newTestComponents(t, c).RegistryReconciler

	err := r.Reconcile(context.Background(), registry)
	require.Error(t, err)

	expected, err := credentials.BuildPullSecret(testCredential, testHostname, v1alpha1.ImageRegistryGCR)
	require.NoError(t, err)

	for _, namespace := range []string{"ns1", "ns2"} {
		secret := &corev1.Secret{}
		require.True(t, getObject(t, c, "acme-image-pull-secret", namespace, secret), namespace)
		assert.Equal(t, string(expected), string(secret.Data[corev1.DockerConfigJsonKey]), namespace)

		sa := &corev1.ServiceAccount{}
		require.True(t, getObject(t, c, "default", namespace, sa))
		assert.Empty(t, cmp.Diff(pullSecretRefs("acme-image-pull-secret"), sa.ImagePullSecrets), namespace)
	}

	assert.True(t, getObject(t, c, "acme-image-pull-secret", "old", &corev1.Secret{}),
		"stale secrets are kept until owned secrets can be listed")
}
