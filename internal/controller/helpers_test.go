package controller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
	"github.com/lexfrei/registry-credentials-controller/internal/metrics"
	"github.com/lexfrei/registry-credentials-controller/internal/templates"
)

const (
	testNamespace  = "registry-system"
	testHostname   = "eu.gcr.io"
	testCredential = `{"type":"service_account","project_id":"acme"}`
)

func newTestScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1alpha1.AddToScheme(scheme))

	return scheme
}

func newFakeClient(objs ...client.Object) client.WithWatch {
	return fake.NewClientBuilder().
		WithScheme(newTestScheme()).
		WithObjects(objs...).
		Build()
}

// writeCounter counts mutating API calls passing through a client.
type writeCounter struct {
	creates atomic.Int32
	updates atomic.Int32
	deletes atomic.Int32
	patches atomic.Int32
}

func (w *writeCounter) total() int32 {
	return w.creates.Load() + w.updates.Load() + w.deletes.Load() + w.patches.Load()
}

func (w *writeCounter) reset() {
	w.creates.Store(0)
	w.updates.Store(0)
	w.deletes.Store(0)
	w.patches.Store(0)
}

func countingClient(base client.WithWatch, counter *writeCounter) client.WithWatch {
	return interceptor.NewClient(base, interceptor.Funcs{
		Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			counter.creates.Add(1)

			return c.Create(ctx, obj, opts...)
		},
		Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
			counter.updates.Add(1)

			return c.Update(ctx, obj, opts...)
		},
		Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
			counter.deletes.Add(1)

			return c.Delete(ctx, obj, opts...)
		},
		Patch: func(
			ctx context.Context,
			c client.WithWatch,
			obj client.Object,
			patch client.Patch,
			opts ...client.PatchOption,
		) error {
			counter.patches.Add(1)

			return c.Patch(ctx, obj, patch, opts...)
		},
	})
}

func newTestComponents(t *testing.T, c client.WithWatch) *Components {
	t.Helper()

	tmpl, err := templates.Load("")
	require.NoError(t, err)

	return NewComponents(c, tmpl, metrics.NewNoopCollector(), &Config{
		Namespace:               testNamespace,
		ResyncInterval:          time.Hour,
		SecretWaitInterval:      10 * time.Millisecond,
		SecretWaitTimeout:       100 * time.Millisecond,
		MaxConcurrentReconciles: 2,
	})
}

func activeNamespace(name string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status:     corev1.NamespaceStatus{Phase: corev1.NamespaceActive},
	}
}

func serviceAccount(namespace string, pullSecrets ...string) *corev1.ServiceAccount {
	sa := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{Name: "default", Namespace: namespace},
	}

	for _, name := range pullSecrets {
		sa.ImagePullSecrets = append(sa.ImagePullSecrets, corev1.LocalObjectReference{Name: name})
	}

	return sa
}

func newRegistry(name string, labels map[string]string, namespaces ...string) *v1alpha1.ContainerRegistry {
	return &v1alpha1.ContainerRegistry{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels:    labels,
		},
		Spec: v1alpha1.ContainerRegistrySpec{
			Hostname:      testHostname,
			Project:       "acme-project",
			GCRAccessData: testCredential,
			Namespaces:    namespaces,
		},
	}
}

func newCleanupJob(name, schedule string, selector v1alpha1.RegistrySelector, args ...string) *v1alpha1.ContainerRegistryCleanupJob {
	return &v1alpha1.ContainerRegistryCleanupJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
		},
		Spec: v1alpha1.ContainerRegistryCleanupJobSpec{
			Schedule: schedule,
			Args:     args,
			Selector: selector,
		},
	}
}

func getObject(t *testing.T, c client.Client, name, namespace string, obj client.Object) bool {
	t.Helper()

	err := c.Get(context.Background(), client.ObjectKey{Name: name, Namespace: namespace}, obj)
	if err != nil {
		require.True(t, client.IgnoreNotFound(err) == nil, "unexpected error: %v", err)

		return false
	}

	return true
}
