package controller

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
	"github.com/lexfrei/registry-credentials-controller/internal/config"
	"github.com/lexfrei/registry-credentials-controller/internal/metrics"
	"github.com/lexfrei/registry-credentials-controller/internal/queue"
	"github.com/lexfrei/registry-credentials-controller/internal/store"
	"github.com/lexfrei/registry-credentials-controller/internal/templates"
)

// Config holds all configuration options for the controller manager.
// Values are typically populated from CLI flags or environment variables.
type Config struct {
	// Namespace is the home namespace: ContainerRegistry and cleanup job
	// resources are watched here, and ConfigMaps, credential Secrets and
	// CronJobs are created here.
	Namespace string

	// ResyncInterval is the period of the full resync sweep.
	ResyncInterval time.Duration

	// SecretWaitInterval and SecretWaitTimeout bound the wait for a
	// credential Secret referenced through secretRef.
	SecretWaitInterval time.Duration
	SecretWaitTimeout  time.Duration

	// MaxConcurrentReconciles bounds parallel reconciles of different
	// resources. Reconciles of the same resource never overlap.
	MaxConcurrentReconciles int

	// TemplatesDir overrides the embedded object templates.
	TemplatesDir string

	// CleanupImage overrides the container image of derived CronJobs.
	CleanupImage string

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string

	// HealthAddr is the address for health and readiness probe endpoints.
	HealthAddr string

	// LeaderElect enables leader election for high availability.
	// Required when running multiple replicas.
	LeaderElect bool

	// LeaderElectNS is the namespace for the leader election lease.
	LeaderElectNS string

	// LeaderElectName is the name of the leader election lease.
	LeaderElectName string
}

// Components are the wired parts of the controller, built by NewComponents.
type Components struct {
	Store                *store.Store
	Resolver             *config.Resolver
	Syncer               *SelectorSyncer
	RegistryReconciler   *RegistryReconciler
	CleanupJobReconciler *CleanupJobReconciler
	RegistryDispatcher   *Dispatcher
	CleanupDispatcher    *Dispatcher
}

// NewComponents wires the store, reconcilers, serializers and dispatchers on
// top of a direct (uncached) client.
func NewComponents(
	c client.WithWatch,
	tmpl *templates.Set,
	metricsCollector metrics.Collector,
	cfg *Config,
) *Components {
	resourceStore := store.New(c, metricsCollector)
	resolver := config.NewResolver(resourceStore, cfg.Namespace, cfg.SecretWaitInterval, cfg.SecretWaitTimeout)
	syncer := NewSelectorSyncer(resourceStore, tmpl, cfg.Namespace, cfg.CleanupImage)

	registryReconciler := &RegistryReconciler{
		Store:         resourceStore,
		Resolver:      resolver,
		Templates:     tmpl,
		Syncer:        syncer,
		Metrics:       metricsCollector,
		HomeNamespace: cfg.Namespace,
	}

	cleanupJobReconciler := &CleanupJobReconciler{
		Syncer:  syncer,
		Metrics: metricsCollector,
	}

	opts := DispatcherOptions{
		Namespace:      cfg.Namespace,
		ResyncInterval: cfg.ResyncInterval,
		Metrics:        metricsCollector,
	}

	return &Components{
		Store:                resourceStore,
		Resolver:             resolver,
		Syncer:               syncer,
		RegistryReconciler:   registryReconciler,
		CleanupJobReconciler: cleanupJobReconciler,
		RegistryDispatcher: NewDispatcher(c, registryReconciler.Target(),
			queue.New(registryControllerName, cfg.MaxConcurrentReconciles, metricsCollector), opts),
		CleanupDispatcher: NewDispatcher(c, cleanupJobReconciler.Target(),
			queue.New(cleanupJobControllerName, cfg.MaxConcurrentReconciles, metricsCollector), opts),
	}
}

// Run initializes and starts the controller manager with the provided configuration.
// It blocks until the context is cancelled or an error occurs.
//
// The function performs the following steps:
//  1. Loads the object templates
//  2. Initializes controller-runtime manager with metrics, health endpoints and leader election
//  3. Builds a direct watch-capable client, the store and the reconcilers
//  4. Registers one dispatcher per resource kind as a leader-only runnable
//  5. Starts the manager and blocks until shutdown
//
//nolint:funlen,noinlineerr // controller setup requires multiple steps
func Run(ctx context.Context, cfg *Config) error {
	logger := log.FromContext(ctx).WithName("manager")
	logger.Info("initializing controller manager", "namespace", cfg.Namespace)

	tmpl, err := templates.Load(cfg.TemplatesDir)
	if err != nil {
		return errors.Wrap(err, "failed to load templates")
	}

	mgrOptions := ctrl.Options{
		Metrics: server.Options{
			BindAddress: cfg.MetricsAddr,
		},
		HealthProbeBindAddress: cfg.HealthAddr,
	}

	if cfg.LeaderElect {
		mgrOptions.LeaderElection = true
		mgrOptions.LeaderElectionID = cfg.LeaderElectName
		mgrOptions.LeaderElectionNamespace = cfg.LeaderElectNS

		logger.Info("leader election enabled",
			"id", cfg.LeaderElectName,
			"namespace", cfg.LeaderElectNS,
		)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), mgrOptions)
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	if err := v1alpha1.AddToScheme(mgr.GetScheme()); err != nil {
		return errors.Wrap(err, "failed to add registry scheme")
	}

	directClient, err := client.NewWithWatch(mgr.GetConfig(), client.Options{
		Scheme: mgr.GetScheme(),
		Mapper: mgr.GetRESTMapper(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create watch client")
	}

	metricsCollector := metrics.NewCollector(ctrlmetrics.Registry)
	components := NewComponents(directClient, tmpl, metricsCollector, cfg)

	if err := mgr.Add(components.RegistryDispatcher); err != nil {
		return errors.Wrap(err, "failed to add registry dispatcher")
	}

	if err := mgr.Add(components.CleanupDispatcher); err != nil {
		return errors.Wrap(err, "failed to add cleanup job dispatcher")
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up health check")
	}

	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up ready check")
	}

	logger.Info("starting manager")

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}
