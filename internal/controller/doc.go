// Package controller implements the ContainerRegistry and
// ContainerRegistryCleanupJob controllers.
//
// The package provides two reconcilers:
//
//   - RegistryReconciler: converges the config ConfigMap, the credential
//     Secret and one image pull secret per target namespace, attached to the
//     namespace's default ServiceAccount, for every ContainerRegistry.
//
//   - CleanupJobReconciler: derives one CronJob per pair of cleanup job and
//     ContainerRegistry matched by the cleanup job's selector.
//
// # Architecture
//
// Each kind is driven by its own Dispatcher and serializer:
//
//	watch stream ──> Dispatcher ──> Serializer (per-key FIFO)
//	                    ▲                 │
//	     resync sweep ──┘                 ▼
//	                          Registry / CleanupJob reconciler
//	                                      │
//	                                      ▼
//	                               SelectorSyncer ──> Store ──> API server
//
// The Dispatcher resubscribes whenever the watch stream ends and resubmits
// every resource on each resync sweep. The serializer never runs two items for
// the same resource at once. All state is read back from the API server on
// every operation; pull secrets are found through the
// app.kubernetes.io/created-by label.
//
// # Configuration
//
// Controllers are configured via the Config struct which accepts settings
// from CLI flags or environment variables (RC_* prefix).
//
// # Leader Election
//
// When running multiple replicas, enable leader election via --leader-elect so
// that only one replica runs the dispatchers at a time.
package controller
