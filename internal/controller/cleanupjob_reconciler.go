package controller

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
	"github.com/lexfrei/registry-credentials-controller/internal/metrics"
)

const cleanupJobControllerName = "cleanupjob"

// ErrInvalidSchedule is returned for a cleanup job schedule that is not a valid cron expression.
var ErrInvalidSchedule = errors.New("invalid cron schedule")

// scheduleParser accepts what the CronJob controller accepts: five fields or a descriptor.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule checks a cleanup job schedule.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return errors.Mark(errors.New("schedule is empty"), ErrInvalidSchedule)
	}

	_, err := scheduleParser.Parse(schedule)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "schedule %q", schedule), ErrInvalidSchedule)
	}

	return nil
}

// CleanupJobReconciler applies and retracts the CronJobs derived from
// ContainerRegistryCleanupJob resources.
type CleanupJobReconciler struct {
	Syncer  *SelectorSyncer
	Metrics metrics.Collector
}

// Reconcile converges the CronJobs of one cleanup job.
func (r *CleanupJobReconciler) Reconcile(ctx context.Context, job *v1alpha1.ContainerRegistryCleanupJob) error {
	logger := slog.Default().With("component", "cleanupjob-reconciler", "cleanupJob", job.Name)
	logger.Info("reconciling cleanup job", "schedule", job.Spec.Schedule)

	err := r.Syncer.SyncCleanupJob(ctx, job)
	if err != nil {
		r.Metrics.RecordReconcileError(ctx, cleanupJobControllerName, classifyError(err))

		if errors.Is(err, ErrInvalidSchedule) {
			logger.Error("cleanup job has an invalid schedule, not retrying until it changes", "error", err)
		}

		return errors.Wrapf(err, "failed to reconcile cleanup job %s", job.Name)
	}

	return nil
}

// Retract deletes every CronJob derived from the cleanup job. Only the name is used.
func (r *CleanupJobReconciler) Retract(ctx context.Context, job *v1alpha1.ContainerRegistryCleanupJob) error {
	slog.Default().Info("retracting cleanup job", "component", "cleanupjob-reconciler", "cleanupJob", job.Name)

	err := r.Syncer.RetractCleanupJob(ctx, job.Name)
	if err != nil {
		r.Metrics.RecordReconcileError(ctx, cleanupJobControllerName, classifyError(err))

		return errors.Wrapf(err, "failed to retract cleanup job %s", job.Name)
	}

	return nil
}

// Target adapts the reconciler to a Dispatcher.
func (r *CleanupJobReconciler) Target() Target {
	return cleanupJobTarget{r}
}

type cleanupJobTarget struct {
	r *CleanupJobReconciler
}

func (cleanupJobTarget) Kind() string {
	return cleanupJobControllerName
}

func (cleanupJobTarget) NewList() client.ObjectList {
	return &v1alpha1.ContainerRegistryCleanupJobList{}
}

func (cleanupJobTarget) Items(list client.ObjectList) []client.Object {
	jobs, ok := list.(*v1alpha1.ContainerRegistryCleanupJobList)
	if !ok {
		return nil
	}

	items := make([]client.Object, 0, len(jobs.Items))
	for i := range jobs.Items {
		items = append(items, &jobs.Items[i])
	}

	return items
}

func (t cleanupJobTarget) Reconcile(ctx context.Context, obj client.Object) error {
	job, ok := obj.(*v1alpha1.ContainerRegistryCleanupJob)
	if !ok {
		return errors.Newf("unexpected object type %T", obj)
	}

	return t.r.Reconcile(ctx, job)
}

func (t cleanupJobTarget) Retract(ctx context.Context, obj client.Object) error {
	job, ok := obj.(*v1alpha1.ContainerRegistryCleanupJob)
	if !ok {
		return errors.Newf("unexpected object type %T", obj)
	}

	return t.r.Retract(ctx, job)
}

// Orphans finds cleanup jobs that left cron jobs behind without a delete
// notification.
func (t cleanupJobTarget) Orphans(ctx context.Context, live []client.Object) ([]client.Object, error) {
	names := make(map[string]bool, len(live))
	for _, obj := range live {
		names[obj.GetName()] = true
	}

	owners, err := t.r.Syncer.CleanupJobOwners(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by the syncer
	}

	var orphans []client.Object

	for _, owner := range owners {
		if names[owner] {
			continue
		}

		orphans = append(orphans, &v1alpha1.ContainerRegistryCleanupJob{
			ObjectMeta: objectMeta(owner, t.r.Syncer.homeNamespace),
		})
	}

	return orphans, nil
}
