package controller

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
	"github.com/lexfrei/registry-credentials-controller/internal/store"
	"github.com/lexfrei/registry-credentials-controller/internal/templates"
)

// Phase tells the SelectorSyncer which registry lifecycle event it runs for.
type Phase string

const (
	// PhaseAdd runs after a registry's artifacts were first created.
	PhaseAdd Phase = "ADD"

	// PhaseUpdate runs on every later reconcile of a registry.
	PhaseUpdate Phase = "UPDATE"

	// PhaseDelete runs when a registry is retracted.
	PhaseDelete Phase = "DELETE"
)

// SelectorSyncer derives one CronJob per matching (cleanup job, registry) pair.
//
// Nothing is cached between calls: every sync lists the current cleanup jobs,
// registries and CronJobs, so it is safe to call repeatedly and from both sides.
type SelectorSyncer struct {
	store         *store.Store
	templates     *templates.Set
	homeNamespace string
	cleanupImage  string
	logger        *slog.Logger
}

// NewSelectorSyncer creates a new SelectorSyncer. An empty cleanupImage keeps
// the image of the CronJob template.
func NewSelectorSyncer(
	s *store.Store,
	tmpl *templates.Set,
	homeNamespace string,
	cleanupImage string,
) *SelectorSyncer {
	return &SelectorSyncer{
		store:         s,
		templates:     tmpl,
		homeNamespace: homeNamespace,
		cleanupImage:  cleanupImage,
		logger:        slog.Default().With("component", "selector-syncer"),
	}
}

// Sync re-derives the CronJobs of one registry against every cleanup job.
//
//   - ADD creates the CronJob of each matching pair when absent.
//   - UPDATE does the same and also deletes CronJobs of pairs that stopped matching.
//     Schedule and args changes are picked up by the cleanup job side only.
//   - DELETE removes every CronJob derived for the registry.
func (s *SelectorSyncer) Sync(ctx context.Context, registry *v1alpha1.ContainerRegistry, phase Phase) error {
	logger := s.logger.With("registry", registry.Name, "phase", string(phase))

	jobs := &v1alpha1.ContainerRegistryCleanupJobList{}

	err := s.store.ListAll(ctx, jobs, s.homeNamespace)
	if err != nil {
		return errors.Wrap(err, "failed to list cleanup jobs")
	}

	var result error

	for i := range jobs.Items {
		job := &jobs.Items[i]
		name := job.CronJobName(registry.Name)
		matches := job.Spec.Selector.Matches(registry.Labels)

		if matches && phase != PhaseDelete && ValidateSchedule(job.Spec.Schedule) != nil {
			// Reported by the cleanup job's own reconcile.
			logger.Debug("skipping cleanup job with invalid schedule", "cleanupJob", job.Name)

			continue
		}

		var stepErr error

		switch phase {
		case PhaseAdd:
			if matches {
				stepErr = s.createIfAbsent(ctx, job, registry)
			}
		case PhaseUpdate:
			if matches {
				stepErr = s.createIfAbsent(ctx, job, registry)
			} else {
				stepErr = s.deleteCronJob(ctx, name)
			}
		case PhaseDelete:
			stepErr = s.deleteCronJob(ctx, name)
		default:
			return errors.Newf("unknown sync phase %q", phase)
		}

		if stepErr != nil {
			logger.Error("failed to sync cron job", "cleanupJob", job.Name, "cronJob", name, "error", stepErr)
			result = errors.CombineErrors(result, stepErr)
		}
	}

	if phase == PhaseDelete {
		// CronJobs whose cleanup job is already gone are only reachable by label.
		err = s.deleteByLabel(ctx, templates.LabelCreatedBy, registry.Name)
		if err != nil {
			result = errors.CombineErrors(result, err)
		}
	}

	return result
}

// SyncCleanupJob converges the CronJobs derived from one cleanup job: each
// matching registry gets a CronJob that is created when absent and updated when
// its schedule, args, image or volumes drifted. CronJobs of this cleanup job
// whose registry no longer matches, or no longer exists, are deleted.
func (s *SelectorSyncer) SyncCleanupJob(ctx context.Context, job *v1alpha1.ContainerRegistryCleanupJob) error {
	logger := s.logger.With("cleanupJob", job.Name)

	err := ValidateSchedule(job.Spec.Schedule)
	if err != nil {
		return err
	}

	registries := &v1alpha1.ContainerRegistryList{}

	err = s.store.ListAll(ctx, registries, s.homeNamespace)
	if err != nil {
		return errors.Wrap(err, "failed to list container registries")
	}

	desired := make(map[string]struct{}, len(registries.Items))

	var result error

	for i := range registries.Items {
		registry := &registries.Items[i]
		if !job.Spec.Selector.Matches(registry.Labels) {
			continue
		}

		desired[job.CronJobName(registry.Name)] = struct{}{}

		stepErr := s.createOrUpdate(ctx, job, registry)
		if stepErr != nil {
			logger.Error("failed to apply cron job", "registry", registry.Name, "error", stepErr)
			result = errors.CombineErrors(result, stepErr)
		}
	}

	existing := &batchv1.CronJobList{}

	err = s.store.ListByLabel(ctx, existing, templates.LabelCleanupJob, job.Name, s.homeNamespace)
	if err != nil {
		return errors.CombineErrors(result, errors.Wrap(err, "failed to list derived cron jobs"))
	}

	for i := range existing.Items {
		cronJob := &existing.Items[i]
		if _, keep := desired[cronJob.Name]; keep {
			continue
		}

		logger.Info("deleting cron job of registry that no longer matches", "cronJob", cronJob.Name)

		stepErr := s.store.Delete(ctx, cronJob)
		if stepErr != nil {
			result = errors.CombineErrors(result, stepErr)
		}
	}

	return result
}

// RetractCleanupJob deletes every CronJob derived from the named cleanup job.
func (s *SelectorSyncer) RetractCleanupJob(ctx context.Context, name string) error {
	return s.deleteByLabel(ctx, templates.LabelCleanupJob, name)
}

// CleanupJobOwners returns the distinct cleanup job names found on derived CronJobs.
func (s *SelectorSyncer) CleanupJobOwners(ctx context.Context) ([]string, error) {
	cronJobs := &batchv1.CronJobList{}

	err := s.store.ListAll(ctx, cronJobs, s.homeNamespace)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list derived cron jobs")
	}

	seen := make(map[string]bool)

	var owners []string

	for i := range cronJobs.Items {
		owner := cronJobs.Items[i].Labels[templates.LabelCleanupJob]
		if owner == "" || seen[owner] {
			continue
		}

		seen[owner] = true
		owners = append(owners, owner)
	}

	return owners, nil
}

func (s *SelectorSyncer) createIfAbsent(
	ctx context.Context,
	job *v1alpha1.ContainerRegistryCleanupJob,
	registry *v1alpha1.ContainerRegistry,
) error {
	name := job.CronJobName(registry.Name)

	found, err := s.store.Exists(ctx, name, s.homeNamespace, &batchv1.CronJob{})
	if err != nil {
		return err //nolint:wrapcheck // store errors carry the object key
	}

	if found {
		return nil
	}

	return s.create(ctx, job, registry)
}

func (s *SelectorSyncer) createOrUpdate(
	ctx context.Context,
	job *v1alpha1.ContainerRegistryCleanupJob,
	registry *v1alpha1.ContainerRegistry,
) error {
	name := job.CronJobName(registry.Name)
	current := &batchv1.CronJob{}

	found, err := s.store.Get(ctx, name, s.homeNamespace, current)
	if err != nil {
		return err //nolint:wrapcheck // store errors carry the object key
	}

	if !found {
		return s.create(ctx, job, registry)
	}

	updated := current.DeepCopy()
	templates.FillCronJob(updated, s.params(job, registry))

	if equality.Semantic.DeepEqual(current.Spec, updated.Spec) &&
		equality.Semantic.DeepEqual(current.Labels, updated.Labels) {
		s.logger.Debug("cron job unchanged", "cronJob", name)

		return nil
	}

	s.logger.Info("updating cron job", "cronJob", name, "cleanupJob", job.Name, "registry", registry.Name)

	return s.store.Update(ctx, updated) //nolint:wrapcheck // store errors carry the object key
}

func (s *SelectorSyncer) create(
	ctx context.Context,
	job *v1alpha1.ContainerRegistryCleanupJob,
	registry *v1alpha1.ContainerRegistry,
) error {
	cronJob := s.templates.CronJob(s.params(job, registry))

	err := s.store.Create(ctx, cronJob)
	if apierrors.IsAlreadyExists(err) {
		// Created concurrently from the other side of the selector.
		return nil
	}

	if err != nil {
		return err //nolint:wrapcheck // store errors carry the object key
	}

	s.logger.Info("created cron job", "cronJob", cronJob.Name, "cleanupJob", job.Name, "registry", registry.Name)

	return nil
}

func (s *SelectorSyncer) deleteCronJob(ctx context.Context, name string) error {
	cronJob := &batchv1.CronJob{}

	found, err := s.store.Get(ctx, name, s.homeNamespace, cronJob)
	if err != nil || !found {
		return err //nolint:wrapcheck // store errors carry the object key
	}

	s.logger.Info("deleting cron job", "cronJob", name)

	return s.store.Delete(ctx, cronJob) //nolint:wrapcheck // store errors carry the object key
}

func (s *SelectorSyncer) deleteByLabel(ctx context.Context, key, value string) error {
	cronJobs := &batchv1.CronJobList{}

	err := s.store.ListByLabel(ctx, cronJobs, key, value, s.homeNamespace)
	if err != nil {
		return errors.Wrap(err, "failed to list derived cron jobs")
	}

	var result error

	for i := range cronJobs.Items {
		s.logger.Info("deleting cron job", "cronJob", cronJobs.Items[i].Name, "label", key, "value", value)

		err = s.store.Delete(ctx, &cronJobs.Items[i])
		if err != nil {
			result = errors.CombineErrors(result, err)
		}
	}

	return result
}

func (s *SelectorSyncer) params(
	job *v1alpha1.ContainerRegistryCleanupJob,
	registry *v1alpha1.ContainerRegistry,
) templates.CronJobParams {
	return templates.CronJobParams{
		Name:      job.CronJobName(registry.Name),
		Namespace: s.homeNamespace,
		Labels: map[string]string{
			templates.LabelCleanupJob: job.Name,
			templates.LabelCreatedBy:  registry.Name,
		},
		Schedule:      job.Spec.Schedule,
		Args:          job.Spec.Args,
		Image:         s.cleanupImage,
		ConfigMapName: registry.ConfigMapName(),
		SecretName:    registry.CredentialsSecretName(),
	}
}
