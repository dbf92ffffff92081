package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RegistrySelector picks the ContainerRegistries a cleanup job runs against.
// Exactly one field is expected to be set; an unset field never matches.
type RegistrySelector struct {
	// Environment matches the "environment" label of ContainerRegistry resources.
	// +optional
	Environment string `json:"environment,omitempty"`

	// Registry matches the "registry" label of ContainerRegistry resources.
	// +optional
	Registry string `json:"registry,omitempty"`
}

// ContainerRegistryCleanupJobSpec defines the desired state of ContainerRegistryCleanupJob.
type ContainerRegistryCleanupJobSpec struct {
	// Schedule is a standard five-field cron expression or a descriptor such as "@daily".
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Schedule string `json:"schedule"`

	// Args are passed to the cleanup container.
	// +optional
	Args []string `json:"args,omitempty"`

	// Selector picks the registries to clean up.
	// +kubebuilder:validation:Required
	Selector RegistrySelector `json:"selector"`
}

// +kubebuilder:object:root=true
// +kubebuilder:resource:shortName=cregclean
// +kubebuilder:printcolumn:name="Schedule",type=string,JSONPath=`.spec.schedule`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// ContainerRegistryCleanupJob is the Schema for the containerregistrycleanupjobs API.
// One CronJob is derived for every ContainerRegistry matching the selector.
type ContainerRegistryCleanupJob struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ContainerRegistryCleanupJobSpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// ContainerRegistryCleanupJobList contains a list of ContainerRegistryCleanupJob.
type ContainerRegistryCleanupJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ContainerRegistryCleanupJob `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ContainerRegistryCleanupJob{}, &ContainerRegistryCleanupJobList{})
}

// Matches reports whether the selector picks a registry with the given labels.
func (s *RegistrySelector) Matches(labels map[string]string) bool {
	if s.Environment != "" && s.Environment == labels[LabelEnvironment] {
		return true
	}

	return s.Registry != "" && s.Registry == labels[LabelRegistry]
}

// CronJobName returns the name of the CronJob derived for the given registry.
func (j *ContainerRegistryCleanupJob) CronJobName(registryName string) string {
	return CronJobName(j.Name, registryName)
}

// CronJobName returns "<cleanupJobName>-<registryName>-cron-job".
func CronJobName(cleanupJobName, registryName string) string {
	return cleanupJobName + "-" + registryName + "-cron-job"
}
