package v1alpha1

import (
	"slices"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// LabelEnvironment classifies a ContainerRegistry by environment for cleanup job selectors.
	LabelEnvironment = "environment"

	// LabelRegistry classifies a ContainerRegistry by registry for cleanup job selectors.
	LabelRegistry = "registry"

	// NamespaceWildcard in spec.namespaces selects every Active namespace.
	NamespaceWildcard = "*"
)

// ImageRegistryKind selects how the raw credential is turned into a docker config.
type ImageRegistryKind string

const (
	// ImageRegistryGCR treats the credential as a Google service account JSON key.
	ImageRegistryGCR ImageRegistryKind = "gcr"

	// ImageRegistryDocker treats the credential as {"username","password","email"} JSON.
	ImageRegistryDocker ImageRegistryKind = "docker"

	// ImageRegistryDockerBasic is an alias of ImageRegistryDocker.
	ImageRegistryDockerBasic ImageRegistryKind = "docker-basic"
)

// ContainerRegistrySpec defines the desired state of ContainerRegistry.
type ContainerRegistrySpec struct {
	// Hostname of the registry, used as the key under "auths" in the pull secret.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Hostname string `json:"hostname"`

	// Project is passed to cleanup jobs through the generated ConfigMap.
	// +optional
	Project string `json:"project,omitempty"`

	// GCRAccessData is the raw credential inlined in the resource.
	// Mutually exclusive with SecretRef.
	// +optional
	GCRAccessData string `json:"gcrAccessData,omitempty"`

	// SecretRef is the name of a Secret in the controller namespace holding the raw credential.
	// Mutually exclusive with GCRAccessData.
	// +optional
	SecretRef string `json:"secretRef,omitempty"`

	// Namespaces receiving the image pull secret. A single "*" selects all Active
	// namespaces; an empty list removes the pull secret everywhere.
	// +optional
	Namespaces []string `json:"namespaces,omitempty"`

	// SecretName overrides the name of the generated image pull secret.
	// Defaults to "<name>-image-pull-secret".
	// +optional
	SecretName string `json:"secretName,omitempty"`

	// ImageRegistry is the registry kind.
	// +optional
	// +kubebuilder:default=gcr
	// +kubebuilder:validation:Enum=gcr;docker;docker-basic
	ImageRegistry ImageRegistryKind `json:"imageRegistry,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:resource:shortName=creg
// +kubebuilder:printcolumn:name="Hostname",type=string,JSONPath=`.spec.hostname`
// +kubebuilder:printcolumn:name="Registry",type=string,JSONPath=`.spec.imageRegistry`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// ContainerRegistry is the Schema for the containerregistries API.
// It declares registry credentials to propagate as image pull secrets.
type ContainerRegistry struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ContainerRegistrySpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// ContainerRegistryList contains a list of ContainerRegistry.
type ContainerRegistryList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ContainerRegistry `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ContainerRegistry{}, &ContainerRegistryList{})
}

// ConfigMapName returns the name of the generated config ConfigMap.
func (r *ContainerRegistry) ConfigMapName() string {
	return r.Name + "-config"
}

// CredentialsSecretName returns the name of the generated credentials Secret.
func (r *ContainerRegistry) CredentialsSecretName() string {
	return r.Name + "-registry-credentials"
}

// PullSecretName returns the image pull secret name, defaulting to "<name>-image-pull-secret".
func (r *ContainerRegistry) PullSecretName() string {
	if r.Spec.SecretName != "" {
		return r.Spec.SecretName
	}

	return r.Name + "-image-pull-secret"
}

// RegistryKind returns the normalized registry kind, defaulting to gcr.
func (s *ContainerRegistrySpec) RegistryKind() ImageRegistryKind {
	if s.ImageRegistry == "" {
		return ImageRegistryGCR
	}

	return ImageRegistryKind(strings.ToLower(string(s.ImageRegistry)))
}

// IsWildcard reports whether the namespace scope selects all Active namespaces.
func (s *ContainerRegistrySpec) IsWildcard() bool {
	return slices.Contains(s.Namespaces, NamespaceWildcard)
}
