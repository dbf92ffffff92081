// Package templates loads the static object skeletons the controller fills in
// for derived ConfigMaps, Secrets and CronJobs.
//
// Skeletons are embedded in the binary and can be replaced at runtime by
// pointing --templates-dir at a directory holding configmap.yaml, secret.yaml
// and cronjob.yaml. Every builder returns a fresh deep copy, so callers may
// mutate the result freely.
package templates

import (
	"embed"
	"io/fs"
	"maps"
	"os"

	"github.com/cockroachdb/errors"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

const (
	// LabelCreatedBy is the back-reference label naming the ContainerRegistry
	// a derived object belongs to.
	LabelCreatedBy = "app.kubernetes.io/created-by"

	// LabelCleanupJob names the ContainerRegistryCleanupJob a CronJob was derived from.
	LabelCleanupJob = "registry.k8s.lex.la/cleanup-job"

	configMapFile = "configmap.yaml"
	secretFile    = "secret.yaml"
	cronJobFile   = "cronjob.yaml"
)

//go:embed skeletons/*.yaml
var embedded embed.FS

// ErrInvalidTemplate is returned when a skeleton lacks a field the controller fills in.
var ErrInvalidTemplate = errors.New("invalid template")

// Set holds the parsed skeletons.
type Set struct {
	configMap *corev1.ConfigMap
	secret    *corev1.Secret
	cronJob   *batchv1.CronJob
}

// CronJobParams are the values filled into the CronJob skeleton.
type CronJobParams struct {
	Name          string
	Namespace     string
	Labels        map[string]string
	Schedule      string
	Args          []string
	Image         string
	ConfigMapName string
	SecretName    string
}

// Load reads the skeletons from dir, or the embedded defaults when dir is empty.
func Load(dir string) (*Set, error) {
	if dir != "" {
		return New(os.DirFS(dir))
	}

	sub, err := fs.Sub(embedded, "skeletons")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedded templates")
	}

	return New(sub)
}

// New parses the skeletons from fsys.
func New(fsys fs.FS) (*Set, error) {
	set := &Set{
		configMap: &corev1.ConfigMap{},
		secret:    &corev1.Secret{},
		cronJob:   &batchv1.CronJob{},
	}

	err := decode(fsys, configMapFile, set.configMap)
	if err != nil {
		return nil, err
	}

	err = decode(fsys, secretFile, set.secret)
	if err != nil {
		return nil, err
	}

	err = decode(fsys, cronJobFile, set.cronJob)
	if err != nil {
		return nil, err
	}

	err = validateCronJob(set.cronJob)
	if err != nil {
		return nil, err
	}

	return set, nil
}

// ConfigMap returns a ConfigMap built from the skeleton.
func (s *Set) ConfigMap(name, namespace, createdBy string, data map[string]string) *corev1.ConfigMap {
	cm := s.configMap.DeepCopy()
	cm.Name = name
	cm.Namespace = namespace
	cm.Labels = withLabel(cm.Labels, LabelCreatedBy, createdBy)
	cm.Data = maps.Clone(data)

	return cm
}

// Secret returns a Secret built from the skeleton.
func (s *Set) Secret(
	name, namespace, createdBy string,
	secretType corev1.SecretType,
	data map[string][]byte,
) *corev1.Secret {
	secret := s.secret.DeepCopy()
	secret.Name = name
	secret.Namespace = namespace
	secret.Labels = withLabel(secret.Labels, LabelCreatedBy, createdBy)
	secret.Data = maps.Clone(data)

	if secretType != "" {
		secret.Type = secretType
	}

	return secret
}

// CronJob returns a CronJob built from the skeleton.
func (s *Set) CronJob(params CronJobParams) *batchv1.CronJob {
	cronJob := s.cronJob.DeepCopy()
	cronJob.Name = params.Name
	cronJob.Namespace = params.Namespace
	FillCronJob(cronJob, params)

	return cronJob
}

// FillCronJob writes the schedule, args, image, labels and volume references
// into an existing CronJob. Name and namespace are left untouched.
func FillCronJob(cronJob *batchv1.CronJob, params CronJobParams) {
	for key, value := range params.Labels {
		cronJob.Labels = withLabel(cronJob.Labels, key, value)
	}

	cronJob.Spec.Schedule = params.Schedule

	podSpec := &cronJob.Spec.JobTemplate.Spec.Template.Spec
	if len(podSpec.Containers) > 0 {
		podSpec.Containers[0].Args = append([]string(nil), params.Args...)

		if params.Image != "" {
			podSpec.Containers[0].Image = params.Image
		}
	}

	if vol := findVolume(podSpec.Volumes, isConfigMapVolume); vol != nil {
		vol.ConfigMap.Name = params.ConfigMapName
	}

	if vol := findVolume(podSpec.Volumes, isSecretVolume); vol != nil {
		vol.Secret.SecretName = params.SecretName
	}
}

func decode(fsys fs.FS, name string, into any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return errors.Wrapf(err, "failed to read template %s", name)
	}

	err = yaml.Unmarshal(data, into)
	if err != nil {
		return errors.Wrapf(err, "failed to decode template %s", name)
	}

	return nil
}

//nolint:wrapcheck // sentinel errors are marked, not wrapped
func validateCronJob(cronJob *batchv1.CronJob) error {
	podSpec := &cronJob.Spec.JobTemplate.Spec.Template.Spec

	if len(podSpec.Containers) == 0 {
		return errors.Mark(errors.Newf("%s: no containers", cronJobFile), ErrInvalidTemplate)
	}

	if findVolume(podSpec.Volumes, isConfigMapVolume) == nil {
		return errors.Mark(errors.Newf("%s: no configMap volume", cronJobFile), ErrInvalidTemplate)
	}

	if findVolume(podSpec.Volumes, isSecretVolume) == nil {
		return errors.Mark(errors.Newf("%s: no secret volume", cronJobFile), ErrInvalidTemplate)
	}

	return nil
}

func findVolume(volumes []corev1.Volume, match func(*corev1.Volume) bool) *corev1.Volume {
	for i := range volumes {
		if match(&volumes[i]) {
			return &volumes[i]
		}
	}

	return nil
}

func isConfigMapVolume(vol *corev1.Volume) bool {
	return vol.ConfigMap != nil
}

func isSecretVolume(vol *corev1.Volume) bool {
	return vol.Secret != nil
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	if labels == nil {
		labels = make(map[string]string, 1)
	}

	labels[key] = value

	return labels
}
