package credentials

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/registry-credentials-controller/api/v1alpha1"
)

// GCRUsername is the fixed username for Google service account JSON keys.
const GCRUsername = "_json_key"

var (
	// ErrUnsupportedRegistryKind is returned for registry kinds without a transform.
	ErrUnsupportedRegistryKind = errors.New("unsupported registry kind")

	// ErrInvalidCredential is returned when a credential cannot be parsed for its kind.
	ErrInvalidCredential = errors.New("invalid registry credential")
)

// DockerConfigJSON is the payload stored under .dockerconfigjson.
type DockerConfigJSON struct {
	Auths map[string]DockerConfigEntry `json:"auths"`
}

// DockerConfigEntry holds the credentials for a single registry host.
type DockerConfigEntry struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email,omitempty"`
	Auth     string `json:"auth,omitempty"`
}

// basicCredential is the expected shape of docker credentials.
type basicCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// BuildPullSecret returns the .dockerconfigjson payload for the credential.
//
//nolint:wrapcheck // sentinel errors are marked, not wrapped
func BuildPullSecret(credential, hostname string, kind v1alpha1.ImageRegistryKind) ([]byte, error) {
	var entry DockerConfigEntry

	switch kind {
	case v1alpha1.ImageRegistryGCR:
		entry = DockerConfigEntry{
			Username: GCRUsername,
			Password: credential,
			Auth:     encodeAuth(GCRUsername, credential),
		}
	case v1alpha1.ImageRegistryDocker, v1alpha1.ImageRegistryDockerBasic:
		var basic basicCredential

		err := json.Unmarshal([]byte(credential), &basic)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to parse docker credential"), ErrInvalidCredential)
		}

		entry = DockerConfigEntry{
			Username: basic.Username,
			Password: basic.Password,
			Email:    basic.Email,
			Auth:     encodeAuth(basic.Username, basic.Password),
		}
	default:
		return nil, errors.Mark(errors.Newf("registry kind %q", kind), ErrUnsupportedRegistryKind)
	}

	cfg := DockerConfigJSON{
		Auths: map[string]DockerConfigEntry{hostname: entry},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode docker config")
	}

	return data, nil
}

// Parse decodes a .dockerconfigjson payload.
func Parse(data []byte) (*DockerConfigJSON, error) {
	var cfg DockerConfigJSON

	err := json.Unmarshal(data, &cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse docker config")
	}

	return &cfg, nil
}

// Equal reports whether two .dockerconfigjson payloads carry the same credentials.
// Payloads that do not parse are compared byte for byte.
func Equal(current, desired []byte) bool {
	if bytes.Equal(current, desired) {
		return true
	}

	currentCfg, err := Parse(current)
	if err != nil {
		return false
	}

	desiredCfg, err := Parse(desired)
	if err != nil {
		return false
	}

	if len(currentCfg.Auths) != len(desiredCfg.Auths) {
		return false
	}

	for host, entry := range desiredCfg.Auths {
		if currentCfg.Auths[host] != entry {
			return false
		}
	}

	return true
}

func encodeAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
