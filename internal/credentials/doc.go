// Package credentials converts raw registry credentials into the
// kubernetes.io/dockerconfigjson payload used by image pull secrets.
//
// # Registry Kinds
//
//   - gcr: the credential is a Google service account JSON key. The username
//     is the literal "_json_key" and the password is the raw key.
//   - docker (alias docker-basic): the credential is a JSON object with
//     "username", "password" and "email" fields.
//
// In both cases the "auth" field is base64("<username>:<password>") and the
// entry is stored under auths[<hostname>].
//
// The transform is pure. Unsupported kinds and unparseable credentials are
// reported with ErrUnsupportedRegistryKind and ErrInvalidCredential so the
// caller can treat them as content errors rather than transient failures.
package credentials
