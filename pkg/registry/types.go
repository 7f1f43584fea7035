package registry

import (
	"time"

	"github.com/ignitionstack/ember/pkg/manifest"
)

// FunctionMetadata is the stored record of a function and its versions.
type FunctionMetadata struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Versions  []VersionInfo `json:"versions"`
}

// VersionInfo is one pushed artifact. Hash is the short digest, also usable as
// a version in references; Tags name it too.
type VersionInfo struct {
	Hash       string                           `json:"hash"`
	FullDigest string                           `json:"full_digest"`
	CreatedAt  time.Time                        `json:"created_at"`
	Size       int64                            `json:"size"`
	Tags       []string                         `json:"tags"`
	Settings   manifest.FunctionVersionSettings `json:"settings"`
	Routes     []manifest.RouteSettings         `json:"routes,omitempty"`
}

// FindVersion returns the version tagged or hashed as version.
func (m *FunctionMetadata) FindVersion(version string) (*VersionInfo, bool) {
	for i := range m.Versions {
		if HasTag(m.Versions[i].Tags, version) {
			return &m.Versions[i], true
		}
	}
	for i := range m.Versions {
		if m.Versions[i].Hash == version || m.Versions[i].FullDigest == version {
			return &m.Versions[i], true
		}
	}
	return nil, false
}
