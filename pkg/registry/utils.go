package registry

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ignitionstack/ember/pkg/manifest"
)

// ShortDigestLength is the length of VersionInfo.Hash
const ShortDigestLength = 12

// Digest returns the content digest of an artifact, "sha256:<hex>".
func Digest(payload []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(payload))
}

// ShortDigest strips the algorithm prefix and truncates.
func ShortDigest(digest string) string {
	if len(digest) > 7 && digest[:7] == "sha256:" {
		digest = digest[7:]
	}
	return TruncateDigest(digest, ShortDigestLength)
}

func TruncateDigest(digest string, length int) string {
	if len(digest) <= length {
		return digest
	}
	return digest[:length]
}

func HasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func RemoveTagFromVersions(versions *[]VersionInfo, tag string) {
	for i := range *versions {
		(*versions)[i].Tags = RemoveTag((*versions)[i].Tags, tag)
	}
}

func AddTagToVersion(versions *[]VersionInfo, shortDigest, tag string) {
	for i := range *versions {
		if (*versions)[i].Hash == shortDigest {
			if !HasTag((*versions)[i].Tags, tag) {
				(*versions)[i].Tags = append((*versions)[i].Tags, tag)
			}
			break
		}
	}
}

func RemoveTag(tags []string, tagToRemove string) []string {
	result := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != tagToRemove {
			result = append(result, t)
		}
	}
	return result
}

func CreateVersionInfo(shortDigest, fullDigest string, payload []byte, tags []string, settings manifest.FunctionSettings) VersionInfo {
	kept := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag != "" && !HasTag(kept, tag) {
			kept = append(kept, tag)
		}
	}

	return VersionInfo{
		Hash:       shortDigest,
		FullDigest: fullDigest,
		Size:       int64(len(payload)),
		CreatedAt:  time.Now(),
		Tags:       kept,
		Settings:   settings.VersionSettings,
		Routes:     settings.Routes,
	}
}
