package storage

import (
	"strings"

	"github.com/google/uuid"
)

// ObjectKey builds the job-scoped storage key for an artifact URL.
func ObjectKey(jobID, artifactURL string) string {
	return "jobs/" + jobID + "/" + uuid.NewString() + ExtensionFromURL(artifactURL)
}

// ExtensionFromURL maps an artifact URL to a file extension, defaulting to
// .bin for anything unrecognized.
func ExtensionFromURL(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return ".jpg"
	case strings.HasSuffix(lower, ".png"):
		return ".png"
	case strings.HasSuffix(lower, ".gif"):
		return ".gif"
	case strings.HasSuffix(lower, ".mp4"):
		return ".mp4"
	case strings.HasSuffix(lower, ".wav"):
		return ".wav"
	case strings.HasSuffix(lower, ".mp3"):
		return ".mp3"
	default:
		return ".bin"
	}
}

// LegacyKeyFromURL recovers a storage key from a stored object URL for jobs
// persisted before structured keys existed. Such URLs look like
// http://host:9000/bucket/jobs/{id}/{file}; the key is the last three path
// segments.
func LegacyKeyFromURL(rawURL string) string {
	parts := strings.Split(rawURL, "/")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[len(parts)-3:], "/")
}
