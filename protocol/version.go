package protocol

import "strings"

// Known MCP revisions.
const (
	Version20241105 = "2024-11-05"
	Version20250326 = "2025-03-26"
)

// SupportedVersions lists the revisions the client can talk to, newest first.
var SupportedVersions = []string{Version20250326, Version20241105}

// NormalizeVersion lowercases a revision and strips a leading "v".
func NormalizeVersion(version string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(version)), "v")
}

// IsSupportedVersion reports whether version is one of SupportedVersions.
// An empty version is accepted since older servers omit it.
func IsSupportedVersion(version string) bool {
	if version == "" {
		return true
	}
	normalized := NormalizeVersion(version)
	for _, v := range SupportedVersions {
		if v == normalized {
			return true
		}
	}
	return false
}
