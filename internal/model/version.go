package model

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// VersionStatus is the artifact state of a model version.
type VersionStatus string

const (
	VersionUploaded VersionStatus = "uploaded"
	VersionDeleted  VersionStatus = "deleted"
)

// DeploymentStatus is the hosting state of a model version.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentDeployed   DeploymentStatus = "deployed"
	DeploymentFailed     DeploymentStatus = "deployment_failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

// ModelVersion is a registered artifact for a model.
type ModelVersion struct {
	Model            string            `json:"model_name"`
	Version          string            `json:"version"`
	ArtifactBucket   string            `json:"artifact_bucket"`
	ArtifactKey      string            `json:"artifact_key"`
	SizeBytes        int64             `json:"file_size"`
	Status           VersionStatus     `json:"status"`
	DeploymentStatus DeploymentStatus  `json:"deployment_status"`
	EndpointName     string            `json:"endpoint_name,omitempty"`
	HostedModelName  string            `json:"sagemaker_model_name,omitempty"`
	DeploymentError  string            `json:"deployment_error,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	DeployedAt       *time.Time        `json:"deployed_at,omitempty"`
}

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

var nonReleasePrefixes = []string{"exp-", "dev-", "test-"}

// IsReleaseVersion reports whether a version string names a release build that
// may be deployed automatically on upload.
func IsReleaseVersion(version string) bool {
	for _, p := range nonReleasePrefixes {
		if strings.HasPrefix(version, p) {
			return false
		}
	}
	return semverPattern.MatchString(version)
}

// CompareVersions orders dotted numeric versions component by component and
// falls back to string comparison for anything else.
func CompareVersions(a, b string) int {
	pa, oka := parseDotted(a)
	pb, okb := parseDotted(b)
	if !oka || !okb {
		return strings.Compare(a, b)
	}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return len(pa) - len(pb)
}

// SortVersionsDesc sorts versions newest first.
func SortVersionsDesc(vs []ModelVersion) {
	slices.SortStableFunc(vs, func(x, y ModelVersion) int {
		return CompareVersions(y.Version, x.Version)
	})
}

func parseDotted(v string) ([]int, bool) {
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
