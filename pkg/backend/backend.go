// Package backend defines the narrow interfaces the pipeline uses to
// reach build, artifact, and deployment systems. Implementations hold
// the credentials; the orchestrator only sees results.
package backend

import "context"

// BuildResult reports a finished build.
type BuildResult struct {
	JobName      string `json:"job_name"`
	BuildNumber  int    `json:"build_number"`
	Succeeded    bool   `json:"succeeded"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Log          string `json:"log,omitempty"`
}

// Builder triggers CI builds.
type Builder interface {
	TriggerBuild(ctx context.Context, jobName string, params map[string]string) (*BuildResult, error)
}

// StoredArtifact identifies an uploaded artifact by content digest.
type StoredArtifact struct {
	Repository string `json:"repository"`
	Path       string `json:"path"`
	Version    string `json:"version"`
	// Digest is the sha256 of the uploaded bytes, computed server side
	// and checked against the local hash before the upload is trusted.
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// ArtifactStore uploads and resolves versioned artifacts.
type ArtifactStore interface {
	Upload(ctx context.Context, repository, path, version string, content []byte) (*StoredArtifact, error)
	Resolve(ctx context.Context, repository, version string) (*StoredArtifact, error)
}

// Deployment reports a deploy or rollback that was carried out.
type Deployment struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	// PreviousVersion is what the environment ran before this change.
	PreviousVersion string `json:"previous_version,omitempty"`
	Rollback        bool   `json:"rollback,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Deployer promotes artifact versions into environments and rolls them
// back. Both directions go through the same approval machinery upstream;
// the deployer just executes.
type Deployer interface {
	Deploy(ctx context.Context, env, version string) (*Deployment, error)
	Rollback(ctx context.Context, env, version, reason string) (*Deployment, error)
	Current(ctx context.Context, env string) (string, error)
}
