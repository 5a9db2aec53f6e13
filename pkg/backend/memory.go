package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// Memory is an in-memory backend implementing Builder, ArtifactStore,
// and Deployer. It records every call so tests and dry runs can assert
// on what the pipeline asked for.
type Memory struct {
	mu        sync.Mutex
	builds    []BuildResult
	artifacts map[string]StoredArtifact
	current   map[string]string
	history   map[string][]string
	deploys   []Deployment

	// FailBuilds makes TriggerBuild report a failed build.
	FailBuilds bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		artifacts: make(map[string]StoredArtifact),
		current:   make(map[string]string),
		history:   make(map[string][]string),
	}
}

func artifactKey(repository, version string) string {
	return repository + "@" + version
}

// TriggerBuild records a build and numbers it sequentially.
func (m *Memory) TriggerBuild(_ context.Context, jobName string, params map[string]string) (*BuildResult, error) {
	if jobName == "" {
		return nil, fmt.Errorf("job name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := BuildResult{
		JobName:      jobName,
		BuildNumber:  len(m.builds) + 1,
		Succeeded:    !m.FailBuilds,
		ArtifactPath: params["artifact_path"],
	}
	if !result.Succeeded {
		result.Log = "build failed"
	}
	m.builds = append(m.builds, result)
	return &result, nil
}

// Upload stores the content and returns its sha256 digest.
func (m *Memory) Upload(_ context.Context, repository, path, version string, content []byte) (*StoredArtifact, error) {
	if repository == "" || version == "" {
		return nil, fmt.Errorf("repository and version required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := artifactKey(repository, version)
	if _, exists := m.artifacts[key]; exists {
		return nil, fmt.Errorf("artifact %s already exists, versions are immutable", key)
	}
	stored := StoredArtifact{
		Repository: repository,
		Path:       path,
		Version:    version,
		Digest:     schema.DigestBytes(content),
		Size:       int64(len(content)),
	}
	m.artifacts[key] = stored
	return &stored, nil
}

// Resolve looks up a stored artifact by repository and version.
func (m *Memory) Resolve(_ context.Context, repository, version string) (*StoredArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.artifacts[artifactKey(repository, version)]
	if !ok {
		return nil, fmt.Errorf("artifact %s@%s not found", repository, version)
	}
	return &stored, nil
}

// Deploy promotes a version into an environment.
func (m *Memory) Deploy(_ context.Context, env, version string) (*Deployment, error) {
	if env == "" || version == "" {
		return nil, fmt.Errorf("environment and version required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dep := Deployment{
		Environment:     env,
		Version:         version,
		PreviousVersion: m.current[env],
	}
	m.history[env] = append(m.history[env], version)
	m.current[env] = version
	m.deploys = append(m.deploys, dep)
	return &dep, nil
}

// Rollback reverts an environment to an earlier version. The version
// must have been deployed to that environment before.
func (m *Memory) Rollback(_ context.Context, env, version, reason string) (*Deployment, error) {
	if reason == "" {
		return nil, fmt.Errorf("rollback reason required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deployed := false
	for _, v := range m.history[env] {
		if v == version {
			deployed = true
			break
		}
	}
	if !deployed {
		return nil, fmt.Errorf("version %s was never deployed to %s", version, env)
	}
	dep := Deployment{
		Environment:     env,
		Version:         version,
		PreviousVersion: m.current[env],
		Rollback:        true,
		Reason:          reason,
	}
	m.history[env] = append(m.history[env], version)
	m.current[env] = version
	m.deploys = append(m.deploys, dep)
	return &dep, nil
}

// Current returns the version an environment is running.
func (m *Memory) Current(_ context.Context, env string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	version, ok := m.current[env]
	if !ok {
		return "", fmt.Errorf("nothing deployed to %s", env)
	}
	return version, nil
}

// Builds returns every recorded build.
func (m *Memory) Builds() []BuildResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BuildResult, len(m.builds))
	copy(out, m.builds)
	return out
}

// Deployments returns every recorded deploy and rollback, in order.
func (m *Memory) Deployments() []Deployment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Deployment, len(m.deploys))
	copy(out, m.deploys)
	return out
}
