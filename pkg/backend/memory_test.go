package backend

import (
	"context"
	"testing"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

func TestUploadReturnsContentDigest(t *testing.T) {
	m := NewMemory()
	content := []byte("artifact bytes")

	stored, err := m.Upload(context.Background(), "releases", "svc/app.tgz", "1.2.0", content)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if stored.Digest != schema.DigestBytes(content) {
		t.Fatalf("digest = %q, want sha256 of content", stored.Digest)
	}
	if !schema.IsHexDigest(stored.Digest) {
		t.Fatalf("digest %q is not lowercase hex sha256", stored.Digest)
	}

	resolved, err := m.Resolve(context.Background(), "releases", "1.2.0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Digest != stored.Digest {
		t.Fatalf("resolve digest mismatch")
	}
}

func TestUploadRejectsVersionOverwrite(t *testing.T) {
	m := NewMemory()
	if _, err := m.Upload(context.Background(), "releases", "a", "1.0.0", []byte("one")); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if _, err := m.Upload(context.Background(), "releases", "a", "1.0.0", []byte("two")); err == nil {
		t.Fatalf("expected immutability error on version overwrite")
	}
}

func TestDeployTracksPreviousVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Deploy(ctx, "prod", "1.0.0"); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	dep, err := m.Deploy(ctx, "prod", "1.1.0")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if dep.PreviousVersion != "1.0.0" {
		t.Fatalf("previous = %q, want 1.0.0", dep.PreviousVersion)
	}
	current, err := m.Current(ctx, "prod")
	if err != nil || current != "1.1.0" {
		t.Fatalf("current = %q, %v", current, err)
	}
}

func TestRollbackRequiresPriorDeployAndReason(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Deploy(ctx, "prod", "1.0.0"); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := m.Deploy(ctx, "prod", "1.1.0"); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	if _, err := m.Rollback(ctx, "prod", "1.0.0", ""); err == nil {
		t.Fatalf("rollback without reason must fail")
	}
	if _, err := m.Rollback(ctx, "prod", "9.9.9", "bad release"); err == nil {
		t.Fatalf("rollback to never-deployed version must fail")
	}

	dep, err := m.Rollback(ctx, "prod", "1.0.0", "latency regression")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !dep.Rollback || dep.Reason != "latency regression" || dep.PreviousVersion != "1.1.0" {
		t.Fatalf("unexpected rollback record: %+v", dep)
	}
	current, _ := m.Current(ctx, "prod")
	if current != "1.0.0" {
		t.Fatalf("current after rollback = %q", current)
	}
}

func TestTriggerBuildNumbersSequentially(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.TriggerBuild(ctx, "svc-main", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := m.TriggerBuild(ctx, "svc-main", map[string]string{"artifact_path": "out/app.tgz"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if first.BuildNumber != 1 || second.BuildNumber != 2 {
		t.Fatalf("build numbers = %d, %d", first.BuildNumber, second.BuildNumber)
	}
	if second.ArtifactPath != "out/app.tgz" {
		t.Fatalf("artifact path lost")
	}

	m.FailBuilds = true
	failed, err := m.TriggerBuild(ctx, "svc-main", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if failed.Succeeded {
		t.Fatalf("expected failed build")
	}
}
