package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader() *Loader {
	return NewLoader(zerolog.Nop())
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := testLoader()

	policyFile := filepath.Join(t.TempDir(), "owner-tag.rego")
	require.NoError(t, os.WriteFile(policyFile, []byte(ownerTagPolicy), 0o644))

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	require.NoError(t, err, "failed to load policy")

	assert.Equal(t, "owner-tag", policy.Name)
	assert.Equal(t, "Services must carry an owner tag.", policy.Description)
	assert.Equal(t, SeverityError, policy.Severity)
	assert.Equal(t, ownerTagPolicy, policy.Rego)
	assert.True(t, policy.Enabled, "policy should be enabled by default")
	assert.Equal(t, policyFile, policy.Metadata["source"])
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := testLoader()
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.json")
	content := `{"name":"json-policy","description":"from json","rego":"package x\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n","enabled":true}`
	require.NoError(t, os.WriteFile(valid, []byte(content), 0o644))

	policy, err := loader.loadFromFile(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, "json-policy", policy.Name)
	assert.Equal(t, SeverityWarning, policy.Severity, "default severity")

	unnamed := filepath.Join(dir, "unnamed.json")
	require.NoError(t, os.WriteFile(unnamed, []byte(`{"rego":"package x"}`), 0o644))
	_, err = loader.loadFromFile(context.Background(), unnamed)
	assert.Error(t, err, "JSON policy without a name")
}

func TestExtractHeader(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		description string
		severity    Severity
	}{
		{"no comments", "package x\n", "", SeverityWarning},
		{"multi line", "# First line.\n# Second line.\npackage x\n", "First line. Second line.", SeverityWarning},
		{"severity only", "# severity: critical\npackage x\n", "", SeverityCritical},
		{"unknown severity", "# severity: loud\npackage x\n", "", SeverityWarning},
		{"comments after package ignored", "package x\n# not a header\n", "", SeverityWarning},
	}

	loader := testLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, sev := loader.extractHeader(tt.content)
			assert.Equal(t, tt.description, desc)
			assert.Equal(t, tt.severity, sev)
		})
	}
}

func TestLoadFromDirectorySkipsBrokenFiles(t *testing.T) {
	loader := testLoader()
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	files := map[string]string{
		filepath.Join(dir, "a.rego"):      ownerTagPolicy,
		filepath.Join(nested, "b.rego"):   ownerTagPolicy,
		filepath.Join(dir, "broken.json"): "{",
		filepath.Join(dir, "README.md"):   "# docs",
	}
	for path, content := range files {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644), path)
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Len(t, policies, 2)

	_, err = loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")})
	assert.Error(t, err, "missing path")
}

func TestLoaderCache(t *testing.T) {
	loader := testLoader()
	ctx := context.Background()
	policyFile := filepath.Join(t.TempDir(), "cached.rego")
	require.NoError(t, os.WriteFile(policyFile, []byte(ownerTagPolicy), 0o644))

	first, err := loader.loadFromFile(ctx, policyFile)
	require.NoError(t, err)
	second, err := loader.loadFromFile(ctx, policyFile)
	require.NoError(t, err)
	assert.Same(t, first, second, "second load should hit the cache")

	loader.ClearCache()
	third, err := loader.loadFromFile(ctx, policyFile)
	require.NoError(t, err)
	assert.NotSame(t, first, third, "ClearCache should force a fresh load")
}

func TestWatchReloadsOnChange(t *testing.T) {
	loader := testLoader()
	loader.SetDebounce(20 * time.Millisecond)

	dir := t.TempDir()
	policyDir := filepath.Join(dir, "policies")
	require.NoError(t, os.MkdirAll(policyDir, 0o755))
	docFile := filepath.Join(dir, "harness.yaml")
	require.NoError(t, os.WriteFile(docFile, []byte("project: {}\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan []Policy, 10)
	err := loader.Watch(ctx, []string{policyDir}, []string{docFile}, func(p []Policy) error {
		reloads <- p
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(policyDir, "owner-tag.rego"), []byte(ownerTagPolicy), 0o644))

	select {
	case p := <-reloads:
		require.Len(t, p, 1)
		assert.Equal(t, "owner-tag", p[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for policy reload")
	}

	require.NoError(t, os.WriteFile(docFile, []byte("project: {repo_name: x}\n"), 0o644))

	select {
	case <-reloads:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload after document change")
	}
}
