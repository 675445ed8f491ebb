package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	v, err := NewSettingsViper()
	require.NoError(t, err)
	s, err := LoadSettings(v, "")
	require.NoError(t, err)

	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, 3, s.Client.MaxAttempts)
	assert.Equal(t, 30*time.Second, s.Client.Timeout)
	assert.Equal(t, ":5000", s.Webhook.Listen)
	assert.Equal(t, "harness-automation", s.Webhook.Jenkins.Job)
	assert.Equal(t, DefaultTemplateVersion, s.Webhook.Templates.ProdVersion)
	assert.Equal(t, DefaultNonProdTemplateRef, s.Webhook.Templates.NonProdRef)
}

func TestLoadSettingsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harnessctl.yaml"), []byte(`
log:
  level: debug
client:
  timeout: 5s
webhook:
  jenkins:
    url: https://jenkins.example.com
`), 0o600))

	t.Setenv("HARNESSCTL_REPORT_DIR", "/tmp/reports")
	t.Setenv("HARNESS_API_KEY", "pat.env")
	t.Setenv("JENKINS_JOB_NAME", "provision")

	v, err := NewSettingsViper()
	require.NoError(t, err)
	s, err := LoadSettings(v, "")
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, 5*time.Second, s.Client.Timeout)
	assert.Equal(t, "https://jenkins.example.com", s.Webhook.Jenkins.URL)
	assert.Equal(t, "/tmp/reports", s.Report.Dir)
	assert.Equal(t, "pat.env", s.Harness.APIKey)
	assert.Equal(t, "provision", s.Webhook.Jenkins.Job)
}

func TestLoadSettingsExplicitMissing(t *testing.T) {
	v, err := NewSettingsViper()
	require.NoError(t, err)

	_, err = LoadSettings(v, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
