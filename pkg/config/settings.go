package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SettingsFileName is the base name of the CLI settings file, looked up in
// the working directory and the home directory (as a dotfile).
const SettingsFileName = "harnessctl"

// EnvPrefix prefixes every settings environment variable.
const EnvPrefix = "HARNESSCTL"

// Settings are the CLI settings. Unlike the provisioning document they
// describe how harnessctl runs, not what it creates.
type Settings struct {
	Log       LogSettings       `mapstructure:"log"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	History   HistorySettings   `mapstructure:"history"`
	Report    ReportSettings    `mapstructure:"report"`
	Client    ClientSettings    `mapstructure:"client"`
	Webhook   WebhookSettings   `mapstructure:"webhook"`
	Harness   HarnessOverrides  `mapstructure:"harness"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetrySettings struct {
	Tracing struct {
		Exporter     string  `mapstructure:"exporter"`
		Endpoint     string  `mapstructure:"endpoint"`
		Insecure     bool    `mapstructure:"insecure"`
		SamplingRate float64 `mapstructure:"sampling_rate"`
	} `mapstructure:"tracing"`
	Metrics struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"metrics"`
}

type HistorySettings struct {
	DB string `mapstructure:"db"`
}

type ReportSettings struct {
	Dir string `mapstructure:"dir"`
}

// ClientSettings tune the Harness API client.
type ClientSettings struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
	BackoffUnit time.Duration `mapstructure:"backoff_unit"`
}

// WebhookSettings configure `harnessctl serve`.
type WebhookSettings struct {
	Listen       string          `mapstructure:"listen"`
	GitHubSecret string          `mapstructure:"github_secret"`
	GitLabToken  string          `mapstructure:"gitlab_token"`
	Jenkins      JenkinsSettings `mapstructure:"jenkins"`
	Templates    TemplateRefs    `mapstructure:"templates"`
}

type JenkinsSettings struct {
	URL   string `mapstructure:"url"`
	User  string `mapstructure:"user"`
	Token string `mapstructure:"token"`
	Job   string `mapstructure:"job"`
}

// TemplateRefs name the pipeline templates passed to the Jenkins job.
type TemplateRefs struct {
	NonProdRef     string `mapstructure:"nonprod_ref"`
	NonProdVersion string `mapstructure:"nonprod_version"`
	ProdRef        string `mapstructure:"prod_ref"`
	ProdVersion    string `mapstructure:"prod_version"`
}

// HarnessOverrides replace the document credentials when set.
type HarnessOverrides struct {
	APIKey    string `mapstructure:"api_key"`
	AccountID string `mapstructure:"account_id"`
}

// DefaultTemplateVersion is the template version label sent to Jenkins when
// none is configured.
const DefaultTemplateVersion = "v1760729233"

func setSettingsDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("telemetry.tracing.exporter", "none")
	v.SetDefault("telemetry.tracing.endpoint", "localhost:4317")
	v.SetDefault("telemetry.tracing.insecure", true)
	v.SetDefault("telemetry.tracing.sampling_rate", 1.0)
	v.SetDefault("telemetry.metrics.listen", "")

	v.SetDefault("history.db", defaultHistoryDB())
	v.SetDefault("report.dir", ".")

	v.SetDefault("client.max_attempts", 3)
	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.backoff_unit", time.Second)

	v.SetDefault("webhook.listen", ":5000")
	v.SetDefault("webhook.github_secret", "")
	v.SetDefault("webhook.gitlab_token", "")
	v.SetDefault("webhook.jenkins.url", "http://localhost:8080")
	v.SetDefault("webhook.jenkins.user", "admin")
	v.SetDefault("webhook.jenkins.token", "")
	v.SetDefault("webhook.jenkins.job", "harness-automation")
	v.SetDefault("webhook.templates.nonprod_ref", DefaultNonProdTemplateRef)
	v.SetDefault("webhook.templates.nonprod_version", DefaultTemplateVersion)
	v.SetDefault("webhook.templates.prod_ref", DefaultProdTemplateRef)
	v.SetDefault("webhook.templates.prod_version", DefaultTemplateVersion)

	v.SetDefault("harness.api_key", "")
	v.SetDefault("harness.account_id", "")
}

// bindLegacyEnv maps the unprefixed variable names used by existing
// deployments onto settings keys.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"harness.api_key":       "HARNESS_API_KEY",
		"harness.account_id":    "HARNESS_ACCOUNT_ID",
		"log.level":             "LOG_LEVEL",
		"webhook.github_secret": "GITHUB_WEBHOOK_SECRET",
		"webhook.gitlab_token":  "GITLAB_WEBHOOK_TOKEN",
		"webhook.jenkins.url":   "JENKINS_URL",
		"webhook.jenkins.user":  "JENKINS_USER",
		"webhook.jenkins.token": "JENKINS_TOKEN",
		"webhook.jenkins.job":   "JENKINS_JOB_NAME",
	}
	for key, env := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// NewSettingsViper returns a viper instance with defaults and environment
// bindings registered. Callers may bind flags before calling LoadSettings.
func NewSettingsViper() (*viper.Viper, error) {
	v := viper.New()
	setSettingsDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadSettings reads settings from path, or from the first of
// ./harnessctl.yaml and ~/.harnessctl.yaml that exists when path is empty.
// Running without any settings file is fine.
func LoadSettings(v *viper.Viper, path string) (*Settings, error) {
	if path == "" {
		path = findSettingsFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &s, nil
}

func findSettingsFile() string {
	candidates := []string{SettingsFileName + ".yaml"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, "."+SettingsFileName+".yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func defaultHistoryDB() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "harnessctl.db"
	}
	return filepath.Join(home, ".harnessctl", "history.db")
}
