package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/harnessctl/pkg/config"
)

// Defaults for Config fields left empty.
const (
	DefaultListen       = ":5000"
	DefaultJenkinsJob   = "harness-automation"
	DefaultMaxBodyBytes = 1 << 20
	DefaultJenkinsWait  = 30 * time.Second

	// ServiceName is reported by the health endpoint.
	ServiceName = "harness-webhook-handler"
)

// Config configures a Server.
type Config struct {
	Listen string

	// GitHubSecret verifies X-Hub-Signature-256. Empty disables the check.
	GitHubSecret string

	// GitLabToken is compared with X-Gitlab-Token. Empty disables the check.
	GitLabToken string

	Jenkins  JenkinsConfig
	Defaults TemplateDefaults

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

// JenkinsConfig locates the job that provisions projects.
type JenkinsConfig struct {
	URL   string
	User  string
	Token string
	Job   string

	// Timeout bounds one trigger request.
	Timeout time.Duration

	// MaxAttempts counts attempts on transport errors.
	MaxAttempts int
}

// TemplateDefaults are the pipeline templates every build is told to use.
type TemplateDefaults struct {
	NonProdRef     string
	NonProdVersion string
	ProdRef        string
	ProdVersion    string
}

// ConfigFromSettings maps CLI settings onto a Config.
func ConfigFromSettings(s config.WebhookSettings) Config {
	return Config{
		Listen:       s.Listen,
		GitHubSecret: s.GitHubSecret,
		GitLabToken:  s.GitLabToken,
		Jenkins: JenkinsConfig{
			URL:   s.Jenkins.URL,
			User:  s.Jenkins.User,
			Token: s.Jenkins.Token,
			Job:   s.Jenkins.Job,
		},
		Defaults: TemplateDefaults{
			NonProdRef:     s.Templates.NonProdRef,
			NonProdVersion: s.Templates.NonProdVersion,
			ProdRef:        s.Templates.ProdRef,
			ProdVersion:    s.Templates.ProdVersion,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Jenkins.Job == "" {
		c.Jenkins.Job = DefaultJenkinsJob
	}
	if c.Jenkins.Timeout <= 0 {
		c.Jenkins.Timeout = DefaultJenkinsWait
	}
	if c.Jenkins.MaxAttempts <= 0 {
		c.Jenkins.MaxAttempts = 3
	}
	c.Jenkins.URL = strings.TrimRight(c.Jenkins.URL, "/")

	d := &c.Defaults
	if d.NonProdRef == "" {
		d.NonProdRef = config.DefaultNonProdTemplateRef
	}
	if d.NonProdVersion == "" {
		d.NonProdVersion = config.DefaultTemplateVersion
	}
	if d.ProdRef == "" {
		d.ProdRef = config.DefaultProdTemplateRef
	}
	if d.ProdVersion == "" {
		d.ProdVersion = config.DefaultTemplateVersion
	}
}

func (c JenkinsConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("jenkins url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("jenkins url %q must start with http:// or https://", c.URL)
	}
	return nil
}
