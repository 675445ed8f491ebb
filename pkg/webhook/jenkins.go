package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/telemetry"
)

// Trigger starts the provisioning job for a new project.
type Trigger interface {
	Trigger(ctx context.Context, params BuildParams) error
}

// BuildParams are the parameters of one provisioning build.
type BuildParams struct {
	ProjectName string
	Description string
	Templates   TemplateDefaults
}

// NormalizeProjectName lowercases name and replaces spaces with dashes.
func NormalizeProjectName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// Values encodes the parameters the Jenkins job expects.
func (p BuildParams) Values() url.Values {
	v := url.Values{}
	v.Set("ACTION", "create-project")
	v.Set("PROJECT_NAME", NormalizeProjectName(p.ProjectName))
	v.Set("PROJECT_DESCRIPTION", p.Description)
	v.Set("NONPROD_TEMPLATE_REF", p.Templates.NonProdRef)
	v.Set("NONPROD_TEMPLATE_VERSION", p.Templates.NonProdVersion)
	v.Set("PROD_TEMPLATE_REF", p.Templates.ProdRef)
	v.Set("PROD_TEMPLATE_VERSION", p.Templates.ProdVersion)
	v.Set("CREATE_RBAC", "true")
	return v
}

// JenkinsClient queues parameterized builds. Only transport errors are
// retried; any answer from Jenkins is final.
type JenkinsClient struct {
	cfg    JenkinsConfig
	rc     *retryablehttp.Client
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

var _ Trigger = (*JenkinsClient)(nil)

// NewJenkinsClient creates a client for cfg.
func NewJenkinsClient(cfg JenkinsConfig, tel *telemetry.Telemetry) (*JenkinsClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, engine.NewValidationError("invalid jenkins configuration", err)
	}
	if cfg.Job == "" {
		cfg.Job = DefaultJenkinsJob
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJenkinsWait
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if tel == nil {
		tel = telemetry.Nop()
	}

	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = cfg.Timeout

	rc := retryablehttp.NewClient()
	rc.HTTPClient = hc
	rc.Logger = nil
	rc.RetryMax = cfg.MaxAttempts - 1
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	j := &JenkinsClient{
		cfg:    cfg,
		rc:     rc,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("jenkins"),
	}
	rc.CheckRetry = j.checkRetry
	return j, nil
}

func (j *JenkinsClient) checkRetry(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		j.logger.WarnEvent().Err(err).Msg("Retrying Jenkins trigger")
		return true, nil
	}
	return false, nil
}

// BuildURL is the endpoint builds are queued on.
func (j *JenkinsClient) BuildURL() string {
	return fmt.Sprintf("%s/job/%s/buildWithParameters", j.cfg.URL, url.PathEscape(j.cfg.Job))
}

// Trigger queues a build. 200 and 201 count as accepted.
func (j *JenkinsClient) Trigger(ctx context.Context, params BuildParams) error {
	form := params.Values()

	j.logger.InfoEvent().
		Str("job", j.cfg.Job).
		Str("project", form.Get("PROJECT_NAME")).
		Msg("Triggering Jenkins job")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, j.BuildURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return engine.NewClientError("failed to build jenkins request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(j.cfg.User, j.cfg.Token)

	resp, err := j.rc.Do(req)
	if err != nil {
		j.tel.Metrics.RecordJenkinsTrigger("error")
		if ctx.Err() != nil {
			return engine.NewCancelledError("jenkins trigger cancelled", ctx.Err())
		}
		return engine.NewTransientError("jenkins unreachable", err).WithOperation("trigger")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		j.tel.Metrics.RecordJenkinsTrigger("rejected")
		j.logger.ErrorEvent().
			Int("status", resp.StatusCode).
			Str("body", strings.TrimSpace(string(body))).
			Msg("Jenkins rejected the build")
		return engine.NewClientError(fmt.Sprintf("jenkins answered %d", resp.StatusCode), nil).
			WithStatus(resp.StatusCode).
			WithOperation("trigger")
	}

	j.tel.Metrics.RecordJenkinsTrigger("accepted")
	j.logger.InfoEvent().
		Str("project", form.Get("PROJECT_NAME")).
		Str("queue", resp.Header.Get("Location")).
		Msg("Jenkins job triggered")
	return nil
}
