package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/telemetry"
)

// Client defaults.
const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 30 * time.Second
	DefaultBackoffUnit = time.Second

	// retryCap bounds the underlying retry loop. The effective bound is the
	// per-request attempt limit enforced in checkRetry.
	retryCap = 20
)

// Content types accepted by the Harness API.
const (
	ContentTypeJSON = "application/json"
	ContentTypeYAML = "application/yaml"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL   string
	AccountID string
	OrgID     string
	APIKey    string

	// MaxAttempts is the total number of attempts for a retryable request.
	MaxAttempts int

	// Timeout bounds each attempt.
	Timeout time.Duration

	// BackoffUnit is the wait before the first retry. The wait doubles on
	// every further retry.
	BackoffUnit time.Duration

	// HTTPClient is the transport used for attempts. Its Timeout is
	// replaced by Timeout.
	HTTPClient *http.Client
}

// Request is one Harness API call.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string

	// MaxAttempts and Timeout override the client defaults when non-zero.
	MaxAttempts int
	Timeout     time.Duration
}

// Response is the decoded Harness response envelope.
type Response struct {
	StatusCode int `json:"-"`

	// AlreadyExists is set when the server answered 409.
	AlreadyExists bool `json:"-"`

	Status        string          `json:"status"`
	Data          json.RawMessage `json:"data,omitempty"`
	MetaData      json.RawMessage `json:"metaData,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`

	Raw []byte `json:"-"`
}

// HasData reports whether the envelope carries a non-empty data object.
func (r *Response) HasData() bool {
	if r == nil || len(r.Data) == 0 {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(r.Data, &m); err != nil {
		return false
	}
	return len(m) > 0
}

// DecodeData unmarshals the data field into v.
func (r *Response) DecodeData(v interface{}) error {
	if r == nil || len(r.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// Client talks to the Harness REST API. Retries, per-attempt timeouts and
// backoff are delegated to go-retryablehttp; the retry decision and the
// error classification are ours. Client is safe for concurrent use.
type Client struct {
	cfg        ClientConfig
	base       *url.URL
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
	httpClient *http.Client
	mu         sync.Mutex
	clients    map[time.Duration]*retryablehttp.Client

	// onBackoff is called with each computed wait. Tests use it to observe
	// the schedule.
	onBackoff func(retry int, wait time.Duration)
}

// NewClient creates a client. BaseURL, AccountID and APIKey are required.
func NewClient(cfg ClientConfig, tel *telemetry.Telemetry) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, engine.NewValidationError("base URL is required", nil)
	}
	if cfg.AccountID == "" {
		return nil, engine.NewValidationError("account id is required", nil)
	}
	if cfg.APIKey == "" {
		return nil, engine.NewValidationError("api key is required", nil)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, engine.NewValidationError("invalid base URL", err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = DefaultBackoffUnit
	}
	if tel == nil {
		tel = telemetry.Nop()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	c := &Client{
		cfg:        cfg,
		base:       base,
		tel:        tel,
		logger:     tel.Logger.NewComponentLogger("harness-client"),
		httpClient: hc,
		clients:    make(map[time.Duration]*retryablehttp.Client),
	}
	c.logger.DebugEvent().
		Str("base_url", base.String()).
		Str("account_id", cfg.AccountID).
		Str("api_key", telemetry.Redact(cfg.APIKey)).
		Msg("Harness client configured")

	return c, nil
}

// Config returns the client configuration with defaults applied.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// AccountID returns the account every request is scoped to.
func (c *Client) AccountID() string {
	return c.cfg.AccountID
}

// OrgID returns the organization used for org and project scoped calls.
func (c *Client) OrgID() string {
	return c.cfg.OrgID
}

// attemptState tracks the attempts of one Do call.
type attemptState struct {
	method string
	path   string
	max    int
	count  int
}

type attemptStateKey struct{}

func stateFrom(ctx context.Context) *attemptState {
	st, _ := ctx.Value(attemptStateKey{}).(*attemptState)
	return st
}

// retryClient returns the retryable client for a per-attempt timeout.
func (c *Client) retryClient(timeout time.Duration) *retryablehttp.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.clients[timeout]; ok {
		return rc
	}

	hc := *c.httpClient
	hc.Timeout = timeout

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &hc
	rc.Logger = nil
	rc.RetryMax = retryCap
	rc.RetryWaitMin = c.cfg.BackoffUnit
	rc.RetryWaitMax = c.cfg.BackoffUnit
	rc.CheckRetry = c.checkRetry
	rc.Backoff = c.backoff
	rc.RequestLogHook = c.logAttempt
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c.clients[timeout] = rc
	return rc
}

// checkRetry retries 5xx responses and transport errors until the attempt
// limit of the request is reached. Cancellation is never retried.
func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	st := stateFrom(ctx)
	if st == nil {
		return false, err
	}
	st.count++

	class := "error"
	if resp != nil {
		class = fmt.Sprintf("%dxx", resp.StatusCode/100)
	}
	c.tel.Metrics.RecordAPIAttempt(st.method, class)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}

	retryable := err != nil || (resp != nil && resp.StatusCode >= http.StatusInternalServerError)
	if !retryable || st.count >= st.max {
		return false, nil
	}

	ev := c.logger.WarnEvent().
		Str("method", st.method).
		Str("path", st.path).
		Int("attempt", st.count).
		Int("max_attempts", st.max)
	if err != nil {
		ev = ev.Err(err)
	} else {
		ev = ev.Int("status", resp.StatusCode)
	}
	ev.Msg("Retrying Harness API request")

	c.tel.Metrics.RecordAPIRetry(st.method)
	return true, nil
}

// backoff waits 2^n units before retry n, counted from zero. Retry-After is
// ignored and there is no jitter.
func (c *Client) backoff(unit, _ time.Duration, retry int, _ *http.Response) time.Duration {
	wait := unit << uint(retry)
	if c.onBackoff != nil {
		c.onBackoff(retry, wait)
	}
	return wait
}

func (c *Client) logAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	st := stateFrom(req.Context())
	if st == nil {
		return
	}
	c.logger.DebugEvent().
		Str("method", st.method).
		Str("path", st.path).
		Int("attempt", attempt+1).
		Int("max_attempts", st.max).
		Msg("Harness API request")
}

// Do sends the request and returns the decoded envelope. A 409 answer is a
// successful response with AlreadyExists set. Every error is an
// *engine.Error.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if r.ContentType == "" {
		r.ContentType = ContentTypeJSON
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	op := r.Method + " " + r.Path

	ctx, span := c.tel.Tracer.StartRequestSpan(ctx, r.Method, r.Path)
	defer span.End()

	st := &attemptState{method: r.Method, path: r.Path, max: maxAttempts}
	ctx = context.WithValue(ctx, attemptStateKey{}, st)
	timer := telemetry.NewTimer()

	resp, err := c.send(ctx, timeout, r, st)

	c.tel.Metrics.RecordAPICall(r.Method, st.count, timer.Duration())
	span.SetAttributes(telemetry.AttrAttempts.Int(st.count))
	if resp != nil {
		span.SetAttributes(telemetry.AttrHTTPStatus.Int(resp.StatusCode))
	}
	if err != nil {
		var e *engine.Error
		if errors.As(err, &e) && e.Operation == "" {
			e.WithOperation(op)
		}
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return resp, nil
}

func (c *Client) send(ctx context.Context, timeout time.Duration, r Request, st *attemptState) (*Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, r.Method, c.url(r.Path, r.Query), r.Body)
	if err != nil {
		return nil, engine.NewClientError("failed to build request", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", r.ContentType)
	req.Header.Set("Accept", ContentTypeJSON)

	httpResp, err := c.retryClient(timeout).Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, engine.NewCancelledError("request cancelled", ctxErr)
		}
		return nil, engine.NewTransientError(
			fmt.Sprintf("request failed after %d attempt(s)", st.count), err,
		).WithCode(engine.ErrCodeRetriesExhausted)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, engine.NewTransientError("failed to read response body", err).
			WithStatus(httpResp.StatusCode)
	}

	return decodeResponse(httpResp.StatusCode, body, r.Path, st.count)
}

// decodeResponse maps a final HTTP answer to a Response or a classified
// error.
func decodeResponse(status int, body []byte, path string, attempts int) (*Response, error) {
	switch {
	case status == http.StatusConflict:
		return &Response{StatusCode: status, AlreadyExists: true, Status: "already_exists", Raw: body}, nil
	case status == http.StatusNotFound:
		return nil, engine.NewNotFoundError(fmt.Sprintf("resource not found (404): %s", path), nil).
			WithStatus(status)
	case status >= 400 && status < 500:
		return nil, engine.NewClientError(errorMessage(body, status), nil).WithStatus(status)
	case status >= 500:
		return nil, engine.NewTransientError(
			fmt.Sprintf("server error after %d attempt(s): %s", attempts, errorMessage(body, status)), nil,
		).WithCode(engine.ErrCodeRetriesExhausted).WithStatus(status)
	}

	resp := &Response{StatusCode: status, Raw: body}
	if len(bytes.TrimSpace(body)) == 0 {
		resp.Status = "success"
		return resp, nil
	}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, engine.NewClientError("invalid JSON in response", err).
			WithCode(engine.ErrCodeInvalidResponse).WithStatus(status)
	}
	if resp.Status == "" {
		resp.Status = "success"
	}
	return resp, nil
}

// errorMessage extracts the server message from an error body.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fmt.Sprintf("HTTP %d", status)
}

func (c *Client) url(path string, query url.Values) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("accountIdentifier", c.cfg.AccountID)

	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()
	return u.String()
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// PostJSON marshals payload and issues a POST request.
func (c *Client) PostJSON(ctx context.Context, path string, query url.Values, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, engine.NewClientError("failed to encode request body", err)
	}
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Query: query, Body: body})
}

// PostYAML issues a POST request with a YAML body.
func (c *Client) PostYAML(ctx context.Context, path string, query url.Values, body []byte) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Query: query, Body: body, ContentType: ContentTypeYAML})
}

// OrgQuery returns the query scoping a call to the organization.
func (c *Client) OrgQuery() url.Values {
	return url.Values{"orgIdentifier": {c.cfg.OrgID}}
}

// ProjectQuery returns the query scoping a call to a project.
func (c *Client) ProjectQuery(projectID string) url.Values {
	q := c.OrgQuery()
	q.Set("projectIdentifier", projectID)
	return q
}
