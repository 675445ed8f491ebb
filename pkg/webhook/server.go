package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openfroyo/harnessctl/pkg/telemetry"
)

// Server routes webhook deliveries to a Trigger.
type Server struct {
	cfg     Config
	trigger Trigger
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	now     func() time.Time

	// shutdownTimeout bounds the drain on shutdown. Zero means the write
	// timeout.
	shutdownTimeout time.Duration
}

// NewServer creates a server. When trigger is nil a JenkinsClient is built
// from cfg.Jenkins.
func NewServer(cfg Config, trigger Trigger, tel *telemetry.Telemetry) (*Server, error) {
	cfg.applyDefaults()
	if tel == nil {
		tel = telemetry.Nop()
	}

	if trigger == nil {
		jc, err := NewJenkinsClient(cfg.Jenkins, tel)
		if err != nil {
			return nil, err
		}
		trigger = jc
	}

	s := &Server{
		cfg:     cfg,
		trigger: trigger,
		tel:     tel,
		logger:  tel.Logger.NewComponentLogger("webhook"),
		now:     time.Now,
	}

	if cfg.GitHubSecret == "" {
		s.logger.Warn("No GitHub webhook secret configured, signatures will not be verified")
	}
	if cfg.GitLabToken == "" {
		s.logger.Warn("No GitLab webhook token configured, tokens will not be verified")
	}

	return s, nil
}

// Config returns the configuration with defaults applied.
func (s *Server) Config() Config {
	return s.cfg
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/github", s.instrument("github", s.handleGitHub))
	mux.HandleFunc("POST /webhook/gitlab", s.instrument("gitlab", s.handleGitLab))
	mux.HandleFunc("POST /webhook/manual", s.instrument("manual", s.handleManual))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.tel.Metrics.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	writeTimeout := time.Duration(s.cfg.Jenkins.MaxAttempts)*s.cfg.Jenkins.Timeout + 10*time.Second

	// Requests outlive ctx so that shutdown can drain triggers in flight.
	reqCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}

	s.logger.InfoEvent().
		Str("listen", ln.Addr().String()).
		Str("jenkins", s.cfg.Jenkins.URL).
		Str("job", s.cfg.Jenkins.Job).
		Msg("Webhook handler listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	drain := s.shutdownTimeout
	if drain == 0 {
		drain = writeTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		cancelRequests()
		_ = server.Close()
		return fmt.Errorf("failed to shut down webhook server: %w", err)
	}
	s.logger.Info("Webhook handler stopped")
	return nil
}

// statusRecorder captures the response code for logs and spans.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(source string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := telemetry.NewTimer()
		ctx, span := s.tel.Tracer.StartSpan(r.Context(), "webhook."+source,
			telemetry.AttrHTTPMethod.String(r.Method),
			telemetry.AttrHTTPPath.String(r.URL.Path),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(rec, r.Body, s.cfg.MaxBodyBytes)
		next(rec, r.WithContext(ctx))

		span.SetAttributes(telemetry.AttrHTTPStatus.Int(rec.status))
		if rec.status >= http.StatusInternalServerError {
			telemetry.RecordError(span, fmt.Errorf("webhook %s answered %d", source, rec.status))
		} else {
			telemetry.RecordSuccess(span)
		}

		s.logger.DebugEvent().
			Str("source", source).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Msg("Webhook request handled")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   ServiceName,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
