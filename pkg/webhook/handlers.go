package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Outcome labels recorded on the webhook metric.
const (
	outcomeTriggered    = "triggered"
	outcomeIgnored      = "ignored"
	outcomeUnauthorized = "unauthorized"
	outcomeBadRequest   = "bad_request"
	outcomeFailed       = "failed"
)

const manualDescription = "Manual trigger"

// repoInfo is what a delivery tells us about the new repository.
type repoInfo struct {
	Name        string
	FullName    string
	Description string
}

type githubEvent struct {
	Action     string `json:"action"`
	Repository struct {
		Name        string `json:"name"`
		FullName    string `json:"full_name"`
		Description string `json:"description"`
	} `json:"repository"`
}

// gitlabEvent covers both project webhooks, which nest the project, and
// system hooks, which put its fields at the top level.
type gitlabEvent struct {
	EventName         string `json:"event_name"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	Project           struct {
		Name              string `json:"name"`
		PathWithNamespace string `json:"path_with_namespace"`
		Description       string `json:"description"`
	} `json:"project"`
}

type manualRequest struct {
	ProjectName string  `json:"project_name"`
	Description *string `json:"description"`
}

// VerifyGitHubSignature checks an X-Hub-Signature-256 header against body.
func VerifyGitHubSignature(secret string, body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(expected))
}

func verifyToken(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, source string) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.reject(w, source, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	s.reject(w, source, http.StatusBadRequest, "failed to read request body")
	return nil, false
}

func (s *Server) reject(w http.ResponseWriter, source string, status int, msg string) {
	outcome := outcomeBadRequest
	if status == http.StatusUnauthorized {
		outcome = outcomeUnauthorized
	}
	s.tel.Metrics.RecordWebhookEvent(source, outcome)
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) ignore(w http.ResponseWriter, source, event string) {
	s.tel.Metrics.RecordWebhookEvent(source, outcomeIgnored)
	s.logger.DebugEvent().Str("source", source).Str("event", event).Msg("Ignoring webhook event")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ignored",
		"message": fmt.Sprintf("Event %s not processed", event),
	})
}

func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, "github")
	if !ok {
		return
	}

	if s.cfg.GitHubSecret != "" && !VerifyGitHubSignature(s.cfg.GitHubSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("Invalid GitHub webhook signature")
		s.reject(w, "github", http.StatusUnauthorized, "Invalid signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	s.logger.InfoEvent().Str("event", event).Msg("Received GitHub webhook")

	var payload githubEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		s.reject(w, "github", http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if event != "repository" || payload.Action != "created" {
		s.ignore(w, "github", event)
		return
	}

	s.triggerProject(w, r, "github", repoInfo{
		Name:        payload.Repository.Name,
		FullName:    payload.Repository.FullName,
		Description: payload.Repository.Description,
	})
}

func (s *Server) handleGitLab(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, "gitlab")
	if !ok {
		return
	}

	if s.cfg.GitLabToken != "" && !verifyToken(s.cfg.GitLabToken, r.Header.Get("X-Gitlab-Token")) {
		s.logger.Warn("Invalid GitLab webhook token")
		s.reject(w, "gitlab", http.StatusUnauthorized, "Invalid token")
		return
	}

	event := r.Header.Get("X-Gitlab-Event")
	s.logger.InfoEvent().Str("event", event).Msg("Received GitLab webhook")

	var payload gitlabEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		s.reject(w, "gitlab", http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if event != "Project Create Hook" && payload.EventName != "project_create" {
		s.ignore(w, "gitlab", event)
		return
	}

	info := repoInfo{
		Name:        payload.Project.Name,
		FullName:    payload.Project.PathWithNamespace,
		Description: payload.Project.Description,
	}
	if info.Name == "" {
		info.Name = payload.Name
		info.FullName = payload.PathWithNamespace
	}
	s.triggerProject(w, r, "gitlab", info)
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, "manual")
	if !ok {
		return
	}

	var req manualRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(w, "manual", http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.ProjectName == "" {
		s.reject(w, "manual", http.StatusBadRequest, "project_name is required")
		return
	}

	description := manualDescription
	if req.Description != nil && *req.Description != "" {
		description = *req.Description
	}

	s.logger.InfoEvent().Str("project", req.ProjectName).Msg("Manual trigger")
	s.triggerProject(w, r, "manual", repoInfo{
		Name:        req.ProjectName,
		FullName:    req.ProjectName,
		Description: description,
	})
}

func (s *Server) triggerProject(w http.ResponseWriter, r *http.Request, source string, info repoInfo) {
	if info.Name == "" {
		s.reject(w, source, http.StatusBadRequest, "repository name is missing from the payload")
		return
	}

	description := info.Description
	if description == "" {
		description = "Auto-created from " + info.FullName
	}

	s.logger.InfoEvent().
		Str("source", source).
		Str("repository", info.FullName).
		Msg("New repository created")

	err := s.trigger.Trigger(r.Context(), BuildParams{
		ProjectName: info.Name,
		Description: description,
		Templates:   s.cfg.Defaults,
	})
	if err != nil {
		s.tel.Metrics.RecordWebhookEvent(source, outcomeFailed)
		s.logger.WithError(err).ErrorEvent().
			Str("source", source).
			Str("project", info.Name).
			Msg("Failed to trigger Jenkins job")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "Failed to trigger Jenkins job",
		})
		return
	}

	s.tel.Metrics.RecordWebhookEvent(source, outcomeTriggered)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "success",
		"message":      fmt.Sprintf("Harness project creation triggered for %s", info.Name),
		"project_name": info.Name,
	})
}
