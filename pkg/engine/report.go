package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/harnessctl/pkg/config"
)

// ReportFilePrefix starts every report file name.
const ReportFilePrefix = "harness_resources_"

// Report is the JSON document written at the end of a run.
type Report struct {
	RunID       string         `json:"run_id"`
	Project     ReportProject  `json:"project"`
	DryRun      bool           `json:"dry_run"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Summary     Summary        `json:"summary"`
	Error       string         `json:"error,omitempty"`
	Phases      []PhaseOutcome `json:"phases"`
	Results     *Results       `json:"results"`
}

// ReportProject identifies the project a report belongs to. Credentials are
// never included.
type ReportProject struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	OrgID      string `json:"org_id"`
	AccountID  string `json:"account_id"`
}

// NewReport builds the report of a finished run.
func NewReport(out *Outcome, doc *config.Document) *Report {
	r := &Report{
		RunID: out.Run.ID,
		Project: ReportProject{
			Identifier: doc.Project.Identifier,
			Name:       doc.Project.RepoName,
			OrgID:      doc.Harness.OrgID,
			AccountID:  doc.Harness.AccountID,
		},
		DryRun:    out.Run.DryRun,
		Status:    out.Status,
		StartedAt: out.Run.StartedAt,
		Summary:   out.Run.Summary,
		Error:     out.Run.Error,
		Phases:    out.Phases,
		Results:   out.Results,
	}
	if out.Run.CompletedAt != nil {
		r.CompletedAt = *out.Run.CompletedAt
	}
	return r
}

// ReportFileName returns harness_resources_<project>_<YYYYmmdd_HHMMSS>.json.
func ReportFileName(projectID string, t time.Time) string {
	return fmt.Sprintf("%s%s_%s.json", ReportFilePrefix, projectID, t.Format("20060102_150405"))
}

// WriteReport writes r into dir and returns the file path.
func WriteReport(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.StartedAt
	}
	path := filepath.Join(dir, ReportFileName(r.Project.Identifier, ts))
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &r, nil
}
