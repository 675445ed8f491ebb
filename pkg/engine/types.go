package engine

import (
	"fmt"
	"time"
)

// OperationResult records the outcome of one resource creation attempt.
// Builders return it by value and never modify it afterwards.
type OperationResult struct {
	// ResourceType is the kind of resource, e.g. "connector".
	ResourceType string `json:"resource_type"`

	// Identifier is the Harness identifier of the resource.
	Identifier string `json:"identifier"`

	// Name is the display name of the resource.
	Name string `json:"name"`

	// Status is created, existing or failed.
	Status ResultStatus `json:"status"`

	// Success is true unless Status is failed.
	Success bool `json:"success"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`

	// Data carries resource specific details, such as the connector type or
	// a lookup error that did not prevent creation.
	Data map[string]interface{} `json:"data,omitempty"`

	// Warnings are non-fatal problems, such as unresolved user emails.
	Warnings []string `json:"warnings,omitempty"`
}

// Created returns a result for a newly created resource.
func Created(resourceType, identifier, name string, data map[string]interface{}) OperationResult {
	return OperationResult{
		ResourceType: resourceType,
		Identifier:   identifier,
		Name:         name,
		Status:       ResultCreated,
		Success:      true,
		Data:         data,
	}
}

// Existing returns a result for a resource that was already present.
func Existing(resourceType, identifier, name string, data map[string]interface{}) OperationResult {
	return OperationResult{
		ResourceType: resourceType,
		Identifier:   identifier,
		Name:         name,
		Status:       ResultExisting,
		Success:      true,
		Data:         data,
	}
}

// Failed returns a result for a resource that could not be created.
func Failed(resourceType, identifier, name string, err error) OperationResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return OperationResult{
		ResourceType: resourceType,
		Identifier:   identifier,
		Name:         name,
		Status:       ResultFailed,
		Success:      false,
		Error:        msg,
	}
}

// String formats the result for log lines, e.g. "✓ connector: GitHub (github)".
func (r OperationResult) String() string {
	mark := "✓"
	if !r.Success {
		mark = "✗"
	}
	return fmt.Sprintf("%s %s: %s (%s)", mark, r.ResourceType, r.Name, r.Identifier)
}

// AccessControlResults groups RBAC results by entity kind.
type AccessControlResults struct {
	Roles           []OperationResult `json:"roles"`
	ResourceGroups  []OperationResult `json:"resource_groups"`
	ServiceAccounts []OperationResult `json:"service_accounts"`
	UserGroups      []OperationResult `json:"user_groups"`
}

// ResourceResults groups deployment resource results by kind.
type ResourceResults struct {
	Environments    []OperationResult `json:"environments"`
	Infrastructures []OperationResult `json:"infrastructures"`
	Services        []OperationResult `json:"services"`
}

// Results collects every result of a run in the layout of the JSON report.
type Results struct {
	Project       *OperationResult     `json:"project"`
	Connectors    []OperationResult    `json:"connectors"`
	Secrets       []OperationResult    `json:"secrets"`
	AccessControl AccessControlResults `json:"access_control"`
	Resources     ResourceResults      `json:"resources"`
	Pipelines     []OperationResult    `json:"pipelines"`
}

// All returns every result in creation order.
func (r *Results) All() []OperationResult {
	var all []OperationResult
	if r.Project != nil {
		all = append(all, *r.Project)
	}
	all = append(all, r.Connectors...)
	all = append(all, r.Secrets...)
	all = append(all, r.AccessControl.Roles...)
	all = append(all, r.AccessControl.ResourceGroups...)
	all = append(all, r.AccessControl.ServiceAccounts...)
	all = append(all, r.AccessControl.UserGroups...)
	all = append(all, r.Resources.Environments...)
	all = append(all, r.Resources.Infrastructures...)
	all = append(all, r.Resources.Services...)
	all = append(all, r.Pipelines...)
	return all
}

// Summary counts results by status.
type Summary struct {
	Total    int `json:"total"`
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Failed   int `json:"failed"`
}

// Add counts one result.
func (s *Summary) Add(r OperationResult) {
	s.Total++
	switch r.Status {
	case ResultCreated:
		s.Created++
	case ResultExisting:
		s.Existing++
	default:
		s.Failed++
	}
}

// Succeeded returns the number of created and existing results.
func (s Summary) Succeeded() int {
	return s.Created + s.Existing
}

// Summarize counts every result.
func Summarize(results []OperationResult) Summary {
	var s Summary
	for _, r := range results {
		s.Add(r)
	}
	return s
}

// Counts summarizes every result of the run.
func (r *Results) Counts() Summary {
	return Summarize(r.All())
}

// ByType summarizes results per resource type.
func (r *Results) ByType() map[string]Summary {
	out := make(map[string]Summary)
	for _, res := range r.All() {
		s := out[res.ResourceType]
		s.Add(res)
		out[res.ResourceType] = s
	}
	return out
}

// PhaseOutcome describes how one phase went.
type PhaseOutcome struct {
	Name string `json:"name"`

	// Attempted is the number of resources the phase tried to create. In a
	// dry run it is the number it would have tried.
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// OK is true when at least one resource succeeded or the phase had
	// nothing to do.
	OK bool `json:"ok"`

	// Skipped is true when an earlier failure or cancellation prevented the
	// phase from running.
	Skipped bool `json:"skipped,omitempty"`

	DryRun   bool          `json:"dry_run,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Run is one invocation of the orchestrator, persisted in the history
// store.
type Run struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	ConfigPath  string     `json:"config_path"`
	DryRun      bool       `json:"dry_run"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     Summary    `json:"summary"`
	ReportPath  string     `json:"report_path,omitempty"`

	// Error is the message of the error that stopped the run, if any.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Outcome is what the orchestrator returns to its caller.
type Outcome struct {
	Run *Run `json:"run"`

	// Completed is true when every phase ran.
	Completed bool `json:"completed"`

	// FullySucceeded is true when no result failed.
	FullySucceeded bool `json:"fully_succeeded"`

	// Cancelled is true when the run was interrupted.
	Cancelled bool `json:"cancelled"`

	Status  RunStatus      `json:"status"`
	Phases  []PhaseOutcome `json:"phases"`
	Results *Results       `json:"results"`
}

// ExitCode maps the outcome to a process exit code. A completed run exits
// 0 unless strict is set and some resource failed.
func (o *Outcome) ExitCode(strict bool) int {
	if o == nil || !o.Completed {
		return 1
	}
	if strict && !o.FullySucceeded {
		return 1
	}
	return 0
}

// Phase returns the outcome of the named phase.
func (o *Outcome) Phase(name string) (PhaseOutcome, bool) {
	for _, p := range o.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseOutcome{}, false
}
