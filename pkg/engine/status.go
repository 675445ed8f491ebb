package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a provisioning run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every resource was created or already
	// existed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates the run completed but at least one resource
	// failed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates the run stopped early: validation failed,
	// the project could not be created, or a fatal error occurred.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was interrupted.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusPartial ||
		s == RunStatusFailed || s == RunStatusCancelled
}

// Completed returns true if every phase of the run executed.
func (s RunStatus) Completed() bool {
	return s == RunStatusSucceeded || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := RunStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// ResultStatus is the outcome of one resource creation attempt.
type ResultStatus string

const (
	// ResultCreated indicates the resource was created by this run.
	ResultCreated ResultStatus = "created"

	// ResultExisting indicates the resource was already present, found
	// either by lookup or by a 409 on create.
	ResultExisting ResultStatus = "existing"

	// ResultFailed indicates the resource could not be created.
	ResultFailed ResultStatus = "failed"
)

// Succeeded returns true for created and existing results.
func (s ResultStatus) Succeeded() bool {
	return s == ResultCreated || s == ResultExisting
}

// Validate checks if the result status is valid.
func (s ResultStatus) Validate() error {
	switch s {
	case ResultCreated, ResultExisting, ResultFailed:
		return nil
	default:
		return fmt.Errorf("invalid result status: %s", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler with validation.
func (s *ResultStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := ResultStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// Phase names in execution order.
const (
	PhaseValidate      = "validate"
	PhaseProject       = "project"
	PhaseConnectors    = "connectors"
	PhaseSecrets       = "secrets"
	PhaseAccessControl = "access_control"
	PhaseResources     = "resources"
	PhasePipelines     = "pipelines"
	PhaseSummarize     = "summarize"
)

// Phases lists every phase in execution order.
var Phases = []string{
	PhaseValidate,
	PhaseProject,
	PhaseConnectors,
	PhaseSecrets,
	PhaseAccessControl,
	PhaseResources,
	PhasePipelines,
	PhaseSummarize,
}

// Resource types recorded on operation results.
const (
	ResourceProject        = "project"
	ResourceConnector      = "connector"
	ResourceSecret         = "secret"
	ResourceRole           = "role"
	ResourceResourceGroup  = "resource_group"
	ResourceServiceAccount = "service_account"
	ResourceUserGroup      = "user_group"
	ResourceEnvironment    = "environment"
	ResourceInfrastructure = "infrastructure"
	ResourceService        = "service"
	ResourcePipeline       = "pipeline"
	ResourceTemplate       = "template"
)
