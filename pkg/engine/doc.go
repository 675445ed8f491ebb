// Package engine runs harnessctl provisioning: it owns the result and run
// types, the error taxonomy and the orchestrator that drives a Provisioner
// through the phases of a run.
//
// # Phases
//
// A run executes these phases in order:
//
//  1. validate - document validation and pre-flight checks, no network calls
//  2. project - create the project; failure aborts the run
//  3. connectors - one connector per configured entry, supported kinds only
//  4. secrets - text secrets, then file secrets
//  5. access_control - roles, resource groups, service accounts, user groups
//  6. resources - environments, infrastructures, services
//  7. pipelines - template and inline pipelines
//  8. summarize - counts, summary tables, JSON report, run history
//
// Phases after the project never abort the run. A phase is OK when at least
// one of its resources succeeded or it had nothing to do.
//
// # Statuses
//
// Each resource yields an OperationResult with status created, existing or
// failed. A run ends as succeeded, partial, failed or cancelled; see
// RunStatus. Outcome.ExitCode maps the outcome to a process exit code.
//
// # Errors
//
// Error carries an ErrorClass used for retry and abort decisions. Only
// transient errors are retried; validation and fatal_setup errors stop a run.
//
//	if engine.IsRetryable(err) {
//		// back off and try again
//	}
//
// # Dry runs
//
// With Options.DryRun the orchestrator validates the document and logs,
// per phase, how many resources of each type it would create. No API calls
// are made and no report is written.
package engine
