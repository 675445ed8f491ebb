// Package harness talks to the Harness platform REST API.
//
// Client wraps go-retryablehttp with the retry policy the provisioner relies
// on: transport errors and 5xx responses are retried with exponential backoff
// up to the configured number of attempts, 4xx responses fail immediately,
// and 409 Conflict is reported as an existing resource rather than an error.
//
// Provisioner implements engine.Provisioner. Each Create* method follows the
// same shape: look the resource up, POST it when missing, and turn the outcome
// into an engine.OperationResult. Builders never return errors; a failure is
// recorded on the result so the run can continue.
//
// Publisher pushes pipeline templates at organization scope, creating a new
// version or updating it in place when that version already exists.
package harness
