// Package stores keeps the local run history of harnessctl in SQLite.
//
// The history records what each run attempted and how every resource came
// out: one row per run in "runs" and one row per OperationResult in
// "operation_results". It is not a model of the remote platform and is never
// consulted when provisioning. Migrations are embedded and applied with
// golang-migrate.
package stores
