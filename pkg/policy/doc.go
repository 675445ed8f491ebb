// Package policy evaluates Open Policy Agent (OPA) Rego policies over a
// harnessctl provisioning document before anything is sent to Harness.
//
// Every policy is a Rego module defining a partial set rule named deny.
// Each element is a string or an object with message, resource, severity and
// remediation keys. The input is
//
//	{
//	  "document": { ...the document with defaults applied, api_key removed... },
//	  "context":  {"operation": "create", "project_id": "...", "org_id": "...", "dry_run": false}
//	}
//
// Built-in policies:
//
//   - inline-secret-values (warning): text secrets with an inline value
//   - role-permissions (error): roles without permissions or actions
//   - user-group-members (warning): user groups without users
//   - infrastructure-environment-ref (warning): infrastructures whose
//     environment is not declared in the document
//   - production-approval (info): Production environments
//
// Error and critical violations block a run. Engine implements
// engine.DocumentCheck so the orchestrator runs it after validation.
//
// Custom policies are loaded from .rego or .json files:
//
//	# Services must carry an owner tag.
//	# severity: error
//	package custom.owner
//
//	import rego.v1
//
//	deny contains msg if {
//		some svc in input.document.services
//		not svc.tags.owner
//		msg := sprintf("service %s has no owner tag", [svc.name])
//	}
//
// Loader.Watch reloads policies, debounced, when a watched policy or
// document file changes.
package policy
