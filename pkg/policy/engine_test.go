package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
)

const cleanDocument = `
harness:
  account_id: acct123
  api_key: pat.acct123.s3cr3t
project:
  repo_name: payments-api
secrets:
  text_secrets:
    - name: db-password
      value_type: Reference
      value: account.db_password
access_control:
  roles:
    - name: Deployer
      permissions:
        - resource_type: PIPELINE
          actions: [core_pipeline_execute]
  user_groups:
    - name: Payments Team
      users: [alice@example.com]
environments:
  - name: dev
infrastructures:
  - name: dev-k8s
    environment_ref: dev
`

const noisyDocument = `
harness:
  account_id: acct123
  api_key: pat.acct123.s3cr3t
project:
  repo_name: payments-api
secrets:
  text_secrets:
    - name: db-password
      value: hunter2
access_control:
  roles:
    - name: Empty Role
  user_groups:
    - name: Nobody
environments:
  - name: prod
    type: Production
infrastructures:
  - name: staging-k8s
    environment_ref: staging
`

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	require.NoError(t, err, "failed to create engine")
	return eng
}

func testDocument(t *testing.T, src string) *config.Document {
	t.Helper()
	doc, err := config.Parse([]byte(src))
	require.NoError(t, err, "failed to parse document")
	config.ApplyDefaults(doc)
	return doc
}

func TestNewEngine(t *testing.T) {
	eng := testEngine(t)

	policies := eng.ListPolicies()
	expected := []string{
		"infrastructure-environment-ref",
		"inline-secret-values",
		"production-approval",
		"role-permissions",
		"user-group-members",
	}
	require.Len(t, policies, len(expected))
	for i, name := range expected {
		assert.Equal(t, name, policies[i].Name, "position %d", i)
		assert.True(t, policies[i].Builtin && policies[i].Enabled, "%s should be an enabled built-in", name)
	}
}

func TestEvaluateCleanDocument(t *testing.T) {
	eng := testEngine(t)

	result, err := eng.Evaluate(context.Background(), testDocument(t, cleanDocument))
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Empty(t, result.Violations)
	assert.Len(t, result.EvaluatedPolicies, 5)
}

func TestEvaluateBuiltinViolations(t *testing.T) {
	eng := testEngine(t)

	result, err := eng.Evaluate(context.Background(), testDocument(t, noisyDocument))
	require.NoError(t, err)
	assert.False(t, result.Allowed, "role without permissions should block")

	tests := []struct {
		policy   string
		resource string
		severity Severity
	}{
		{"inline-secret-values", "secret/db_password", SeverityWarning},
		{"role-permissions", "role/empty_role", SeverityError},
		{"user-group-members", "user_group/nobody", SeverityWarning},
		{"infrastructure-environment-ref", "infrastructure/staging_k8s", SeverityWarning},
		{"production-approval", "environment/prod", SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			var found *Violation
			for i := range result.Violations {
				if result.Violations[i].Policy == tt.policy {
					found = &result.Violations[i]
					break
				}
			}
			require.NotNil(t, found, "expected a %s violation, got %+v", tt.policy, result.Violations)
			assert.Equal(t, tt.resource, found.Resource)
			assert.Equal(t, tt.severity, found.Severity)
			assert.NotEmpty(t, found.Message)
		})
	}

	counts := result.BySeverity()
	assert.Equal(t, 1, counts[SeverityError])
	assert.Equal(t, 3, counts[SeverityWarning])
	assert.Equal(t, 1, counts[SeverityInfo])
	assert.Len(t, result.Blocking(), 1)
}

func TestCheckBlocksOnErrors(t *testing.T) {
	eng := testEngine(t)

	err := eng.Check(context.Background(), testDocument(t, noisyDocument))
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err), "got %v", err)

	var e *engine.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, engine.ErrCodePolicyViolation, e.Code)
	assert.Contains(t, err.Error(), "role 'Empty Role' has no permissions")
}

func TestCheckAllowsWarnings(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.DisablePolicy("role-permissions"))
	assert.NoError(t, eng.Check(ctx, testDocument(t, noisyDocument)), "warnings only")

	require.NoError(t, eng.EnablePolicy("role-permissions"))
	assert.Error(t, eng.Check(ctx, testDocument(t, noisyDocument)), "re-enabled policy should block")

	assert.Error(t, eng.DisablePolicy("missing"))
}

func TestBuildInputDropsAPIKey(t *testing.T) {
	input, err := BuildInput(testDocument(t, cleanDocument), "validate")
	require.NoError(t, err)

	harness, ok := input.Document["harness"].(map[string]interface{})
	require.True(t, ok, "expected harness section in input")
	assert.NotContains(t, harness, "api_key")
	assert.Equal(t, "acct123", harness["account_id"])
	assert.Equal(t, "payments_api", input.Context.ProjectID)
	assert.Equal(t, "validate", input.Context.Operation)
}

const ownerTagPolicy = `# Services must carry an owner tag.
# severity: error
package custom.owner

import rego.v1

deny contains msg if {
	some svc in input.document.services
	not svc.tags.owner
	msg := sprintf("service %s has no owner tag", [svc.name])
}
`

func TestLoadCustomPolicies(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "owner-tag.rego"), []byte(ownerTagPolicy), 0o644))
	require.NoError(t, eng.LoadPolicies(ctx, []string{dir}))

	p, err := eng.GetPolicy("owner-tag")
	require.NoError(t, err)
	assert.Equal(t, SeverityError, p.Severity)
	assert.False(t, p.Builtin)

	doc := testDocument(t, cleanDocument+"services:\n  - name: payments-api\n")
	result, err := eng.Evaluate(ctx, doc)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "owner-tag should block")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "service payments-api has no owner tag", result.Violations[0].Message)
}

func TestCompileRejectsModuleWithoutDeny(t *testing.T) {
	eng := testEngine(t)

	err := eng.ReplaceCustom(context.Background(), []Policy{{
		Name:    "no-deny",
		Rego:    "package custom.nodeny\n\nimport rego.v1\n\nallow := true\n",
		Enabled: true,
	}})
	require.Error(t, err)

	_, err = eng.GetPolicy("no-deny")
	assert.Error(t, err, "rejected policy must not be stored")
}

func TestReplaceCustomKeepsBuiltins(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	custom := Policy{Name: "owner-tag", Rego: ownerTagPolicy, Severity: SeverityError, Enabled: true}
	require.NoError(t, eng.ReplaceCustom(ctx, []Policy{custom}))
	require.Len(t, eng.ListPolicies(), 6)

	require.NoError(t, eng.ReplaceCustom(ctx, nil))
	assert.Len(t, eng.ListPolicies(), 5, "only built-ins after clearing")
}
