package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		inlineSecretValuesPolicy(),
		rolePermissionsPolicy(),
		userGroupMembersPolicy(),
		infrastructureEnvironmentRefPolicy(),
		productionApprovalPolicy(),
	}
}

// inlineSecretValuesPolicy flags secret values written into the document.
func inlineSecretValuesPolicy() Policy {
	return Policy{
		Name:        "inline-secret-values",
		Description: "Warns about text secrets whose value is written inline in the document",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"secrets"},
		Rego: `package harnessctl.policies.secrets

import rego.v1

deny contains violation if {
	some secret in input.document.secrets.text_secrets
	object.get(secret, "value", "") != ""
	object.get(secret, "value_type", "Inline") == "Inline"
	violation := {
		"message": sprintf("text secret '%s' has its value inline in the document", [secret.name]),
		"resource": sprintf("secret/%s", [object.get(secret, "identifier", secret.name)]),
		"remediation": "set the value in Harness or use value_type Reference",
	}
}
`,
	}
}

// rolePermissionsPolicy blocks roles that grant nothing.
func rolePermissionsPolicy() Policy {
	return Policy{
		Name:        "role-permissions",
		Description: "Roles must grant at least one permission",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"rbac"},
		Rego: `package harnessctl.policies.roles

import rego.v1

deny contains violation if {
	some role in input.document.access_control.roles
	count(object.get(role, "permissions", [])) == 0
	violation := {
		"message": sprintf("role '%s' has no permissions", [role.name]),
		"resource": sprintf("role/%s", [object.get(role, "identifier", role.name)]),
		"remediation": "add at least one permission with resource_type and actions",
	}
}

deny contains violation if {
	some role in input.document.access_control.roles
	some perm in object.get(role, "permissions", [])
	count(object.get(perm, "actions", [])) == 0
	violation := {
		"message": sprintf("role '%s' grants no actions on %s", [role.name, perm.resource_type]),
		"resource": sprintf("role/%s", [object.get(role, "identifier", role.name)]),
	}
}
`,
	}
}

// userGroupMembersPolicy flags user groups created without members.
func userGroupMembersPolicy() Policy {
	return Policy{
		Name:        "user-group-members",
		Description: "Warns about user groups that list no users",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"rbac"},
		Rego: `package harnessctl.policies.user_groups

import rego.v1

deny contains violation if {
	some group in input.document.access_control.user_groups
	count(object.get(group, "users", [])) == 0
	violation := {
		"message": sprintf("user group '%s' has no users", [group.name]),
		"resource": sprintf("user_group/%s", [object.get(group, "identifier", group.name)]),
	}
}
`,
	}
}

// infrastructureEnvironmentRefPolicy flags infrastructures pointing at an
// environment the document does not create.
func infrastructureEnvironmentRefPolicy() Policy {
	return Policy{
		Name:        "infrastructure-environment-ref",
		Description: "Warns about infrastructures whose environment is not declared in the same document",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"resources"},
		Rego: `package harnessctl.policies.infrastructures

import rego.v1

declared contains env.identifier if {
	some env in input.document.environments
}

deny contains violation if {
	some infra in input.document.infrastructures
	not infra.environment_ref in declared
	violation := {
		"message": sprintf("infrastructure '%s' references environment '%s' which is not declared in this document", [infra.name, infra.environment_ref]),
		"resource": sprintf("infrastructure/%s", [object.get(infra, "identifier", infra.name)]),
		"remediation": "declare the environment or make sure it already exists in the project",
	}
}
`,
	}
}

// productionApprovalPolicy reminds about approvals on production targets.
func productionApprovalPolicy() Policy {
	return Policy{
		Name:        "production-approval",
		Description: "Notes Production environments so their pipelines get an approval stage",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"resources", "governance"},
		Rego: `package harnessctl.policies.production

import rego.v1

deny contains violation if {
	some env in input.document.environments
	env.type == "Production"
	violation := {
		"message": sprintf("environment '%s' is Production; pipelines deploying to it should include an approval stage", [env.name]),
		"resource": sprintf("environment/%s", [object.get(env, "identifier", env.name)]),
	}
}
`,
	}
}
