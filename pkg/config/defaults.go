package config

import "fmt"

// Document defaults.
const (
	DefaultOrgID              = "default"
	DefaultBaseURL            = "https://app.harness.io"
	DefaultProjectColor       = "#0063F7"
	DefaultEnvironmentType    = "PreProduction"
	DefaultVariableType       = "String"
	DefaultDeploymentType     = "Kubernetes"
	DefaultInfraType          = "KubernetesDirect"
	DefaultServiceType        = "Kubernetes"
	DefaultInputExpression    = "<+input>"
	DefaultReleaseName        = "release-<+INFRA_KEY>"
	DefaultSecretManager      = "harnessSecretManager"
	DefaultSecretValueType    = "Inline"
	DefaultPipelineVersion    = "v1"
	DefaultNonProdTemplateRef = "nonprod_deployment_pipeline"
	DefaultProdTemplateRef    = "prod_deployment_pipeline"
	ServiceAccountEmailDomain = "harness.serviceaccount"
)

// DefaultProjectModules are the modules enabled on a new project.
var DefaultProjectModules = []string{"CD"}

// DefaultScopeLevels are the scopes a custom role may be assigned at.
var DefaultScopeLevels = []string{"project"}

// ApplyDefaults fills omitted optional fields in place. Identifiers left
// empty are derived from names with Normalize. When the document has no
// pipelines section, the legacy templates section is converted into
// pipelines.
func ApplyDefaults(doc *Document) {
	h := &doc.Harness
	h.OrgID = orDefault(h.OrgID, DefaultOrgID)
	h.BaseURL = orDefault(h.BaseURL, DefaultBaseURL)

	p := &doc.Project
	p.Identifier = orDefault(p.Identifier, Normalize(p.RepoName))
	p.Color = orDefault(p.Color, DefaultProjectColor)
	if len(p.Modules) == 0 {
		p.Modules = append([]string(nil), DefaultProjectModules...)
	}

	for kind, list := range doc.Connectors {
		for i := range list {
			list[i].Identifier = orDefault(list[i].Identifier, Normalize(list[i].Name))
		}
		doc.Connectors[kind] = list
	}

	for i := range doc.Secrets.TextSecrets {
		s := &doc.Secrets.TextSecrets[i]
		s.Identifier = orDefault(s.Identifier, Normalize(s.Name))
		s.ValueType = orDefault(s.ValueType, DefaultSecretValueType)
		s.SecretManagerIdentifier = orDefault(s.SecretManagerIdentifier, DefaultSecretManager)
	}
	for i := range doc.Secrets.FileSecrets {
		s := &doc.Secrets.FileSecrets[i]
		s.Identifier = orDefault(s.Identifier, Normalize(s.Name))
		s.SecretManagerIdentifier = orDefault(s.SecretManagerIdentifier, DefaultSecretManager)
	}

	for i := range doc.Environments {
		e := &doc.Environments[i]
		e.Identifier = orDefault(e.Identifier, Normalize(e.Name))
		e.Type = orDefault(e.Type, DefaultEnvironmentType)
		for j := range e.Variables {
			e.Variables[j].Type = orDefault(e.Variables[j].Type, DefaultVariableType)
		}
	}

	for i := range doc.Infrastructures {
		inf := &doc.Infrastructures[i]
		inf.Identifier = orDefault(inf.Identifier, Normalize(inf.Name))
		inf.DeploymentType = orDefault(inf.DeploymentType, DefaultDeploymentType)
		inf.Type = orDefault(inf.Type, DefaultInfraType)
		inf.Config.ConnectorRef = orDefault(inf.Config.ConnectorRef, DefaultInputExpression)
		inf.Config.Namespace = orDefault(inf.Config.Namespace, fmt.Sprintf("%s-%s", p.Identifier, inf.EnvironmentRef))
		inf.Config.ReleaseName = orDefault(inf.Config.ReleaseName, DefaultReleaseName)
	}

	for i := range doc.Services {
		s := &doc.Services[i]
		s.Identifier = orDefault(s.Identifier, Normalize(s.Name))
		s.Type = orDefault(s.Type, DefaultServiceType)
	}

	ac := &doc.AccessControl
	for i := range ac.Roles {
		r := &ac.Roles[i]
		r.Identifier = orDefault(r.Identifier, Normalize(r.Name))
		if len(r.AllowedScopeLevels) == 0 {
			r.AllowedScopeLevels = append([]string(nil), DefaultScopeLevels...)
		}
	}
	for i := range ac.ResourceGroups {
		g := &ac.ResourceGroups[i]
		g.Identifier = orDefault(g.Identifier, Normalize(g.Name))
		g.Color = orDefault(g.Color, DefaultProjectColor)
	}
	for i := range ac.ServiceAccounts {
		sa := &ac.ServiceAccounts[i]
		sa.Identifier = orDefault(sa.Identifier, Normalize(sa.Name))
		sa.Email = orDefault(sa.Email, sa.Identifier+"@"+ServiceAccountEmailDomain)
	}
	for i := range ac.UserGroups {
		g := &ac.UserGroups[i]
		g.Identifier = orDefault(g.Identifier, Normalize(g.Name))
	}

	if len(doc.Pipelines) == 0 && doc.Templates != nil {
		doc.Pipelines = legacyPipelines(doc.Project, doc.Templates)
	}
	for i := range doc.Pipelines {
		pl := &doc.Pipelines[i]
		pl.Name = orDefault(pl.Name, pl.Key)
		pl.Identifier = orDefault(pl.Identifier, Normalize(pl.Name))
		if pl.TemplateRef != "" {
			pl.Version = orDefault(pl.Version, DefaultPipelineVersion)
		}
	}
}

// legacyPipelines converts templates{nonprod, prod} into two template
// pipelines named after the repository.
func legacyPipelines(p Project, t *LegacyTemplates) Pipelines {
	var out Pipelines
	add := func(key, label string, tmpl *LegacyTemplate, defaultRef string) {
		if tmpl == nil {
			return
		}
		out = append(out, Pipeline{
			Key:         key,
			Name:        fmt.Sprintf("%s %s Pipeline", p.RepoName, label),
			Identifier:  fmt.Sprintf("%s_%s_pipeline", p.Identifier, key),
			TemplateRef: orDefault(tmpl.TemplateRef, defaultRef),
			Version:     orDefault(tmpl.Version, DefaultPipelineVersion),
		})
	}
	add("nonprod", "NonProd", t.NonProd, DefaultNonProdTemplateRef)
	add("prod", "Prod", t.Prod, DefaultProdTemplateRef)
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
