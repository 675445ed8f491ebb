package harness

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
)

const (
	pipelinesPath       = "/pipeline/api/pipelines"
	pipelinesCreatePath = "/pipeline/api/pipelines/v2"
)

type pipelineDoc struct {
	Pipeline pipelineDef `yaml:"pipeline"`
}

type pipelineDef struct {
	Name              string            `yaml:"name"`
	Identifier        string            `yaml:"identifier"`
	ProjectIdentifier string            `yaml:"projectIdentifier"`
	OrgIdentifier     string            `yaml:"orgIdentifier"`
	Description       string            `yaml:"description"`
	Tags              map[string]string `yaml:"tags"`
	Template          pipelineTemplate  `yaml:"template"`
	Variables         []variableDef     `yaml:"variables,omitempty"`
}

type pipelineTemplate struct {
	TemplateRef  string `yaml:"templateRef"`
	VersionLabel string `yaml:"versionLabel"`
}

// templatePipelineYAML renders a pipeline that references an org template.
// Variables become String pipeline variables in name order.
func templatePipelineYAML(pl config.Pipeline, orgID, projectID string) ([]byte, error) {
	tags := pl.Tags
	if len(tags) == 0 {
		tags = map[string]string{"created_from": "template"}
	}
	var vars []variableDef
	for _, name := range pl.VariableNames() {
		vars = append(vars, variableDef{
			Name:  name,
			Type:  config.DefaultVariableType,
			Value: fmt.Sprint(pl.Variables[name]),
		})
	}
	return yaml.Marshal(pipelineDoc{Pipeline: pipelineDef{
		Name:              pl.Name,
		Identifier:        pl.Identifier,
		ProjectIdentifier: projectID,
		OrgIdentifier:     orgID,
		Description:       pl.Description,
		Tags:              tags,
		Template: pipelineTemplate{
			TemplateRef:  "org." + pl.TemplateRef,
			VersionLabel: orDefault(pl.Version, config.DefaultPipelineVersion),
		},
		Variables: vars,
	}})
}

// CreatePipeline creates a pipeline from an org template reference or from
// verbatim YAML.
func (p *Provisioner) CreatePipeline(ctx context.Context, pl config.Pipeline) engine.OperationResult {
	identifier := orDefault(pl.Identifier, pl.Key)
	name := orDefault(pl.Name, pl.Key)
	scope := p.client.ProjectQuery(p.projectID)

	spec := createSpec{
		resourceType: engine.ResourcePipeline,
		identifier:   identifier,
		name:         name,
		lookupPath:   itemPath(pipelinesPath, identifier),
		lookupQuery:  scope,
		createPath:   pipelinesCreatePath,
		createQuery:  scope,
		contentType:  ContentTypeYAML,
	}

	switch {
	case pl.TemplateRef != "":
		spec.payload = func(context.Context) ([]byte, []string, error) {
			body, err := templatePipelineYAML(pl, p.client.OrgID(), p.projectID)
			return body, nil, err
		}
		spec.data = map[string]interface{}{
			"template_ref": pl.TemplateRef,
			"version":      orDefault(pl.Version, config.DefaultPipelineVersion),
		}
	case pl.YAML != "":
		spec.payload = func(context.Context) ([]byte, []string, error) {
			return []byte(pl.YAML), nil, nil
		}
		spec.data = map[string]interface{}{"inline": true}
	default:
		return engine.Failed(engine.ResourcePipeline, identifier, name,
			engine.NewValidationError("Must specify either template_ref or yaml", nil))
	}

	return p.create(ctx, spec)
}
