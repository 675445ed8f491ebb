package harness

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
)

const (
	environmentsPath    = "/ng/api/environmentsV2"
	infrastructuresPath = "/ng/api/infrastructures"
	servicesPath        = "/ng/api/servicesV2"
)

// yamlResourceBody is the JSON wrapper shared by environments,
// infrastructures and services. The definition itself travels as YAML.
type yamlResourceBody struct {
	Identifier        string            `json:"identifier"`
	OrgIdentifier     string            `json:"orgIdentifier"`
	ProjectIdentifier string            `json:"projectIdentifier"`
	EnvironmentRef    string            `json:"environmentRef,omitempty"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Type              string            `json:"type,omitempty"`
	Tags              map[string]string `json:"tags"`
	YAML              string            `json:"yaml"`
}

// Environments

type environmentDoc struct {
	Environment environmentDef `yaml:"environment"`
}

type environmentDef struct {
	Name              string            `yaml:"name"`
	Identifier        string            `yaml:"identifier"`
	OrgIdentifier     string            `yaml:"orgIdentifier"`
	ProjectIdentifier string            `yaml:"projectIdentifier"`
	Description       string            `yaml:"description"`
	Type              string            `yaml:"type"`
	Tags              map[string]string `yaml:"tags"`
	Variables         []variableDef     `yaml:"variables,omitempty"`
}

type variableDef struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// CreateEnvironment creates an environment at project scope.
func (p *Provisioner) CreateEnvironment(ctx context.Context, e config.Environment) engine.OperationResult {
	envType := orDefault(e.Type, config.DefaultEnvironmentType)
	scope := p.client.ProjectQuery(p.projectID)

	return p.create(ctx, createSpec{
		resourceType: engine.ResourceEnvironment,
		identifier:   e.Identifier,
		name:         e.Name,
		lookupPath:   itemPath(environmentsPath, e.Identifier),
		lookupQuery:  scope,
		createPath:   environmentsPath,
		createQuery:  scope,
		payload: func(ctx context.Context) ([]byte, []string, error) {
			vars := make([]variableDef, 0, len(e.Variables))
			for _, v := range e.Variables {
				vars = append(vars, variableDef{
					Name:  v.Name,
					Type:  orDefault(v.Type, config.DefaultVariableType),
					Value: v.Value,
				})
			}
			def, err := yaml.Marshal(environmentDoc{Environment: environmentDef{
				Name:              e.Name,
				Identifier:        e.Identifier,
				OrgIdentifier:     p.client.OrgID(),
				ProjectIdentifier: p.projectID,
				Description:       e.Description,
				Type:              envType,
				Tags:              tagsOrEmpty(e.Tags),
				Variables:         vars,
			}})
			if err != nil {
				return nil, nil, err
			}
			return jsonPayload(yamlResourceBody{
				Identifier:        e.Identifier,
				OrgIdentifier:     p.client.OrgID(),
				ProjectIdentifier: p.projectID,
				Name:              e.Name,
				Description:       e.Description,
				Type:              envType,
				Tags:              tagsOrEmpty(e.Tags),
				YAML:              string(def),
			})(ctx)
		},
		data: map[string]interface{}{"type": envType},
	})
}

// Infrastructures

type infrastructureDoc struct {
	InfrastructureDefinition infrastructureDef `yaml:"infrastructureDefinition"`
}

type infrastructureDef struct {
	Name                         string            `yaml:"name"`
	Identifier                   string            `yaml:"identifier"`
	OrgIdentifier                string            `yaml:"orgIdentifier"`
	ProjectIdentifier            string            `yaml:"projectIdentifier"`
	EnvironmentRef               string            `yaml:"environmentRef"`
	Description                  string            `yaml:"description,omitempty"`
	Tags                         map[string]string `yaml:"tags,omitempty"`
	DeploymentType               string            `yaml:"deploymentType"`
	Type                         string            `yaml:"type"`
	Spec                         infrastructureK8s `yaml:"spec"`
	AllowSimultaneousDeployments bool              `yaml:"allowSimultaneousDeployments"`
}

type infrastructureK8s struct {
	ConnectorRef string `yaml:"connectorRef"`
	Namespace    string `yaml:"namespace"`
	ReleaseName  string `yaml:"releaseName"`
}

// CreateInfrastructure creates an infrastructure definition inside its
// environment.
func (p *Provisioner) CreateInfrastructure(ctx context.Context, inf config.Infrastructure) engine.OperationResult {
	infraType := orDefault(inf.Type, config.DefaultInfraType)
	scope := p.client.ProjectQuery(p.projectID)
	scope.Set("environmentIdentifier", inf.EnvironmentRef)

	return p.create(ctx, createSpec{
		resourceType: engine.ResourceInfrastructure,
		identifier:   inf.Identifier,
		name:         inf.Name,
		lookupPath:   itemPath(infrastructuresPath, inf.Identifier),
		lookupQuery:  scope,
		createPath:   infrastructuresPath,
		createQuery:  scope,
		payload: func(ctx context.Context) ([]byte, []string, error) {
			def, err := yaml.Marshal(infrastructureDoc{InfrastructureDefinition: infrastructureDef{
				Name:              inf.Name,
				Identifier:        inf.Identifier,
				OrgIdentifier:     p.client.OrgID(),
				ProjectIdentifier: p.projectID,
				EnvironmentRef:    inf.EnvironmentRef,
				Description:       inf.Description,
				Tags:              inf.Tags,
				DeploymentType:    orDefault(inf.DeploymentType, config.DefaultDeploymentType),
				Type:              infraType,
				Spec: infrastructureK8s{
					ConnectorRef: orDefault(inf.Config.ConnectorRef, config.DefaultInputExpression),
					Namespace:    orDefault(inf.Config.Namespace, fmt.Sprintf("%s-%s", p.projectID, inf.EnvironmentRef)),
					ReleaseName:  orDefault(inf.Config.ReleaseName, config.DefaultReleaseName),
				},
				AllowSimultaneousDeployments: inf.Config.AllowSimultaneous,
			}})
			if err != nil {
				return nil, nil, err
			}
			return jsonPayload(yamlResourceBody{
				Identifier:        inf.Identifier,
				OrgIdentifier:     p.client.OrgID(),
				ProjectIdentifier: p.projectID,
				EnvironmentRef:    inf.EnvironmentRef,
				Name:              inf.Name,
				Description:       inf.Description,
				Type:              infraType,
				Tags:              tagsOrEmpty(inf.Tags),
				YAML:              string(def),
			})(ctx)
		},
		data: map[string]interface{}{"environment_ref": inf.EnvironmentRef},
	})
}

// Services

type serviceDoc struct {
	Service serviceDef `yaml:"service"`
}

type serviceDef struct {
	Name              string            `yaml:"name"`
	Identifier        string            `yaml:"identifier"`
	OrgIdentifier     string            `yaml:"orgIdentifier"`
	ProjectIdentifier string            `yaml:"projectIdentifier"`
	Description       string            `yaml:"description"`
	Tags              map[string]string `yaml:"tags"`
	ServiceDefinition serviceDefinition `yaml:"serviceDefinition"`
}

type serviceDefinition struct {
	Type string      `yaml:"type"`
	Spec serviceSpec `yaml:"spec"`
}

type serviceSpec struct {
	Manifests []manifestItem `yaml:"manifests,omitempty"`
	Artifacts *artifactsDef  `yaml:"artifacts,omitempty"`
}

type manifestItem struct {
	Manifest manifestDef `yaml:"manifest"`
}

type manifestDef struct {
	Identifier string       `yaml:"identifier"`
	Type       string       `yaml:"type"`
	Spec       manifestSpec `yaml:"spec"`
}

type manifestSpec struct {
	Store                  manifestStore `yaml:"store"`
	SkipResourceVersioning bool          `yaml:"skipResourceVersioning"`
}

type manifestStore struct {
	Type string       `yaml:"type"`
	Spec gitStoreSpec `yaml:"spec"`
}

type gitStoreSpec struct {
	ConnectorRef string   `yaml:"connectorRef"`
	GitFetchType string   `yaml:"gitFetchType"`
	Branch       string   `yaml:"branch,omitempty"`
	Paths        []string `yaml:"paths,omitempty"`
}

type artifactsDef struct {
	Primary primaryArtifact `yaml:"primary"`
}

type primaryArtifact struct {
	PrimaryArtifactRef string           `yaml:"primaryArtifactRef"`
	Sources            []artifactSource `yaml:"sources"`
}

type artifactSource struct {
	Identifier string             `yaml:"identifier"`
	Type       string             `yaml:"type"`
	Spec       artifactSourceSpec `yaml:"spec"`
}

type artifactSourceSpec struct {
	ConnectorRef string `yaml:"connectorRef"`
	ImagePath    string `yaml:"imagePath"`
	Tag          string `yaml:"tag"`
}

// serviceSpecFor renders manifests and artifacts with their defaults.
func serviceSpecFor(s config.ServiceSpec) serviceSpec {
	input := config.DefaultInputExpression
	var spec serviceSpec

	for _, m := range s.Manifests {
		store := gitStoreSpec{
			ConnectorRef: orDefault(m.ConnectorRef, input),
			GitFetchType: "Branch",
		}
		if m.GitDetails != nil {
			store.Branch = orDefault(m.GitDetails.Branch, "main")
			store.Paths = m.GitDetails.Paths
			if len(store.Paths) == 0 {
				store.Paths = []string{"k8s/"}
			}
		}
		spec.Manifests = append(spec.Manifests, manifestItem{Manifest: manifestDef{
			Identifier: orDefault(m.Identifier, "k8s_manifests"),
			Type:       orDefault(m.Type, "K8sManifest"),
			Spec: manifestSpec{
				Store: manifestStore{Type: orDefault(m.StoreType, "Github"), Spec: store},
			},
		}})
	}

	if len(s.Artifacts) > 0 {
		primary := primaryArtifact{PrimaryArtifactRef: input}
		for _, a := range s.Artifacts {
			primary.Sources = append(primary.Sources, artifactSource{
				Identifier: orDefault(a.Identifier, "docker_image"),
				Type:       orDefault(a.Type, ConnectorTypeDocker),
				Spec: artifactSourceSpec{
					ConnectorRef: orDefault(a.ConnectorRef, input),
					ImagePath:    orDefault(a.ImagePath, input),
					Tag:          input,
				},
			})
		}
		spec.Artifacts = &artifactsDef{Primary: primary}
	}
	return spec
}

// CreateService creates a service with its manifests and artifact sources.
func (p *Provisioner) CreateService(ctx context.Context, s config.Service) engine.OperationResult {
	svcType := orDefault(s.Type, config.DefaultServiceType)
	scope := p.client.ProjectQuery(p.projectID)

	return p.create(ctx, createSpec{
		resourceType: engine.ResourceService,
		identifier:   s.Identifier,
		name:         s.Name,
		lookupPath:   itemPath(servicesPath, s.Identifier),
		lookupQuery:  scope,
		createPath:   servicesPath,
		createQuery:  scope,
		payload: func(ctx context.Context) ([]byte, []string, error) {
			def, err := yaml.Marshal(serviceDoc{Service: serviceDef{
				Name:              s.Name,
				Identifier:        s.Identifier,
				OrgIdentifier:     p.client.OrgID(),
				ProjectIdentifier: p.projectID,
				Description:       s.Description,
				Tags:              tagsOrEmpty(s.Tags),
				ServiceDefinition: serviceDefinition{Type: svcType, Spec: serviceSpecFor(s.Config)},
			}})
			if err != nil {
				return nil, nil, err
			}
			return jsonPayload(yamlResourceBody{
				Identifier:        s.Identifier,
				OrgIdentifier:     p.client.OrgID(),
				ProjectIdentifier: p.projectID,
				Name:              s.Name,
				Description:       s.Description,
				Tags:              tagsOrEmpty(s.Tags),
				YAML:              string(def),
			})(ctx)
		},
		data: map[string]interface{}{
			"type":      svcType,
			"manifests": len(s.Config.Manifests),
			"artifacts": len(s.Config.Artifacts),
		},
	})
}
