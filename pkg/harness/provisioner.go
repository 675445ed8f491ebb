package harness

import (
	"context"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/telemetry"
)

var _ engine.Provisioner = (*Provisioner)(nil)

// Provisioner creates the resources of one project through the Harness API.
// Every method is idempotent and reports failures as failed results.
type Provisioner struct {
	client    *Client
	projectID string
	logger    *telemetry.Logger
}

// NewProvisioner creates a provisioner for the project with the given
// identifier.
func NewProvisioner(client *Client, projectID string, tel *telemetry.Telemetry) *Provisioner {
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Provisioner{
		client:    client,
		projectID: projectID,
		logger:    tel.Logger.NewComponentLogger("provisioner"),
	}
}

// NewProvisionerForDocument builds the client and provisioner described by
// the harness and project sections of doc.
func NewProvisionerForDocument(doc *config.Document, opts ClientConfig, tel *telemetry.Telemetry) (*Provisioner, error) {
	opts.BaseURL = doc.Harness.BaseURL
	opts.AccountID = doc.Harness.AccountID
	opts.OrgID = doc.Harness.OrgID
	opts.APIKey = doc.Harness.APIKey

	client, err := NewClient(opts, tel)
	if err != nil {
		return nil, err
	}
	return NewProvisioner(client, doc.Project.Identifier, tel), nil
}

// ProjectID returns the identifier of the project resources are created in.
func (p *Provisioner) ProjectID() string {
	return p.projectID
}

type projectEnvelope struct {
	Project projectBody `json:"project"`
}

type projectBody struct {
	OrgIdentifier string            `json:"orgIdentifier"`
	Identifier    string            `json:"identifier"`
	Name          string            `json:"name"`
	Color         string            `json:"color"`
	Modules       []string          `json:"modules"`
	Description   string            `json:"description"`
	Tags          map[string]string `json:"tags"`
}

// CreateProject creates the project at org scope.
func (p *Provisioner) CreateProject(ctx context.Context, proj config.Project) engine.OperationResult {
	return p.create(ctx, createSpec{
		resourceType: engine.ResourceProject,
		identifier:   proj.Identifier,
		name:         proj.RepoName,
		lookupPath:   itemPath("/ng/api/projects", proj.Identifier),
		lookupQuery:  p.client.OrgQuery(),
		createPath:   "/ng/api/projects",
		createQuery:  p.client.OrgQuery(),
		payload: jsonPayload(projectEnvelope{Project: projectBody{
			OrgIdentifier: p.client.OrgID(),
			Identifier:    proj.Identifier,
			Name:          proj.RepoName,
			Color:         proj.Color,
			Modules:       proj.Modules,
			Description:   proj.Description,
			Tags:          tagsOrEmpty(proj.Tags),
		}}),
		data: map[string]interface{}{"org_id": p.client.OrgID()},
	})
}

func tagsOrEmpty(tags map[string]string) map[string]string {
	if tags == nil {
		return map[string]string{}
	}
	return tags
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
