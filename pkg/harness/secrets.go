package harness

import (
	"context"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
)

// Harness secret types.
const (
	SecretTypeText = "SecretText"
	SecretTypeFile = "SecretFile"
)

const secretsPath = "/ng/api/v2/secrets"

type secretEnvelope struct {
	Secret secretBody `json:"secret"`
}

type secretBody struct {
	Type              string            `json:"type"`
	Name              string            `json:"name"`
	Identifier        string            `json:"identifier"`
	OrgIdentifier     string            `json:"orgIdentifier"`
	ProjectIdentifier string            `json:"projectIdentifier"`
	Description       string            `json:"description"`
	Tags              map[string]string `json:"tags"`
	Spec              secretSpec        `json:"spec"`
}

type secretSpec struct {
	SecretManagerIdentifier string `json:"secretManagerIdentifier"`
	ValueType               string `json:"valueType,omitempty"`
	Value                   string `json:"value,omitempty"`
}

// CreateTextSecret creates a text secret. An inline value is sent only when
// it is non-empty and never logged.
func (p *Provisioner) CreateTextSecret(ctx context.Context, s config.TextSecret) engine.OperationResult {
	spec := secretSpec{
		SecretManagerIdentifier: orDefault(s.SecretManagerIdentifier, config.DefaultSecretManager),
		ValueType:               orDefault(s.ValueType, config.DefaultSecretValueType),
	}
	if spec.ValueType == config.DefaultSecretValueType && s.Value != "" {
		spec.Value = s.Value
	}
	return p.createSecret(ctx, SecretTypeText, s.Identifier, s.Name, s.Description, s.Tags, spec)
}

// CreateFileSecret creates the file secret entry. File content is uploaded
// outside of harnessctl.
func (p *Provisioner) CreateFileSecret(ctx context.Context, s config.FileSecret) engine.OperationResult {
	spec := secretSpec{
		SecretManagerIdentifier: orDefault(s.SecretManagerIdentifier, config.DefaultSecretManager),
	}
	return p.createSecret(ctx, SecretTypeFile, s.Identifier, s.Name, s.Description, s.Tags, spec)
}

func (p *Provisioner) createSecret(ctx context.Context, secretType, identifier, name, description string, tags map[string]string, spec secretSpec) engine.OperationResult {
	scope := p.client.ProjectQuery(p.projectID)
	return p.create(ctx, createSpec{
		resourceType: engine.ResourceSecret,
		identifier:   identifier,
		name:         name,
		lookupPath:   itemPath(secretsPath, identifier),
		lookupQuery:  scope,
		createPath:   secretsPath,
		createQuery:  scope,
		payload: jsonPayload(secretEnvelope{Secret: secretBody{
			Type:              secretType,
			Name:              name,
			Identifier:        identifier,
			OrgIdentifier:     p.client.OrgID(),
			ProjectIdentifier: p.projectID,
			Description:       description,
			Tags:              tagsOrEmpty(tags),
			Spec:              spec,
		}}),
		data: map[string]interface{}{"type": secretType},
	})
}
