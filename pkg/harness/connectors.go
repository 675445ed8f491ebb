package harness

import (
	"context"
	"fmt"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
)

// Harness connector types.
const (
	ConnectorTypeK8s       = "K8sCluster"
	ConnectorTypeGithub    = "Github"
	ConnectorTypeGitlab    = "Gitlab"
	ConnectorTypeBitbucket = "Bitbucket"
	ConnectorTypeDocker    = "DockerRegistry"
	ConnectorTypeAws       = "Aws"
	ConnectorTypeGcp       = "Gcp"
	ConnectorTypeAzure     = "Azure"
)

const (
	credentialInheritFromDelegate = "InheritFromDelegate"
	credentialManualConfig        = "ManualConfig"
	defaultDockerRegistryURL      = "https://index.docker.io/v2/"
	defaultDockerProvider         = "DockerHub"
	dockerAuthUsernamePassword    = "UsernamePassword"
	dockerAuthAnonymous           = "Anonymous"
)

// ConnectorType maps a document connector kind to its Harness type.
func ConnectorType(kind string) (string, bool) {
	switch kind {
	case config.ConnectorKubernetes:
		return ConnectorTypeK8s, true
	case config.ConnectorGitHub:
		return ConnectorTypeGithub, true
	case config.ConnectorGitLab:
		return ConnectorTypeGitlab, true
	case config.ConnectorBitbucket:
		return ConnectorTypeBitbucket, true
	case config.ConnectorDocker, config.ConnectorDockerRegistry:
		return ConnectorTypeDocker, true
	case config.ConnectorAWS:
		return ConnectorTypeAws, true
	case config.ConnectorGCP:
		return ConnectorTypeGcp, true
	case config.ConnectorAzure:
		return ConnectorTypeAzure, true
	}
	return "", false
}

type connectorEnvelope struct {
	Connector connectorBody `json:"connector"`
}

type connectorBody struct {
	Name              string            `json:"name"`
	Identifier        string            `json:"identifier"`
	Description       string            `json:"description"`
	OrgIdentifier     string            `json:"orgIdentifier"`
	ProjectIdentifier string            `json:"projectIdentifier"`
	Type              string            `json:"type"`
	Tags              map[string]string `json:"tags"`
	Spec              interface{}       `json:"spec"`
}

type credential struct {
	Type string      `json:"type"`
	Spec interface{} `json:"spec,omitempty"`
}

type k8sSpec struct {
	Credential        credential `json:"credential"`
	DelegateSelectors []string   `json:"delegateSelectors,omitempty"`
}

type gitSpec struct {
	URL               string            `json:"url"`
	ValidationRepo    string            `json:"validationRepo,omitempty"`
	Type              string            `json:"type"`
	Authentication    gitAuthentication `json:"authentication"`
	APIAccess         gitAPIAccess      `json:"apiAccess"`
	DelegateSelectors []string          `json:"delegateSelectors,omitempty"`
	ExecuteOnDelegate bool              `json:"executeOnDelegate"`
}

type gitAuthentication struct {
	Type string             `json:"type"`
	Spec gitHTTPCredentials `json:"spec"`
}

type gitHTTPCredentials struct {
	Type string        `json:"type"`
	Spec usernameToken `json:"spec"`
}

type usernameToken struct {
	Username string `json:"username"`
	TokenRef string `json:"tokenRef"`
}

type gitAPIAccess struct {
	Type string   `json:"type"`
	Spec tokenRef `json:"spec"`
}

type tokenRef struct {
	TokenRef string `json:"tokenRef"`
}

type dockerSpec struct {
	DockerRegistryURL string     `json:"dockerRegistryUrl"`
	ProviderType      string     `json:"providerType"`
	Auth              dockerAuth `json:"auth"`
	DelegateSelectors []string   `json:"delegateSelectors,omitempty"`
	ExecuteOnDelegate bool       `json:"executeOnDelegate"`
}

type dockerAuth struct {
	Type string      `json:"type"`
	Spec interface{} `json:"spec"`
}

type usernamePassword struct {
	Username    string `json:"username"`
	PasswordRef string `json:"passwordRef"`
}

type cloudSpec struct {
	Credential        credential `json:"credential"`
	DelegateSelectors []string   `json:"delegateSelectors,omitempty"`
	ExecuteOnDelegate bool       `json:"executeOnDelegate"`
}

type awsManualConfig struct {
	AccessKey    string `json:"accessKey"`
	SecretKeyRef string `json:"secretKeyRef"`
}

type gcpManualConfig struct {
	SecretKeyRef string `json:"secretKeyRef"`
}

type azureManualConfig struct {
	ApplicationID string    `json:"applicationId"`
	TenantID      string    `json:"tenantId"`
	Auth          azureAuth `json:"auth"`
}

type azureAuth struct {
	Type string    `json:"type"`
	Spec secretRef `json:"spec"`
}

type secretRef struct {
	SecretRef string `json:"secretRef"`
}

// connectorSpec renders the type specific spec of c.
func connectorSpec(connType string, c config.Connector) interface{} {
	input := config.DefaultInputExpression
	credType := orDefault(c.CredentialType, credentialInheritFromDelegate)

	switch connType {
	case ConnectorTypeK8s:
		return k8sSpec{
			Credential:        credential{Type: credType},
			DelegateSelectors: c.DelegateSelectors,
		}

	case ConnectorTypeGithub, ConnectorTypeGitlab, ConnectorTypeBitbucket:
		executeOnDelegate := false
		if connType == ConnectorTypeGithub && c.ExecuteOnDelegate != nil {
			executeOnDelegate = *c.ExecuteOnDelegate
		}
		return gitSpec{
			URL:            c.URL,
			ValidationRepo: c.ValidationRepo,
			Type:           orDefault(c.ConnectionType, "Account"),
			Authentication: gitAuthentication{
				Type: orDefault(c.Authentication.Type, "Http"),
				Spec: gitHTTPCredentials{
					Type: orDefault(c.Authentication.SpecType, "UsernameToken"),
					Spec: usernameToken{
						Username: c.Authentication.Username,
						TokenRef: orDefault(c.Authentication.TokenRef, input),
					},
				},
			},
			APIAccess: gitAPIAccess{
				Type: orDefault(c.APIAccess.Type, "Token"),
				Spec: tokenRef{TokenRef: orDefault(c.APIAccess.TokenRef, input)},
			},
			DelegateSelectors: c.DelegateSelectors,
			ExecuteOnDelegate: executeOnDelegate,
		}

	case ConnectorTypeDocker:
		auth := dockerAuth{Type: orDefault(c.AuthType, dockerAuthUsernamePassword), Spec: struct{}{}}
		if auth.Type == dockerAuthUsernamePassword {
			auth.Spec = usernamePassword{
				Username:    orDefault(c.Username, input),
				PasswordRef: orDefault(c.PasswordRef, input),
			}
		}
		return dockerSpec{
			DockerRegistryURL: orDefault(c.RegistryURL, defaultDockerRegistryURL),
			ProviderType:      orDefault(c.ProviderType, defaultDockerProvider),
			Auth:              auth,
			DelegateSelectors: c.DelegateSelectors,
		}

	case ConnectorTypeAws, ConnectorTypeGcp, ConnectorTypeAzure:
		cred := credential{Type: credType}
		if credType == credentialManualConfig {
			switch connType {
			case ConnectorTypeAws:
				cred.Spec = awsManualConfig{
					AccessKey:    orDefault(c.AccessKeyRef, input),
					SecretKeyRef: orDefault(c.SecretKeyRef, input),
				}
			case ConnectorTypeGcp:
				cred.Spec = gcpManualConfig{SecretKeyRef: orDefault(c.SecretKeyRef, input)}
			case ConnectorTypeAzure:
				cred.Spec = azureManualConfig{
					ApplicationID: orDefault(c.ClientID, input),
					TenantID:      orDefault(c.TenantID, input),
					Auth: azureAuth{
						Type: "Secret",
						Spec: secretRef{SecretRef: orDefault(c.SecretRef, input)},
					},
				}
			}
		}
		return cloudSpec{
			Credential:        cred,
			DelegateSelectors: c.DelegateSelectors,
			ExecuteOnDelegate: true,
		}
	}
	return nil
}

// CreateConnector creates one connector of a document kind at project scope.
func (p *Provisioner) CreateConnector(ctx context.Context, kind string, c config.Connector) engine.OperationResult {
	connType, ok := ConnectorType(kind)
	if !ok {
		return engine.Failed(engine.ResourceConnector, c.Identifier, c.Name,
			engine.NewValidationError(fmt.Sprintf("unsupported connector kind %q", kind), nil))
	}

	return p.create(ctx, createSpec{
		resourceType: engine.ResourceConnector,
		identifier:   c.Identifier,
		name:         c.Name,
		lookupPath:   itemPath("/ng/api/connectors", c.Identifier),
		lookupQuery:  p.client.ProjectQuery(p.projectID),
		createPath:   "/ng/api/connectors",
		createQuery:  p.client.OrgQuery(),
		payload: jsonPayload(connectorEnvelope{Connector: connectorBody{
			Name:              c.Name,
			Identifier:        c.Identifier,
			Description:       c.Description,
			OrgIdentifier:     p.client.OrgID(),
			ProjectIdentifier: p.projectID,
			Type:              connType,
			Tags:              tagsOrEmpty(c.Tags),
			Spec:              connectorSpec(connType, c),
		}}),
		data: map[string]interface{}{"connector_type": connType},
	})
}
