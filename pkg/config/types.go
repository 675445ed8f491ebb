package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Document is the provisioning document read from a YAML file. One document
// describes one Harness project and everything created inside it.
type Document struct {
	Harness         HarnessSettings  `yaml:"harness" json:"harness"`
	Project         Project          `yaml:"project" json:"project"`
	Connectors      Connectors       `yaml:"connectors,omitempty" json:"connectors,omitempty" validate:"dive,dive"`
	Secrets         Secrets          `yaml:"secrets,omitempty" json:"secrets,omitempty"`
	Environments    []Environment    `yaml:"environments,omitempty" json:"environments,omitempty" validate:"dive"`
	Infrastructures []Infrastructure `yaml:"infrastructures,omitempty" json:"infrastructures,omitempty" validate:"dive"`
	Services        []Service        `yaml:"services,omitempty" json:"services,omitempty" validate:"dive"`
	AccessControl   AccessControl    `yaml:"access_control,omitempty" json:"access_control,omitempty"`
	Pipelines       Pipelines        `yaml:"pipelines,omitempty" json:"pipelines,omitempty" validate:"dive"`

	// Templates is the older two-pipeline format. It is only read when
	// Pipelines is empty.
	Templates *LegacyTemplates `yaml:"templates,omitempty" json:"templates,omitempty"`
}

// HarnessSettings holds account credentials and the API endpoint.
type HarnessSettings struct {
	AccountID string `yaml:"account_id" json:"account_id" validate:"required"`
	APIKey    string `yaml:"api_key" json:"api_key" validate:"required"`
	OrgID     string `yaml:"org_id,omitempty" json:"org_id,omitempty" validate:"required,identifier"`
	BaseURL   string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"required,url"`
}

// Project is the Harness project every other resource lives in.
type Project struct {
	RepoName    string            `yaml:"repo_name" json:"repo_name" validate:"required"`
	Identifier  string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Color       string            `yaml:"color,omitempty" json:"color,omitempty" validate:"omitempty,hexcolor"`
	Modules     []string          `yaml:"modules,omitempty" json:"modules,omitempty"`
}

// Connector kinds accepted under the connectors section.
const (
	ConnectorKubernetes     = "kubernetes"
	ConnectorGitHub         = "github"
	ConnectorGitLab         = "gitlab"
	ConnectorBitbucket      = "bitbucket"
	ConnectorDocker         = "docker"
	ConnectorDockerRegistry = "docker_registry"
	ConnectorAWS            = "aws"
	ConnectorGCP            = "gcp"
	ConnectorAzure          = "azure"
)

// ConnectorKinds lists the supported connector kinds in creation order.
var ConnectorKinds = []string{
	ConnectorKubernetes,
	ConnectorGitHub,
	ConnectorGitLab,
	ConnectorBitbucket,
	ConnectorDocker,
	ConnectorDockerRegistry,
	ConnectorAWS,
	ConnectorGCP,
	ConnectorAzure,
}

// IsConnectorKind reports whether kind is a supported connector kind.
func IsConnectorKind(kind string) bool {
	for _, k := range ConnectorKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Connectors maps a connector kind to its connectors.
type Connectors map[string]ConnectorList

// Kinds returns the supported kinds present in c in creation order, followed
// by unsupported kinds sorted by name.
func (c Connectors) Kinds() (supported, unsupported []string) {
	for _, k := range ConnectorKinds {
		if _, ok := c[k]; ok {
			supported = append(supported, k)
		}
	}
	for k := range c {
		if !IsConnectorKind(k) {
			unsupported = append(unsupported, k)
		}
	}
	sort.Strings(unsupported)
	return supported, unsupported
}

// Count returns the number of connectors of supported kinds.
func (c Connectors) Count() int {
	n := 0
	for _, k := range ConnectorKinds {
		n += len(c[k])
	}
	return n
}

// ConnectorList accepts either a single connector mapping or a sequence of
// them.
type ConnectorList []Connector

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *ConnectorList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var items []Connector
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
	case yaml.MappingNode:
		var item Connector
		if err := node.Decode(&item); err != nil {
			return err
		}
		*l = ConnectorList{item}
	default:
		return fmt.Errorf("line %d: connectors must be a mapping or a list", node.Line)
	}
	return nil
}

// UnmarshalJSON accepts either an object or an array.
func (l *ConnectorList) UnmarshalJSON(data []byte) error {
	var items []Connector
	if err := json.Unmarshal(data, &items); err == nil {
		*l = items
		return nil
	}
	var item Connector
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	*l = ConnectorList{item}
	return nil
}

// Connector is one stored credential or endpoint reference. Fields that do
// not apply to a kind are ignored by its builder.
type Connector struct {
	Name              string            `yaml:"name" json:"name" validate:"required"`
	Identifier        string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description       string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags              map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	DelegateSelectors []string          `yaml:"delegate_selectors,omitempty" json:"delegate_selectors,omitempty"`

	// Cluster and cloud credentials.
	CredentialType string `yaml:"credential_type,omitempty" json:"credential_type,omitempty"`
	AccessKeyRef   string `yaml:"access_key_ref,omitempty" json:"access_key_ref,omitempty"`
	SecretKeyRef   string `yaml:"secret_key_ref,omitempty" json:"secret_key_ref,omitempty"`
	ClientID       string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	TenantID       string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	SecretRef      string `yaml:"secret_ref,omitempty" json:"secret_ref,omitempty"`

	// Git hosts.
	URL               string       `yaml:"url,omitempty" json:"url,omitempty"`
	ConnectionType    string       `yaml:"connection_type,omitempty" json:"connection_type,omitempty" validate:"omitempty,oneof=Account Repo"`
	ValidationRepo    string       `yaml:"validation_repo,omitempty" json:"validation_repo,omitempty"`
	Authentication    GitAuth      `yaml:"authentication,omitempty" json:"authentication,omitempty"`
	APIAccess         GitAPIAccess `yaml:"api_access,omitempty" json:"api_access,omitempty"`
	ExecuteOnDelegate *bool        `yaml:"execute_on_delegate,omitempty" json:"execute_on_delegate,omitempty"`

	// Docker registries.
	RegistryURL  string `yaml:"registry_url,omitempty" json:"registry_url,omitempty"`
	ProviderType string `yaml:"provider_type,omitempty" json:"provider_type,omitempty"`
	AuthType     string `yaml:"auth_type,omitempty" json:"auth_type,omitempty" validate:"omitempty,oneof=UsernamePassword Anonymous"`
	Username     string `yaml:"username,omitempty" json:"username,omitempty"`
	PasswordRef  string `yaml:"password_ref,omitempty" json:"password_ref,omitempty"`
}

// GitAuth configures how a git connector authenticates.
type GitAuth struct {
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	SpecType string `yaml:"spec_type,omitempty" json:"spec_type,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	TokenRef string `yaml:"token_ref,omitempty" json:"token_ref,omitempty"`
}

// GitAPIAccess configures API access for a git connector.
type GitAPIAccess struct {
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	TokenRef string `yaml:"token_ref,omitempty" json:"token_ref,omitempty"`
}

// Secrets holds the secrets section.
type Secrets struct {
	TextSecrets []TextSecret `yaml:"text_secrets,omitempty" json:"text_secrets,omitempty" validate:"dive"`
	FileSecrets []FileSecret `yaml:"file_secrets,omitempty" json:"file_secrets,omitempty" validate:"dive"`
}

// Count returns the number of configured secrets.
func (s Secrets) Count() int {
	return len(s.TextSecrets) + len(s.FileSecrets)
}

// TextSecret is an inline or referenced text secret.
type TextSecret struct {
	Name                    string            `yaml:"name" json:"name" validate:"required"`
	Identifier              string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description             string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags                    map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Value                   string            `yaml:"value,omitempty" json:"value,omitempty"`
	ValueType               string            `yaml:"value_type,omitempty" json:"value_type,omitempty" validate:"omitempty,oneof=Inline Reference"`
	SecretManagerIdentifier string            `yaml:"secret_manager_identifier,omitempty" json:"secret_manager_identifier,omitempty"`
}

// FileSecret is a file secret. Content is uploaded separately.
type FileSecret struct {
	Name                    string            `yaml:"name" json:"name" validate:"required"`
	Identifier              string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description             string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags                    map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	SecretManagerIdentifier string            `yaml:"secret_manager_identifier,omitempty" json:"secret_manager_identifier,omitempty"`
}

// Environment is a logical deployment target.
type Environment struct {
	Name        string            `yaml:"name" json:"name" validate:"required"`
	Identifier  string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Type        string            `yaml:"type,omitempty" json:"type,omitempty" validate:"required,envtype"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Variables   []Variable        `yaml:"variables,omitempty" json:"variables,omitempty" validate:"dive"`
}

// Variable is an environment variable definition.
type Variable struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Value string `yaml:"value" json:"value"`
	Type  string `yaml:"type,omitempty" json:"type,omitempty"`
}

// Infrastructure binds an environment to a concrete runtime.
type Infrastructure struct {
	Name           string             `yaml:"name" json:"name" validate:"required"`
	Identifier     string             `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	EnvironmentRef string             `yaml:"environment_ref" json:"environment_ref" validate:"required,identifier"`
	Description    string             `yaml:"description,omitempty" json:"description,omitempty"`
	Tags           map[string]string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	DeploymentType string             `yaml:"deployment_type,omitempty" json:"deployment_type,omitempty"`
	Type           string             `yaml:"type,omitempty" json:"type,omitempty"`
	Config         InfrastructureSpec `yaml:"config,omitempty" json:"config,omitempty"`
}

// InfrastructureSpec holds the cluster binding of an infrastructure.
type InfrastructureSpec struct {
	ConnectorRef      string `yaml:"connector_ref,omitempty" json:"connector_ref,omitempty"`
	Namespace         string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	ReleaseName       string `yaml:"release_name,omitempty" json:"release_name,omitempty"`
	AllowSimultaneous bool   `yaml:"allow_simultaneous,omitempty" json:"allow_simultaneous,omitempty"`
}

// Service is a deployable unit with manifests and artifacts.
type Service struct {
	Name        string            `yaml:"name" json:"name" validate:"required"`
	Identifier  string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Type        string            `yaml:"type,omitempty" json:"type,omitempty" validate:"required,servicetype"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Config      ServiceSpec       `yaml:"config,omitempty" json:"config,omitempty"`
}

// ServiceSpec lists the manifests and artifact sources of a service.
type ServiceSpec struct {
	Manifests []Manifest `yaml:"manifests,omitempty" json:"manifests,omitempty" validate:"dive"`
	Artifacts []Artifact `yaml:"artifacts,omitempty" json:"artifacts,omitempty" validate:"dive"`
}

// Manifest is a manifest stored in a git repository.
type Manifest struct {
	Identifier   string      `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"omitempty,identifier"`
	Type         string      `yaml:"type,omitempty" json:"type,omitempty"`
	ConnectorRef string      `yaml:"connector_ref,omitempty" json:"connector_ref,omitempty"`
	StoreType    string      `yaml:"store_type,omitempty" json:"store_type,omitempty"`
	GitDetails   *GitDetails `yaml:"git_details,omitempty" json:"git_details,omitempty"`
}

// GitDetails locates manifests inside a repository.
type GitDetails struct {
	Branch string   `yaml:"branch,omitempty" json:"branch,omitempty"`
	Paths  []string `yaml:"paths,omitempty" json:"paths,omitempty"`
}

// Artifact is a primary artifact source.
type Artifact struct {
	Identifier   string `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"omitempty,identifier"`
	Type         string `yaml:"type,omitempty" json:"type,omitempty"`
	ConnectorRef string `yaml:"connector_ref,omitempty" json:"connector_ref,omitempty"`
	ImagePath    string `yaml:"image_path,omitempty" json:"image_path,omitempty"`
}

// AccessControl holds the RBAC section. Entities are created roles first,
// then resource groups, service accounts and user groups.
type AccessControl struct {
	Roles           []Role           `yaml:"roles,omitempty" json:"roles,omitempty" validate:"dive"`
	ResourceGroups  []ResourceGroup  `yaml:"resource_groups,omitempty" json:"resource_groups,omitempty" validate:"dive"`
	ServiceAccounts []ServiceAccount `yaml:"service_accounts,omitempty" json:"service_accounts,omitempty" validate:"dive"`
	UserGroups      []UserGroup      `yaml:"user_groups,omitempty" json:"user_groups,omitempty" validate:"dive"`
}

// Count returns the number of RBAC entities.
func (a AccessControl) Count() int {
	return len(a.Roles) + len(a.ResourceGroups) + len(a.ServiceAccounts) + len(a.UserGroups)
}

// Role is a custom permission bundle.
type Role struct {
	Name               string            `yaml:"name" json:"name" validate:"required"`
	Identifier         string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description        string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags               map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Permissions        []Permission      `yaml:"permissions,omitempty" json:"permissions,omitempty" validate:"dive"`
	AllowedScopeLevels []string          `yaml:"allowed_scope_levels,omitempty" json:"allowed_scope_levels,omitempty" validate:"dive,oneof=account organization project"`
}

// Permission grants actions on one resource type.
type Permission struct {
	ResourceType string   `yaml:"resource_type" json:"resource_type" validate:"required"`
	Actions      []string `yaml:"actions" json:"actions" validate:"required,min=1"`
}

// ResourceGroup scopes the resources a role applies to.
type ResourceGroup struct {
	Name                string            `yaml:"name" json:"name" validate:"required"`
	Identifier          string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description         string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags                map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Color               string            `yaml:"color,omitempty" json:"color,omitempty" validate:"omitempty,hexcolor"`
	IncludeAllResources bool              `yaml:"include_all_resources,omitempty" json:"include_all_resources,omitempty"`
	IncludedScopes      []ResourceScope   `yaml:"included_scopes,omitempty" json:"included_scopes,omitempty" validate:"dive"`
}

// ResourceScope selects resources of one type.
type ResourceScope struct {
	ResourceType string   `yaml:"resource_type" json:"resource_type" validate:"required"`
	Identifiers  []string `yaml:"identifiers,omitempty" json:"identifiers,omitempty"`
}

// ServiceAccount is a non-human principal used by automation.
type ServiceAccount struct {
	Name        string            `yaml:"name" json:"name" validate:"required"`
	Identifier  string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Email       string            `yaml:"email,omitempty" json:"email,omitempty" validate:"omitempty,harnessemail"`
	Tags        map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	CreateToken bool              `yaml:"create_token,omitempty" json:"create_token,omitempty"`
}

// UserGroup is a group of users referenced by email.
type UserGroup struct {
	Name        string            `yaml:"name" json:"name" validate:"required"`
	Identifier  string            `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Users       []string          `yaml:"users,omitempty" json:"users,omitempty" validate:"dive,harnessemail"`
}

// Pipeline is either a reference to an org-level template or a verbatim
// pipeline YAML definition.
type Pipeline struct {
	// Key is the pipeline's key in the pipelines mapping.
	Key string `yaml:"-" json:"-"`

	Name        string                 `yaml:"name,omitempty" json:"name,omitempty" validate:"required"`
	Identifier  string                 `yaml:"identifier,omitempty" json:"identifier,omitempty" validate:"required,identifier"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        map[string]string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	TemplateRef string                 `yaml:"template_ref,omitempty" json:"template_ref,omitempty"`
	Version     string                 `yaml:"version,omitempty" json:"version,omitempty"`
	Variables   map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`
	YAML        string                 `yaml:"yaml,omitempty" json:"yaml,omitempty"`
}

// VariableNames returns the variable names sorted.
func (p Pipeline) VariableNames() []string {
	names := make([]string, 0, len(p.Variables))
	for k := range p.Variables {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Pipelines keeps the pipelines mapping in document order.
type Pipelines []Pipeline

// UnmarshalYAML decodes a mapping of pipeline key to pipeline.
func (p *Pipelines) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: pipelines must be a mapping", node.Line)
	}
	out := make(Pipelines, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var pl Pipeline
		if err := node.Content[i+1].Decode(&pl); err != nil {
			return fmt.Errorf("pipeline %q: %w", node.Content[i].Value, err)
		}
		pl.Key = node.Content[i].Value
		out = append(out, pl)
	}
	*p = out
	return nil
}

// MarshalYAML encodes the pipelines back into a mapping in order.
func (p Pipelines) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, pl := range p {
		var value yaml.Node
		if err := value.Encode(pl); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: pl.Key},
			&value,
		)
	}
	return node, nil
}

// MarshalJSON encodes the pipelines as an object keyed by pipeline key,
// with members in document order.
func (p Pipelines) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pl := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pl.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(pl)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", pl.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keyed by pipeline key, keeping the order
// of its members.
func (p *Pipelines) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("pipelines must be an object")
	}

	out := make(Pipelines, 0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected pipeline key %v", tok)
		}
		var pl Pipeline
		if err := dec.Decode(&pl); err != nil {
			return fmt.Errorf("pipeline %q: %w", key, err)
		}
		pl.Key = key
		out = append(out, pl)
	}
	*p = out
	return nil
}

// InOrder returns the pipelines ordered by the position of their key in
// keys. Pipelines not listed follow in their current order.
func (p Pipelines) InOrder(keys []string) Pipelines {
	pos := make(map[string]int, len(keys))
	for i, k := range keys {
		pos[k] = i
	}
	out := append(Pipelines(nil), p...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := pos[out[i].Key]
		pj, jok := pos[out[j].Key]
		if iok && jok {
			return pi < pj
		}
		return iok && !jok
	})
	return out
}

// LegacyTemplates is the older pipelines format with one nonprod and one
// prod pipeline built from org templates.
type LegacyTemplates struct {
	NonProd *LegacyTemplate `yaml:"nonprod,omitempty" json:"nonprod,omitempty"`
	Prod    *LegacyTemplate `yaml:"prod,omitempty" json:"prod,omitempty"`
}

// LegacyTemplate names an org template and its version.
type LegacyTemplate struct {
	TemplateRef string `yaml:"template_ref,omitempty" json:"template_ref,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
}
