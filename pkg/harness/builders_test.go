package harness

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
)

func testProject() config.Project {
	return config.Project{
		RepoName:   "Payments-API",
		Identifier: "payments_api",
		Color:      config.DefaultProjectColor,
		Modules:    []string{"CD"},
		Tags:       map[string]string{"team": "payments"},
	}
}

func TestCreateProjectCreated(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreateProject(context.Background(), testProject())

	assert.Equal(t, engine.ResultCreated, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, "payments_api", res.Identifier)
	assert.Equal(t, "Payments-API", res.Name)

	get := f.one(http.MethodGet, "/ng/api/projects/payments_api")
	assert.Equal(t, "default", get.Query.Get("orgIdentifier"))

	post := f.one(http.MethodPost, "/ng/api/projects")
	assert.Equal(t, "default", post.Query.Get("orgIdentifier"))
	assert.Empty(t, post.Query.Get("projectIdentifier"))

	project := post.JSON(t)["project"].(map[string]interface{})
	assert.Equal(t, "payments_api", project["identifier"])
	assert.Equal(t, "Payments-API", project["name"])
	assert.Equal(t, "default", project["orgIdentifier"])
	assert.Equal(t, "#0063F7", project["color"])
	assert.Equal(t, []interface{}{"CD"}, project["modules"])
	assert.Equal(t, map[string]interface{}{"team": "payments"}, project["tags"])
}

func TestCreateProjectExistingSkipsPost(t *testing.T) {
	f := newFakeHarness(t)
	f.respond(http.MethodGet, "/ng/api/projects/payments_api", http.StatusOK, foundBody)

	res := f.provisioner(t).CreateProject(context.Background(), testProject())
	assert.Equal(t, engine.ResultExisting, res.Status)
	assert.True(t, res.Success)
	assert.Empty(t, f.find(http.MethodPost, "/ng/api/projects"))
}

func TestLookupWithoutDataIsNotFound(t *testing.T) {
	f := newFakeHarness(t)
	f.respond(http.MethodGet, "/ng/api/projects/payments_api", http.StatusOK, `{"status":"SUCCESS"}`)

	res := f.provisioner(t).CreateProject(context.Background(), testProject())
	assert.Equal(t, engine.ResultCreated, res.Status)
	assert.NotContains(t, res.Data, "lookup_error")
	f.one(http.MethodPost, "/ng/api/projects")
}

func TestLookupErrorIsRecordedAndCreateProceeds(t *testing.T) {
	f := newFakeHarness(t)
	f.respond(http.MethodGet, "/ng/api/projects/payments_api", http.StatusForbidden, `{"message":"no view permission"}`)

	res := f.provisioner(t).CreateProject(context.Background(), testProject())
	assert.Equal(t, engine.ResultCreated, res.Status)
	require.Contains(t, res.Data, "lookup_error")
	assert.Contains(t, res.Data["lookup_error"], "no view permission")
	f.one(http.MethodPost, "/ng/api/projects")
}

func TestLookupStates(t *testing.T) {
	f := newFakeHarness(t)
	f.respond(http.MethodGet, "/found", http.StatusOK, foundBody)
	f.respond(http.MethodGet, "/empty", http.StatusOK, `{"status":"SUCCESS","data":null}`)
	f.respond(http.MethodGet, "/broken", http.StatusInternalServerError, ``)
	c := f.client(t)
	ctx := context.Background()

	assert.Equal(t, LookupFound, c.Lookup(ctx, "/found", nil).State)
	assert.Equal(t, LookupNotFound, c.Lookup(ctx, "/missing", nil).State)
	assert.Equal(t, LookupNotFound, c.Lookup(ctx, "/empty", nil).State)

	l := c.Lookup(ctx, "/broken", nil)
	assert.Equal(t, LookupError, l.State)
	assert.True(t, engine.IsTransient(l.Err))
	assert.Equal(t, "error", l.State.String())
}

func TestCreateOutcomeFromPostStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   engine.ResultStatus
		errMsg string
	}{
		{"created", http.StatusOK, `{"status":"SUCCESS","data":{"identifier":"payments_api"}}`, engine.ResultCreated, ""},
		{"conflict", http.StatusConflict, `{"message":"already exists"}`, engine.ResultExisting, ""},
		{"not found", http.StatusNotFound, `{"message":"org missing"}`, engine.ResultFailed, "resource not found (404)"},
		{"bad request", http.StatusBadRequest, `{"message":"Invalid request: name too long"}`, engine.ResultFailed, "name too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeHarness(t)
			f.respond(http.MethodPost, "/ng/api/projects", tt.status, tt.body)

			res := f.provisioner(t).CreateProject(context.Background(), testProject())
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.want != engine.ResultFailed, res.Success)
			if tt.errMsg != "" {
				assert.Contains(t, res.Error, tt.errMsg)
			} else {
				assert.Empty(t, res.Error)
			}
		})
	}
}

func TestCreateRecoversPanics(t *testing.T) {
	f := newFakeHarness(t)
	p := f.provisioner(t)

	res := p.create(context.Background(), createSpec{
		resourceType: engine.ResourceService,
		identifier:   "api",
		name:         "API",
		createPath:   "/ng/api/servicesV2",
		payload: func(context.Context) ([]byte, []string, error) {
			var m map[string]string
			m["boom"] = "x"
			return nil, nil, nil
		},
	})
	assert.Equal(t, engine.ResultFailed, res.Status)
	assert.Contains(t, res.Error, "panic:")
	assert.Empty(t, f.find(http.MethodPost, "/ng/api/servicesV2"))
}

func connectorSpecOf(t *testing.T, f *fakeHarness) map[string]interface{} {
	t.Helper()
	post := f.one(http.MethodPost, "/ng/api/connectors")
	assert.Equal(t, "default", post.Query.Get("orgIdentifier"))
	assert.Empty(t, post.Query.Get("projectIdentifier"))
	conn := post.JSON(t)["connector"].(map[string]interface{})
	assert.Equal(t, "payments_api", conn["projectIdentifier"])
	return conn
}

func TestCreateConnectorPayloads(t *testing.T) {
	yes := true
	tests := []struct {
		name     string
		kind     string
		conn     config.Connector
		wantType string
		check    func(t *testing.T, spec map[string]interface{})
	}{
		{
			name:     "kubernetes inherits from delegate",
			kind:     config.ConnectorKubernetes,
			conn:     config.Connector{Name: "Prod Cluster", Identifier: "prod_cluster", DelegateSelectors: []string{"prod"}},
			wantType: "K8sCluster",
			check: func(t *testing.T, spec map[string]interface{}) {
				assert.Equal(t, map[string]interface{}{"type": "InheritFromDelegate"}, spec["credential"])
				assert.Equal(t, []interface{}{"prod"}, spec["delegateSelectors"])
			},
		},
		{
			name: "github honours executeOnDelegate",
			kind: config.ConnectorGitHub,
			conn: config.Connector{
				Name: "GitHub Org", Identifier: "github_org", URL: "https://github.com/acme",
				Authentication: config.GitAuth{Username: "bot", TokenRef: "gh_token"},
				ExecuteOnDelegate: &yes,
			},
			wantType: "Github",
			check: func(t *testing.T, spec map[string]interface{}) {
				assert.Equal(t, "https://github.com/acme", spec["url"])
				assert.Equal(t, "Account", spec["type"])
				assert.Equal(t, true, spec["executeOnDelegate"])
				auth := spec["authentication"].(map[string]interface{})
				assert.Equal(t, "Http", auth["type"])
				creds := auth["spec"].(map[string]interface{})
				assert.Equal(t, "UsernameToken", creds["type"])
				assert.Equal(t, map[string]interface{}{"username": "bot", "tokenRef": "gh_token"}, creds["spec"])
				api := spec["apiAccess"].(map[string]interface{})
				assert.Equal(t, map[string]interface{}{"tokenRef": "<+input>"}, api["spec"])
			},
		},
		{
			name:     "gitlab never executes on delegate",
			kind:     config.ConnectorGitLab,
			conn:     config.Connector{Name: "GitLab", Identifier: "gitlab", URL: "https://gitlab.com/acme", ConnectionType: "Repo", ExecuteOnDelegate: &yes},
			wantType: "Gitlab",
			check: func(t *testing.T, spec map[string]interface{}) {
				assert.Equal(t, "Repo", spec["type"])
				assert.Equal(t, false, spec["executeOnDelegate"])
			},
		},
		{
			name:     "docker anonymous",
			kind:     config.ConnectorDocker,
			conn:     config.Connector{Name: "Docker Hub", Identifier: "docker_hub", AuthType: "Anonymous"},
			wantType: "DockerRegistry",
			check: func(t *testing.T, spec map[string]interface{}) {
				assert.Equal(t, "https://index.docker.io/v2/", spec["dockerRegistryUrl"])
				assert.Equal(t, "DockerHub", spec["providerType"])
				assert.Equal(t, map[string]interface{}{"type": "Anonymous", "spec": map[string]interface{}{}}, spec["auth"])
				assert.Equal(t, false, spec["executeOnDelegate"])
			},
		},
		{
			name:     "docker registry alias with credentials",
			kind:     config.ConnectorDockerRegistry,
			conn:     config.Connector{Name: "GHCR", Identifier: "ghcr", RegistryURL: "https://ghcr.io", Username: "bot"},
			wantType: "DockerRegistry",
			check: func(t *testing.T, spec map[string]interface{}) {
				auth := spec["auth"].(map[string]interface{})
				assert.Equal(t, "UsernamePassword", auth["type"])
				assert.Equal(t, map[string]interface{}{"username": "bot", "passwordRef": "<+input>"}, auth["spec"])
			},
		},
		{
			name:     "aws manual config",
			kind:     config.ConnectorAWS,
			conn:     config.Connector{Name: "AWS", Identifier: "aws", CredentialType: "ManualConfig", AccessKeyRef: "AKIA", SecretKeyRef: "aws_secret"},
			wantType: "Aws",
			check: func(t *testing.T, spec map[string]interface{}) {
				cred := spec["credential"].(map[string]interface{})
				assert.Equal(t, "ManualConfig", cred["type"])
				assert.Equal(t, map[string]interface{}{"accessKey": "AKIA", "secretKeyRef": "aws_secret"}, cred["spec"])
				assert.Equal(t, true, spec["executeOnDelegate"])
			},
		},
		{
			name:     "azure manual config",
			kind:     config.ConnectorAzure,
			conn:     config.Connector{Name: "Azure", Identifier: "azure", CredentialType: "ManualConfig", ClientID: "app", TenantID: "tenant"},
			wantType: "Azure",
			check: func(t *testing.T, spec map[string]interface{}) {
				cred := spec["credential"].(map[string]interface{})["spec"].(map[string]interface{})
				assert.Equal(t, "app", cred["applicationId"])
				assert.Equal(t, "tenant", cred["tenantId"])
				assert.Equal(t, map[string]interface{}{"type": "Secret", "spec": map[string]interface{}{"secretRef": "<+input>"}}, cred["auth"])
			},
		},
		{
			name:     "gcp inherits from delegate",
			kind:     config.ConnectorGCP,
			conn:     config.Connector{Name: "GCP", Identifier: "gcp"},
			wantType: "Gcp",
			check: func(t *testing.T, spec map[string]interface{}) {
				assert.Equal(t, map[string]interface{}{"type": "InheritFromDelegate"}, spec["credential"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeHarness(t)
			res := f.provisioner(t).CreateConnector(context.Background(), tt.kind, tt.conn)
			require.Equal(t, engine.ResultCreated, res.Status, res.Error)
			assert.Equal(t, tt.wantType, res.Data["connector_type"])

			f.one(http.MethodGet, "/ng/api/connectors/"+tt.conn.Identifier)
			conn := connectorSpecOf(t, f)
			assert.Equal(t, tt.wantType, conn["type"])
			assert.Equal(t, tt.conn.Name, conn["name"])
			tt.check(t, conn["spec"].(map[string]interface{}))
		})
	}
}

func TestCreateConnectorUnsupportedKind(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreateConnector(context.Background(), "jira", config.Connector{Name: "Jira", Identifier: "jira"})
	assert.Equal(t, engine.ResultFailed, res.Status)
	assert.Contains(t, res.Error, `unsupported connector kind "jira"`)
	assert.Empty(t, f.requests())
}

func TestCreateTextSecret(t *testing.T) {
	tests := []struct {
		name      string
		secret    config.TextSecret
		wantValue interface{}
	}{
		{"inline value sent", config.TextSecret{Name: "DB", Identifier: "db", Value: "hunter2"}, "hunter2"},
		{"reference value omitted", config.TextSecret{Name: "DB", Identifier: "db", Value: "vault://x", ValueType: "Reference"}, nil},
		{"empty value omitted", config.TextSecret{Name: "DB", Identifier: "db"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeHarness(t)
			res := f.provisioner(t).CreateTextSecret(context.Background(), tt.secret)
			require.Equal(t, engine.ResultCreated, res.Status, res.Error)
			assert.Equal(t, "SecretText", res.Data["type"])

			post := f.one(http.MethodPost, "/ng/api/v2/secrets")
			assert.Equal(t, "payments_api", post.Query.Get("projectIdentifier"))
			secret := post.JSON(t)["secret"].(map[string]interface{})
			assert.Equal(t, "SecretText", secret["type"])
			spec := secret["spec"].(map[string]interface{})
			assert.Equal(t, "harnessSecretManager", spec["secretManagerIdentifier"])
			assert.Equal(t, tt.wantValue, spec["value"])
		})
	}
}

func TestCreateFileSecret(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreateFileSecret(context.Background(), config.FileSecret{Name: "Kubeconfig", Identifier: "kubeconfig"})
	require.Equal(t, engine.ResultCreated, res.Status)
	assert.Equal(t, "SecretFile", res.Data["type"])

	secret := f.one(http.MethodPost, "/ng/api/v2/secrets").JSON(t)["secret"].(map[string]interface{})
	assert.Equal(t, "SecretFile", secret["type"])
	assert.Equal(t, map[string]interface{}{"secretManagerIdentifier": "harnessSecretManager"}, secret["spec"])
}

func TestCreateRole(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreateRole(context.Background(), config.Role{
		Name:       "Deployer",
		Identifier: "deployer",
		Permissions: []config.Permission{
			{ResourceType: "PIPELINE", Actions: []string{"core_pipeline_view", "core_pipeline_execute"}},
		},
	})
	require.Equal(t, engine.ResultCreated, res.Status)
	assert.Equal(t, 1, res.Data["permissions_count"])

	f.one(http.MethodGet, "/authz/api/roles/deployer")
	body := f.one(http.MethodPost, "/authz/api/roles").JSON(t)
	assert.Equal(t, []interface{}{"project"}, body["allowedScopeLevels"])
	assert.Equal(t, []interface{}{map[string]interface{}{
		"resourceType": "PIPELINE",
		"permission":   []interface{}{"core_pipeline_view", "core_pipeline_execute"},
	}}, body["permissions"])
}

func TestCreateResourceGroup(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreateResourceGroup(context.Background(), config.ResourceGroup{
		Name:           "Pipelines",
		Identifier:     "pipelines",
		IncludedScopes: []config.ResourceScope{{ResourceType: "PIPELINE"}},
	})
	require.Equal(t, engine.ResultCreated, res.Status)

	body := f.one(http.MethodPost, "/resourcegroup/api/v2/resourcegroup").JSON(t)
	assert.Equal(t, "acct123", body["accountIdentifier"])
	assert.Equal(t, "payments_api", body["projectIdentifier"])
	assert.Equal(t, "#0063F7", body["color"])
	filter := body["resourceFilter"].(map[string]interface{})
	assert.Equal(t, false, filter["includeAllResources"])
	assert.Equal(t, []interface{}{map[string]interface{}{"resourceType": "PIPELINE"}}, filter["resources"])
}

func TestCreateServiceAccountToken(t *testing.T) {
	sa := config.ServiceAccount{Name: "CI Bot", Identifier: "ci_bot", CreateToken: true}
	tokenPath := "/ng/api/service-accounts/ci_bot/tokens"

	t.Run("token created", func(t *testing.T) {
		f := newFakeHarness(t)
		res := f.provisioner(t).CreateServiceAccount(context.Background(), sa)
		require.Equal(t, engine.ResultCreated, res.Status)
		assert.Equal(t, "ci_bot@harness.serviceaccount", res.Data["email"])
		assert.Equal(t, "ci_bot_token", res.Data["token_identifier"])

		token := f.one(http.MethodPost, tokenPath).JSON(t)
		assert.Equal(t, "ci_bot_token", token["identifier"])
		assert.Equal(t, "CI Bot Token", token["name"])
		assert.Equal(t, "SERVICE_ACCOUNT", token["apiKeyType"])
		assert.Equal(t, "ci_bot", token["parentIdentifier"])
		assert.Equal(t, "payments_api", token["projectIdentifier"])
	})

	t.Run("token failure keeps account", func(t *testing.T) {
		f := newFakeHarness(t)
		f.respond(http.MethodPost, tokenPath, http.StatusBadRequest, `{"message":"api key missing"}`)
		res := f.provisioner(t).CreateServiceAccount(context.Background(), sa)
		assert.Equal(t, engine.ResultCreated, res.Status)
		assert.True(t, res.Success)
		assert.Contains(t, res.Data["token_error"], "api key missing")
		assert.NotContains(t, res.Data, "token_identifier")
	})

	t.Run("existing account creates no token", func(t *testing.T) {
		f := newFakeHarness(t)
		f.respond(http.MethodGet, "/ng/api/serviceaccount/ci_bot", http.StatusOK, foundBody)
		res := f.provisioner(t).CreateServiceAccount(context.Background(), sa)
		assert.Equal(t, engine.ResultExisting, res.Status)
		assert.Empty(t, f.find(http.MethodPost, tokenPath))
	})
}

func TestCreateUserGroupResolvesMembers(t *testing.T) {
	f := newFakeHarness(t)
	f.on(http.MethodPost, "/ng/api/user/aggregate", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("searchTerm") == "alice@example.com" {
			reply(w, http.StatusOK, `{"status":"SUCCESS","data":{"content":[{"user":{"uuid":"u-alice","email":"alice@example.com"}}]}}`)
			return
		}
		reply(w, http.StatusOK, `{"status":"SUCCESS","data":{"content":[]}}`)
	})

	res := f.provisioner(t).CreateUserGroup(context.Background(), config.UserGroup{
		Name:       "Payments Team",
		Identifier: "payments_team",
		Users:      []string{"alice@example.com", "bob@example.com"},
	})
	require.Equal(t, engine.ResultCreated, res.Status)
	assert.Equal(t, 1, res.Data["user_count"])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "bob@example.com")

	lookups := f.find(http.MethodPost, "/ng/api/user/aggregate")
	require.Len(t, lookups, 2)
	assert.JSONEq(t, `{"filterType":"USER"}`, string(lookups[0].Body))

	body := f.one(http.MethodPost, "/ng/api/user-groups").JSON(t)
	assert.Equal(t, []interface{}{"u-alice"}, body["users"])
	assert.Equal(t, []interface{}{}, body["notificationConfigs"])
}

func TestCreateUserGroupExistingSkipsResolution(t *testing.T) {
	f := newFakeHarness(t)
	f.respond(http.MethodGet, "/ng/api/user-groups/payments_team", http.StatusOK, foundBody)

	res := f.provisioner(t).CreateUserGroup(context.Background(), config.UserGroup{
		Name: "Payments Team", Identifier: "payments_team", Users: []string{"alice@example.com"},
	})
	assert.Equal(t, engine.ResultExisting, res.Status)
	assert.Empty(t, f.find(http.MethodPost, "/ng/api/user/aggregate"))
}

// embeddedYAML decodes the yaml field of a JSON wrapped resource body.
func embeddedYAML(t *testing.T, req recorded) map[string]interface{} {
	t.Helper()
	var wrapper struct {
		YAML string `json:"yaml"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &wrapper))
	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(wrapper.YAML), &doc))
	return doc
}

func TestCreateEnvironment(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreateEnvironment(context.Background(), config.Environment{
		Name:       "Prod",
		Identifier: "prod",
		Type:       "Production",
		Variables:  []config.Variable{{Name: "replicas", Value: "3"}},
	})
	require.Equal(t, engine.ResultCreated, res.Status)

	post := f.one(http.MethodPost, "/ng/api/environmentsV2")
	assert.Equal(t, "Production", post.JSON(t)["type"])
	env := embeddedYAML(t, post)["environment"].(map[string]interface{})
	assert.Equal(t, "prod", env["identifier"])
	assert.Equal(t, "payments_api", env["projectIdentifier"])
	assert.Equal(t, []interface{}{map[string]interface{}{"name": "replicas", "type": "String", "value": "3"}}, env["variables"])
}

func TestCreateInfrastructure(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreateInfrastructure(context.Background(), config.Infrastructure{
		Name:           "Dev K8s",
		Identifier:     "dev_k8s",
		EnvironmentRef: "dev",
		Config:         config.InfrastructureSpec{ConnectorRef: "prod_cluster"},
	})
	require.Equal(t, engine.ResultCreated, res.Status)

	get := f.one(http.MethodGet, "/ng/api/infrastructures/dev_k8s")
	assert.Equal(t, "dev", get.Query.Get("environmentIdentifier"))

	post := f.one(http.MethodPost, "/ng/api/infrastructures")
	assert.Equal(t, "dev", post.Query.Get("environmentIdentifier"))
	assert.Equal(t, "dev", post.JSON(t)["environmentRef"])

	def := embeddedYAML(t, post)["infrastructureDefinition"].(map[string]interface{})
	assert.Equal(t, "KubernetesDirect", def["type"])
	assert.Equal(t, "Kubernetes", def["deploymentType"])
	assert.Equal(t, false, def["allowSimultaneousDeployments"])
	assert.Equal(t, map[string]interface{}{
		"connectorRef": "prod_cluster",
		"namespace":    "payments_api-dev",
		"releaseName":  "release-<+INFRA_KEY>",
	}, def["spec"])
}

func TestCreateService(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreateService(context.Background(), config.Service{
		Name:       "Payments API",
		Identifier: "payments_api",
		Config: config.ServiceSpec{
			Manifests: []config.Manifest{{ConnectorRef: "github_org", GitDetails: &config.GitDetails{}}},
			Artifacts: []config.Artifact{{ConnectorRef: "docker_hub", ImagePath: "acme/payments"}},
		},
	})
	require.Equal(t, engine.ResultCreated, res.Status)

	svc := embeddedYAML(t, f.one(http.MethodPost, "/ng/api/servicesV2"))["service"].(map[string]interface{})
	def := svc["serviceDefinition"].(map[string]interface{})
	assert.Equal(t, "Kubernetes", def["type"])
	spec := def["spec"].(map[string]interface{})

	manifest := spec["manifests"].([]interface{})[0].(map[string]interface{})["manifest"].(map[string]interface{})
	assert.Equal(t, "k8s_manifests", manifest["identifier"])
	store := manifest["spec"].(map[string]interface{})["store"].(map[string]interface{})
	assert.Equal(t, "Github", store["type"])
	assert.Equal(t, map[string]interface{}{
		"connectorRef": "github_org",
		"gitFetchType": "Branch",
		"branch":       "main",
		"paths":        []interface{}{"k8s/"},
	}, store["spec"])

	primary := spec["artifacts"].(map[string]interface{})["primary"].(map[string]interface{})
	assert.Equal(t, "<+input>", primary["primaryArtifactRef"])
	source := primary["sources"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "docker_image", source["identifier"])
	assert.Equal(t, map[string]interface{}{
		"connectorRef": "docker_hub",
		"imagePath":    "acme/payments",
		"tag":          "<+input>",
	}, source["spec"])
}

func TestCreatePipelineFromTemplate(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreatePipeline(context.Background(), config.Pipeline{
		Key:         "nonprod",
		Name:        "Deploy NonProd",
		Identifier:  "deploy_nonprod",
		TemplateRef: "nonprod_deployment_pipeline",
		Variables:   map[string]interface{}{"region": "eu-west-1", "replicas": 2},
	})
	require.Equal(t, engine.ResultCreated, res.Status)
	assert.Equal(t, "nonprod_deployment_pipeline", res.Data["template_ref"])
	assert.Equal(t, "v1", res.Data["version"])

	post := f.one(http.MethodPost, "/pipeline/api/pipelines/v2")
	assert.Equal(t, ContentTypeYAML, post.ContentType)
	assert.Equal(t, "payments_api", post.Query.Get("projectIdentifier"))

	var doc pipelineDoc
	require.NoError(t, yaml.Unmarshal(post.Body, &doc))
	assert.Equal(t, "org.nonprod_deployment_pipeline", doc.Pipeline.Template.TemplateRef)
	assert.Equal(t, "v1", doc.Pipeline.Template.VersionLabel)
	assert.Equal(t, map[string]string{"created_from": "template"}, doc.Pipeline.Tags)
	assert.Equal(t, []variableDef{
		{Name: "region", Type: "String", Value: "eu-west-1"},
		{Name: "replicas", Type: "String", Value: "2"},
	}, doc.Pipeline.Variables)
}

func TestCreatePipelineInline(t *testing.T) {
	f := newFakeHarness(t)
	src := "pipeline:\n  name: Custom\n  identifier: custom\n"
	res := f.provisioner(t).CreatePipeline(context.Background(), config.Pipeline{Key: "custom", YAML: src})
	require.Equal(t, engine.ResultCreated, res.Status)
	assert.Equal(t, "custom", res.Identifier)

	post := f.one(http.MethodPost, "/pipeline/api/pipelines/v2")
	assert.Equal(t, src, string(post.Body))
}

func TestCreatePipelineWithoutSource(t *testing.T) {
	f := newFakeHarness(t)
	res := f.provisioner(t).CreatePipeline(context.Background(), config.Pipeline{Key: "broken"})
	assert.Equal(t, engine.ResultFailed, res.Status)
	assert.Contains(t, res.Error, "Must specify either template_ref or yaml")
	assert.Empty(t, f.requests())
}
