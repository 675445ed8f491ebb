package harness

import (
	"context"
	"fmt"
	"net/url"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
)

const (
	rolesPath           = "/authz/api/roles"
	resourceGroupsPath  = "/resourcegroup/api/v2/resourcegroup"
	serviceAccountsPath = "/ng/api/serviceaccount"
	userGroupsPath      = "/ng/api/user-groups"
	userAggregatePath   = "/ng/api/user/aggregate"
)

type rolePermission struct {
	ResourceType string   `json:"resourceType"`
	Permission   []string `json:"permission"`
}

type roleBody struct {
	Identifier         string            `json:"identifier"`
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	Tags               map[string]string `json:"tags"`
	Permissions        []rolePermission  `json:"permissions"`
	AllowedScopeLevels []string          `json:"allowedScopeLevels"`
}

// CreateRole creates a custom role at project scope.
func (p *Provisioner) CreateRole(ctx context.Context, r config.Role) engine.OperationResult {
	perms := make([]rolePermission, 0, len(r.Permissions))
	for _, perm := range r.Permissions {
		perms = append(perms, rolePermission{ResourceType: perm.ResourceType, Permission: perm.Actions})
	}
	scopes := r.AllowedScopeLevels
	if len(scopes) == 0 {
		scopes = config.DefaultScopeLevels
	}

	scope := p.client.ProjectQuery(p.projectID)
	return p.create(ctx, createSpec{
		resourceType: engine.ResourceRole,
		identifier:   r.Identifier,
		name:         r.Name,
		lookupPath:   itemPath(rolesPath, r.Identifier),
		lookupQuery:  scope,
		createPath:   rolesPath,
		createQuery:  scope,
		payload: jsonPayload(roleBody{
			Identifier:         r.Identifier,
			Name:               r.Name,
			Description:        r.Description,
			Tags:               tagsOrEmpty(r.Tags),
			Permissions:        perms,
			AllowedScopeLevels: scopes,
		}),
		data: map[string]interface{}{"permissions_count": len(perms)},
	})
}

type resourceSelector struct {
	ResourceType string   `json:"resourceType"`
	Identifiers  []string `json:"identifiers,omitempty"`
}

type resourceFilter struct {
	IncludeAllResources bool               `json:"includeAllResources"`
	Resources           []resourceSelector `json:"resources"`
}

type resourceGroupBody struct {
	Identifier        string            `json:"identifier"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Tags              map[string]string `json:"tags"`
	Color             string            `json:"color"`
	AccountIdentifier string            `json:"accountIdentifier"`
	OrgIdentifier     string            `json:"orgIdentifier"`
	ProjectIdentifier string            `json:"projectIdentifier"`
	ResourceFilter    resourceFilter    `json:"resourceFilter"`
}

// CreateResourceGroup creates a resource group at project scope.
func (p *Provisioner) CreateResourceGroup(ctx context.Context, g config.ResourceGroup) engine.OperationResult {
	selectors := make([]resourceSelector, 0, len(g.IncludedScopes))
	for _, s := range g.IncludedScopes {
		selectors = append(selectors, resourceSelector{ResourceType: s.ResourceType, Identifiers: s.Identifiers})
	}

	scope := p.client.ProjectQuery(p.projectID)
	return p.create(ctx, createSpec{
		resourceType: engine.ResourceResourceGroup,
		identifier:   g.Identifier,
		name:         g.Name,
		lookupPath:   itemPath(resourceGroupsPath, g.Identifier),
		lookupQuery:  scope,
		createPath:   resourceGroupsPath,
		createQuery:  scope,
		payload: jsonPayload(resourceGroupBody{
			Identifier:        g.Identifier,
			Name:              g.Name,
			Description:       g.Description,
			Tags:              tagsOrEmpty(g.Tags),
			Color:             orDefault(g.Color, config.DefaultProjectColor),
			AccountIdentifier: p.client.AccountID(),
			OrgIdentifier:     p.client.OrgID(),
			ProjectIdentifier: p.projectID,
			ResourceFilter: resourceFilter{
				IncludeAllResources: g.IncludeAllResources,
				Resources:           selectors,
			},
		}),
	})
}

type serviceAccountBody struct {
	Identifier        string            `json:"identifier"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	Description       string            `json:"description"`
	Tags              map[string]string `json:"tags"`
	AccountIdentifier string            `json:"accountIdentifier"`
	OrgIdentifier     string            `json:"orgIdentifier"`
	ProjectIdentifier string            `json:"projectIdentifier"`
}

type tokenBody struct {
	Identifier        string `json:"identifier"`
	Name              string `json:"name"`
	APIKeyType        string `json:"apiKeyType"`
	ParentIdentifier  string `json:"parentIdentifier"`
	APIKeyIdentifier  string `json:"apiKeyIdentifier"`
	AccountIdentifier string `json:"accountIdentifier"`
	OrgIdentifier     string `json:"orgIdentifier"`
	ProjectIdentifier string `json:"projectIdentifier"`
}

// CreateServiceAccount creates a service account and, when requested, an
// API token for it. A failed token does not fail the account.
func (p *Provisioner) CreateServiceAccount(ctx context.Context, sa config.ServiceAccount) engine.OperationResult {
	email := orDefault(sa.Email, sa.Identifier+"@"+config.ServiceAccountEmailDomain)

	spec := createSpec{
		resourceType: engine.ResourceServiceAccount,
		identifier:   sa.Identifier,
		name:         sa.Name,
		lookupPath:   itemPath(serviceAccountsPath, sa.Identifier),
		lookupQuery:  p.client.ProjectQuery(p.projectID),
		createPath:   serviceAccountsPath,
		createQuery:  p.client.ProjectQuery(p.projectID),
		payload: jsonPayload(serviceAccountBody{
			Identifier:        sa.Identifier,
			Name:              sa.Name,
			Email:             email,
			Description:       sa.Description,
			Tags:              tagsOrEmpty(sa.Tags),
			AccountIdentifier: p.client.AccountID(),
			OrgIdentifier:     p.client.OrgID(),
			ProjectIdentifier: p.projectID,
		}),
		data: map[string]interface{}{"email": email},
	}
	if sa.CreateToken {
		spec.afterCreate = func(ctx context.Context, _ *Response, res *engine.OperationResult) {
			p.createToken(ctx, sa, res)
		}
	}
	return p.create(ctx, spec)
}

// createToken records token_identifier on success and token_error on
// failure. The token value is never stored.
func (p *Provisioner) createToken(ctx context.Context, sa config.ServiceAccount, res *engine.OperationResult) {
	logger := p.logger.WithResource(engine.ResourceServiceAccount, sa.Identifier)
	id := sa.Identifier + "_token"

	_, err := p.client.PostJSON(ctx,
		"/ng/api/service-accounts/"+url.PathEscape(sa.Identifier)+"/tokens",
		p.client.OrgQuery(),
		tokenBody{
			Identifier:        id,
			Name:              sa.Name + " Token",
			APIKeyType:        "SERVICE_ACCOUNT",
			ParentIdentifier:  sa.Identifier,
			APIKeyIdentifier:  sa.Identifier,
			AccountIdentifier: p.client.AccountID(),
			OrgIdentifier:     p.client.OrgID(),
			ProjectIdentifier: p.projectID,
		})

	if res.Data == nil {
		res.Data = map[string]interface{}{}
	}
	if err != nil {
		logger.WarnEvent().Err(err).Msg("Failed to create API token")
		res.Data["token_error"] = err.Error()
		return
	}
	logger.Info("Created API token")
	res.Data["token_identifier"] = id
}

type userGroupBody struct {
	Identifier          string            `json:"identifier"`
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	Tags                map[string]string `json:"tags"`
	Users               []string          `json:"users"`
	NotificationConfigs []interface{}     `json:"notificationConfigs"`
	AccountIdentifier   string            `json:"accountIdentifier"`
	OrgIdentifier       string            `json:"orgIdentifier"`
	ProjectIdentifier   string            `json:"projectIdentifier"`
}

// CreateUserGroup resolves member emails to user ids and creates the group.
// Members that cannot be resolved are left out with a warning.
func (p *Provisioner) CreateUserGroup(ctx context.Context, g config.UserGroup) engine.OperationResult {
	data := map[string]interface{}{"user_count": len(g.Users)}
	scope := p.client.ProjectQuery(p.projectID)

	return p.create(ctx, createSpec{
		resourceType: engine.ResourceUserGroup,
		identifier:   g.Identifier,
		name:         g.Name,
		lookupPath:   itemPath(userGroupsPath, g.Identifier),
		lookupQuery:  scope,
		createPath:   userGroupsPath,
		createQuery:  scope,
		payload: func(ctx context.Context) ([]byte, []string, error) {
			ids, warnings := p.resolveUsers(ctx, g.Users)
			data["user_count"] = len(ids)
			body, _, err := jsonPayload(userGroupBody{
				Identifier:          g.Identifier,
				Name:                g.Name,
				Description:         g.Description,
				Tags:                tagsOrEmpty(g.Tags),
				Users:               ids,
				NotificationConfigs: []interface{}{},
				AccountIdentifier:   p.client.AccountID(),
				OrgIdentifier:       p.client.OrgID(),
				ProjectIdentifier:   p.projectID,
			})(ctx)
			return body, warnings, err
		},
		data: data,
	})
}

type userAggregate struct {
	Content []struct {
		User struct {
			UUID  string `json:"uuid"`
			Email string `json:"email"`
		} `json:"user"`
	} `json:"content"`
}

// resolveUsers looks each email up and returns the ids found in input
// order.
func (p *Provisioner) resolveUsers(ctx context.Context, emails []string) ([]string, []string) {
	ids := make([]string, 0, len(emails))
	var warnings []string
	for _, email := range emails {
		id, err := p.lookupUser(ctx, email)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("user %s not resolved: %v", email, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, warnings
}

func (p *Provisioner) lookupUser(ctx context.Context, email string) (string, error) {
	q := p.client.OrgQuery()
	q.Set("searchTerm", email)

	resp, err := p.client.PostJSON(ctx, userAggregatePath, q, map[string]string{"filterType": "USER"})
	if err != nil {
		return "", err
	}
	var agg userAggregate
	if err := resp.DecodeData(&agg); err != nil {
		return "", err
	}
	if len(agg.Content) == 0 || agg.Content[0].User.UUID == "" {
		return "", fmt.Errorf("no matching user")
	}
	return agg.Content[0].User.UUID, nil
}
