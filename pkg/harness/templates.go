package harness

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/telemetry"
)

const templatesPath = "/template/api/templates"

// Template is an org-level pipeline template to publish.
type Template struct {
	Name         string
	Identifier   string
	VersionLabel string

	// Source is a pipeline YAML document with a top-level pipeline key.
	Source []byte

	// Replacements are applied to Source before parsing, longest key
	// first, e.g. to turn project placeholders into runtime inputs.
	Replacements map[string]string
}

// LoadTemplate reads a template source file. Name and identifier are taken
// from the pipeline section when present, otherwise from the file name.
func LoadTemplate(path, version string) (Template, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	var head struct {
		Pipeline struct {
			Name       string `yaml:"name"`
			Identifier string `yaml:"identifier"`
		} `yaml:"pipeline"`
	}
	if err := yaml.Unmarshal(src, &head); err != nil {
		return Template{}, engine.NewValidationError(fmt.Sprintf("template %s is not valid YAML", path), err).
			WithCode(engine.ErrCodeTemplateMalformed)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := orDefault(head.Pipeline.Name, base)
	return Template{
		Name:         name,
		Identifier:   orDefault(head.Pipeline.Identifier, config.Normalize(base)),
		VersionLabel: version,
		Source:       src,
	}, nil
}

// Publisher pushes pipeline templates at org scope.
type Publisher struct {
	client *Client
	logger *telemetry.Logger
}

// NewPublisher creates a template publisher.
func NewPublisher(client *Client, tel *telemetry.Telemetry) *Publisher {
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Publisher{client: client, logger: tel.Logger.NewComponentLogger("templates")}
}

type templateEnvelope struct {
	Template templateDef `yaml:"template"`
}

type templateDef struct {
	Name          string                 `yaml:"name"`
	Identifier    string                 `yaml:"identifier"`
	VersionLabel  string                 `yaml:"versionLabel"`
	Type          string                 `yaml:"type"`
	OrgIdentifier string                 `yaml:"orgIdentifier"`
	Tags          map[string]string      `yaml:"tags"`
	Spec          map[string]interface{} `yaml:"spec"`
}

// RenderTemplate builds the template document posted to Harness. Project
// scoped fields are stripped from the pipeline; org, version and the
// automation tag are forced.
func RenderTemplate(t Template, orgID string) ([]byte, error) {
	src := string(t.Source)
	keys := make([]string, 0, len(t.Replacements))
	for k := range t.Replacements {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		src = strings.ReplaceAll(src, k, t.Replacements[k])
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		return nil, engine.NewValidationError("template is not valid YAML", err).
			WithCode(engine.ErrCodeTemplateMalformed)
	}
	spec, ok := doc["pipeline"].(map[string]interface{})
	if !ok {
		return nil, engine.NewValidationError("template has no pipeline section", nil).
			WithCode(engine.ErrCodeTemplateMalformed)
	}
	for _, field := range []string{"name", "identifier", "projectIdentifier", "orgIdentifier"} {
		delete(spec, field)
	}

	return yaml.Marshal(templateEnvelope{Template: templateDef{
		Name:          t.Name,
		Identifier:    t.Identifier,
		VersionLabel:  t.VersionLabel,
		Type:          "Pipeline",
		OrgIdentifier: orgID,
		Tags:          map[string]string{"automation": "true"},
		Spec:          spec,
	}})
}

// Push publishes t. When the template version already exists it is
// updated in place and reported as existing.
func (p *Publisher) Push(ctx context.Context, t Template) engine.OperationResult {
	logger := p.logger.WithResource(engine.ResourceTemplate, t.Identifier)
	data := map[string]interface{}{"version": t.VersionLabel}

	if t.Identifier == "" || t.VersionLabel == "" {
		return engine.Failed(engine.ResourceTemplate, t.Identifier, t.Name,
			engine.NewValidationError("template identifier and version are required", nil))
	}

	body, err := RenderTemplate(t, p.client.OrgID())
	if err != nil {
		return engine.Failed(engine.ResourceTemplate, t.Identifier, t.Name, err)
	}

	lookupQuery := p.client.OrgQuery()
	lookupQuery.Set("versionLabel", t.VersionLabel)
	l := p.client.Lookup(ctx, itemPath(templatesPath, t.Identifier), lookupQuery)
	if l.State == LookupError {
		logger.WarnEvent().Err(l.Err).Msg("Existence check failed, attempting create")
		data["lookup_error"] = l.Err.Error()
	}

	if l.State != LookupFound {
		resp, err := p.client.PostYAML(ctx, templatesPath, p.client.OrgQuery(), body)
		switch {
		case err == nil && !resp.AlreadyExists:
			logger.Infof("Created template %q version %s", t.Name, t.VersionLabel)
			return engine.Created(engine.ResourceTemplate, t.Identifier, t.Name, data)
		case err != nil && !isAlreadyExists(err):
			logger.ErrorEvent().Err(err).Msg("Failed to create template")
			res := engine.Failed(engine.ResourceTemplate, t.Identifier, t.Name, err)
			res.Data = data
			return res
		}
	}

	logger.Infof("Template %q already exists, updating", t.Name)
	_, err = p.client.Do(ctx, Request{
		Method:      http.MethodPut,
		Path:        templatesPath + "/update/" + url.PathEscape(t.Identifier) + "/" + url.PathEscape(t.VersionLabel),
		Query:       p.client.OrgQuery(),
		Body:        body,
		ContentType: ContentTypeYAML,
	})
	if err != nil {
		logger.ErrorEvent().Err(err).Msg("Failed to update template")
		res := engine.Failed(engine.ResourceTemplate, t.Identifier, t.Name, err)
		res.Data = data
		return res
	}
	data["updated"] = true
	return engine.Existing(engine.ResourceTemplate, t.Identifier, t.Name, data)
}

// isAlreadyExists reports whether a create was rejected because the
// template version exists. Harness answers 400 for this case.
func isAlreadyExists(err error) bool {
	return engine.IsClient(err) && strings.Contains(strings.ToLower(err.Error()), "already exists")
}
