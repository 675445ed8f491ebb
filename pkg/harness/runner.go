package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/openfroyo/harnessctl/pkg/engine"
)

// payloadFunc renders a request body. Warnings are attached to the result.
type payloadFunc func(ctx context.Context) (body []byte, warnings []string, err error)

// createSpec describes one idempotent create: look the resource up, and
// POST it only when it is not already there.
type createSpec struct {
	resourceType string
	identifier   string
	name         string

	// lookupPath is skipped when empty.
	lookupPath  string
	lookupQuery url.Values

	createPath  string
	createQuery url.Values
	contentType string
	payload     payloadFunc

	// data is copied into the result.
	data map[string]interface{}

	// afterCreate runs only when the POST created the resource.
	afterCreate func(ctx context.Context, resp *Response, res *engine.OperationResult)
}

// jsonPayload marshals v when the request is sent.
func jsonPayload(v interface{}) payloadFunc {
	return func(context.Context) ([]byte, []string, error) {
		b, err := json.Marshal(v)
		return b, nil, err
	}
}

// create runs the lookup, payload and POST steps of spec. It never returns
// an error: every failure, including a panic while rendering the payload,
// becomes a failed result.
func (p *Provisioner) create(ctx context.Context, spec createSpec) (res engine.OperationResult) {
	logger := p.logger.WithResource(spec.resourceType, spec.identifier)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorEvent().Interface("panic", r).Msg("Builder panicked")
			res = engine.Failed(spec.resourceType, spec.identifier, spec.name, fmt.Errorf("panic: %v", r))
		}
	}()

	data := make(map[string]interface{}, len(spec.data)+1)
	for k, v := range spec.data {
		data[k] = v
	}

	if spec.lookupPath != "" {
		l := p.client.Lookup(ctx, spec.lookupPath, spec.lookupQuery)
		switch l.State {
		case LookupFound:
			logger.Infof("%s %q already exists", spec.resourceType, spec.name)
			return engine.Existing(spec.resourceType, spec.identifier, spec.name, data)
		case LookupError:
			logger.WarnEvent().Err(l.Err).Msg("Existence check failed, attempting create")
			data["lookup_error"] = l.Err.Error()
		}
	}

	body, warnings, err := spec.payload(ctx)
	if err != nil {
		return withData(engine.Failed(spec.resourceType, spec.identifier, spec.name,
			fmt.Errorf("failed to render payload: %w", err)), data, warnings)
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	// payload may have refined spec.data, e.g. the resolved member count.
	for k, v := range spec.data {
		data[k] = v
	}

	resp, err := p.client.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        spec.createPath,
		Query:       spec.createQuery,
		Body:        body,
		ContentType: spec.contentType,
	})
	if err != nil {
		logger.ErrorEvent().Err(err).Msgf("Failed to create %s %q", spec.resourceType, spec.name)
		return withData(engine.Failed(spec.resourceType, spec.identifier, spec.name, err), data, warnings)
	}
	if resp.AlreadyExists {
		logger.Infof("%s %q already exists", spec.resourceType, spec.name)
		return withData(engine.Existing(spec.resourceType, spec.identifier, spec.name, data), nil, warnings)
	}

	res = withData(engine.Created(spec.resourceType, spec.identifier, spec.name, data), nil, warnings)
	if spec.afterCreate != nil {
		spec.afterCreate(ctx, resp, &res)
	}
	logger.Infof("Created %s %q", spec.resourceType, spec.name)
	return res
}

func withData(res engine.OperationResult, data map[string]interface{}, warnings []string) engine.OperationResult {
	if len(data) > 0 {
		res.Data = data
	}
	if len(warnings) > 0 {
		res.Warnings = append(res.Warnings, warnings...)
	}
	return res
}

func itemPath(base, identifier string) string {
	return base + "/" + url.PathEscape(identifier)
}
