package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for document validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in
// document schema registered under "document".
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("document", builtinDocumentSchema, "#Config"); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles source and registers the definition at path under
// name.
func (sr *SchemaRegistry) RegisterSchema(name, source, path string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(path))
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s has no definition %s: %w", name, path, err)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema unifies data with a named schema and returns the
// problems found.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) (ValidationErrors, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err), nil
	}
	return nil, nil
}

// ValidateDocument validates a document in map form against the document
// schema.
func (sr *SchemaRegistry) ValidateDocument(m map[string]interface{}) ValidationErrors {
	errs, err := sr.ValidateAgainstSchema("document", m)
	if err != nil {
		return ValidationErrors{{Message: err.Error(), Severity: "error"}}
	}
	return errs
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// convertCUEErrors converts CUE errors into ValidationErrors keyed by the
// path of the offending value.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		path := e.Path()
		var section, field string
		if n := len(path); n > 0 {
			section = strings.Join(path[:n-1], ".")
			field = path[n-1]
		}
		format, args := e.Msg()
		out = append(out, ValidationError{
			Path:     section,
			Field:    field,
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}
	return out
}

const builtinDocumentSchema = `
#Identifier: =~"^[a-zA-Z0-9_][a-zA-Z0-9_-]{0,127}$"
#Email:      =~#"^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$"#
#Color:      =~"^#[0-9a-fA-F]{6}$"
#Tags: {[string]: string}

#Named: {
	name:         string & !=""
	identifier?:  #Identifier
	description?: string
	tags?:        #Tags
	...
}

#Harness: {
	account_id: string & !=""
	api_key:    string & !=""
	org_id?:    #Identifier
	base_url?:  =~"^https?://"
	...
}

#Project: {
	repo_name:    string & !=""
	identifier?:  #Identifier
	description?: string
	tags?:        #Tags
	color?:       #Color
	modules?: [...string]
	...
}

#TextSecret: {
	#Named
	value_type?: "Inline" | "Reference"
}

#Environment: {
	#Named
	type?: "Production" | "PreProduction"
	variables?: [...{
		name:  string & !=""
		value: string
		type?: string
		...
	}]
}

#Infrastructure: {
	#Named
	environment_ref: #Identifier
}

#Service: {
	#Named
	type?: "Kubernetes" | "NativeHelm" | "ServerlessAwsLambda" | "AzureWebApp" | "Ssh" | "WinRm"
}

#Role: {
	#Named
	permissions?: [...{
		resource_type: string & !=""
		actions: [string, ...string]
		...
	}]
	allowed_scope_levels?: [..."account" | "organization" | "project"]
}

#ResourceGroup: {
	#Named
	color?: #Color
}

#ServiceAccount: {
	#Named
	email?: #Email
}

#UserGroup: {
	#Named
	users?: [...#Email]
}

#Pipeline: {
	name?:         string
	identifier?:   #Identifier
	template_ref?: string & !=""
	version?:      string
	yaml?:         string & !=""
	...
}

#Config: {
	harness: #Harness
	project: #Project
	connectors?: {[string]: [...#Named]}
	secrets?: {
		text_secrets?: [...#TextSecret]
		file_secrets?: [...#Named]
		...
	}
	environments?: [...#Environment]
	infrastructures?: [...#Infrastructure]
	services?: [...#Service]
	access_control?: {
		roles?: [...#Role]
		resource_groups?: [...#ResourceGroup]
		service_accounts?: [...#ServiceAccount]
		user_groups?: [...#UserGroup]
		...
	}
	pipelines?: {[string]: #Pipeline}
	templates?: {...}
	...
}
`
