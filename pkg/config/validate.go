package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError is one problem found in a document.
type ValidationError struct {
	// Path is the section the problem belongs to, e.g. "environments[0]".
	Path string `json:"path"`

	// Field is the offending field, empty for section-level problems.
	Field string `json:"field,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Severity is "error" for blocking problems and "warning" otherwise.
	Severity string `json:"severity"`
}

// String formats the error as "path.field: message".
func (e ValidationError) String() string {
	loc := e.Path
	if e.Field != "" {
		if loc != "" {
			loc += "."
		}
		loc += e.Field
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

// ValidationErrors collects every problem found in a document.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve))
	for _, e := range ve {
		msgs = append(msgs, e.String())
	}
	return fmt.Sprintf("%d validation error(s): %s", len(ve), strings.Join(msgs, "; "))
}

// ByPath groups messages by section path.
func (ve ValidationErrors) ByPath() map[string][]string {
	out := make(map[string][]string)
	for _, e := range ve {
		msg := e.Message
		if e.Field != "" {
			msg = e.Field + ": " + msg
		}
		out[e.Path] = append(out[e.Path], msg)
	}
	return out
}

// Validator checks documents with go-playground/validator and the CUE
// document schema.
type Validator struct {
	validate *validator.Validate
	schemas  *SchemaRegistry
}

// NewValidator creates a validator with the identifier, email and
// enumeration rules registered.
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return IsValidIdentifier(fl.Field().String())
	})
	_ = v.RegisterValidation("harnessemail", func(fl validator.FieldLevel) bool {
		return IsValidEmail(fl.Field().String())
	})
	v.RegisterAlias("envtype", "oneof=Production PreProduction")
	v.RegisterAlias("servicetype", "oneof=Kubernetes NativeHelm ServerlessAwsLambda AzureWebApp Ssh WinRm")

	return &Validator{
		validate: v,
		schemas:  NewSchemaRegistry(),
	}
}

// Validate checks a document whose defaults have been applied. It returns
// ValidationErrors when the document is invalid.
func (v *Validator) Validate(doc *Document) error {
	var errs ValidationErrors

	if err := v.validate.Struct(doc); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("failed to validate document: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	errs = append(errs, v.checkPipelines(doc)...)

	// Schema checks run on documents that pass the struct rules.
	if len(errs) == 0 {
		m, err := doc.ToMap()
		if err != nil {
			return err
		}
		errs = append(errs, v.schemas.ValidateDocument(m)...)
	}

	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

// checkPipelines reports pipelines that set both a template and inline
// YAML. Pipelines setting neither are reported as failed at creation.
func (v *Validator) checkPipelines(doc *Document) ValidationErrors {
	var errs ValidationErrors
	for _, pl := range doc.Pipelines {
		if pl.TemplateRef != "" && pl.YAML != "" {
			errs = append(errs, ValidationError{
				Path:     "pipelines." + pl.Key,
				Message:  "template_ref and yaml are mutually exclusive",
				Severity: "error",
			})
		}
	}
	return errs
}

// fieldError converts a validator error into a ValidationError whose path
// uses document key names, e.g. "environments[0]" and field "identifier".
func fieldError(fe validator.FieldError) ValidationError {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	path, field := ns, ""
	if i := strings.LastIndex(ns, "."); i >= 0 {
		path, field = ns[:i], ns[i+1:]
	}
	return ValidationError{
		Path:     path,
		Field:    field,
		Message:  fieldMessage(fe),
		Severity: "error",
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "identifier":
		return fmt.Sprintf("invalid identifier %q: must start with alphanumeric or underscore, max 128 chars, only alphanumeric, underscore and hyphen allowed", fe.Value())
	case "harnessemail":
		return fmt.Sprintf("invalid email format: %v", fe.Value())
	case "envtype":
		return fmt.Sprintf("invalid environment type %q: must be Production or PreProduction", fe.Value())
	case "servicetype":
		return fmt.Sprintf("invalid service type %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("must have at least %s item(s)", fe.Param())
	case "url":
		return fmt.Sprintf("invalid URL %q", fe.Value())
	case "hexcolor":
		return fmt.Sprintf("invalid color %q", fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
