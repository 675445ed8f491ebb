package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	err := sr.RegisterSchema("custom", `
#Custom: {
	field1: string
	field2: int
}
`, "#Custom")
	require.NoError(t, err)

	schema, ok := sr.GetSchema("custom")
	require.True(t, ok)
	assert.NoError(t, schema.Err())
	assert.ElementsMatch(t, []string{"document", "custom"}, sr.ListSchemas())
}

func TestSchemaRegistry_RegisterErrors(t *testing.T) {
	sr := NewSchemaRegistry()

	assert.Error(t, sr.RegisterSchema("broken", `#A: {`, "#A"))
	assert.Error(t, sr.RegisterSchema("missing", `#A: string`, "#B"))
}

func TestSchemaRegistry_ValidateCustom(t *testing.T) {
	sr := NewSchemaRegistry()
	require.NoError(t, sr.RegisterSchema("custom", `#Custom: {count: int & >0}`, "#Custom"))

	errs, err := sr.ValidateAgainstSchema("custom", map[string]interface{}{"count": 3})
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = sr.ValidateAgainstSchema("custom", map[string]interface{}{"count": 0})
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Equal(t, "count", errs[len(errs)-1].Field)

	_, err = sr.ValidateAgainstSchema("nope", nil)
	assert.Error(t, err)
}

func TestSchemaRegistry_ValidateDocument(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		doc     map[string]interface{}
		wantErr bool
		field   string
	}{
		{
			name: "minimal",
			doc: map[string]interface{}{
				"harness": map[string]interface{}{"account_id": "a", "api_key": "k"},
				"project": map[string]interface{}{"repo_name": "r"},
			},
		},
		{
			name: "missing project",
			doc: map[string]interface{}{
				"harness": map[string]interface{}{"account_id": "a", "api_key": "k"},
			},
			wantErr: true,
		},
		{
			name: "bad color",
			doc: map[string]interface{}{
				"harness": map[string]interface{}{"account_id": "a", "api_key": "k"},
				"project": map[string]interface{}{"repo_name": "r", "color": "blue"},
			},
			wantErr: true,
			field:   "color",
		},
		{
			name: "unknown environment type",
			doc: map[string]interface{}{
				"harness": map[string]interface{}{"account_id": "a", "api_key": "k"},
				"project": map[string]interface{}{"repo_name": "r"},
				"environments": []interface{}{
					map[string]interface{}{"name": "qa", "type": "QA"},
				},
			},
			wantErr: true,
			field:   "type",
		},
		{
			name: "extra keys allowed",
			doc: map[string]interface{}{
				"harness": map[string]interface{}{"account_id": "a", "api_key": "k"},
				"project": map[string]interface{}{"repo_name": "r", "owner": "team"},
				"notes":   "free form",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := sr.ValidateDocument(tt.doc)
			if !tt.wantErr {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			if tt.field != "" {
				fields := make([]string, 0, len(errs))
				for _, e := range errs {
					fields = append(fields, e.Field)
				}
				assert.Contains(t, fields, tt.field)
			}
		})
	}
}

func TestSchemaAcceptsFullDocument(t *testing.T) {
	doc := loadFull(t)
	m, err := doc.ToMap()
	require.NoError(t, err)

	assert.Empty(t, NewSchemaRegistry().ValidateDocument(m))
}
