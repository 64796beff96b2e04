package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codecrate/config"
)

func TestBuiltinTable(t *testing.T) {
	specs, err := Builtin()
	require.NoError(t, err)

	reg, err := NewRegistry(specs)
	require.NoError(t, err)

	assert.Equal(t, []string{"py", "cpp", "java", "js", "go"}, reg.IDs())

	tests := []struct {
		id       string
		compiled bool
		source   string
	}{
		{"py", false, ""},
		{"js", false, ""},
		{"cpp", true, "main.cpp"},
		{"java", true, "Main.java"},
		{"go", true, "main.go"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			spec, ok := reg.Lookup(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.compiled, spec.Compiled())
			assert.Equal(t, tt.source, spec.SourceFile)
			assert.NotEmpty(t, spec.Image)
			assert.NotEmpty(t, spec.Name)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	specs, err := Builtin()
	require.NoError(t, err)
	reg, err := NewRegistry(specs)
	require.NoError(t, err)

	_, ok := reg.Lookup("not-a-real-language")
	assert.False(t, ok)

	_, ok = reg.Lookup("")
	assert.False(t, ok)
}

func TestRegistryIsImmutable(t *testing.T) {
	specs := []Spec{{
		ID:          "py",
		Image:       "python",
		Entrypoint:  []string{"python", "-c"},
		Environment: map[string]string{"A": "1"},
	}}

	reg, err := NewRegistry(specs)
	require.NoError(t, err)

	// mutate the input after registration
	specs[0].Entrypoint[0] = "evil"
	specs[0].Environment["A"] = "2"

	got, ok := reg.Lookup("py")
	require.True(t, ok)
	assert.Equal(t, "python", got.Entrypoint[0])
	assert.Equal(t, "1", got.Environment["A"])

	// mutate a looked-up copy
	got.Entrypoint[0] = "evil"
	got.Environment["A"] = "3"

	again, _ := reg.Lookup("py")
	assert.Equal(t, "python", again.Entrypoint[0])
	assert.Equal(t, "1", again.Environment["A"])

	ids := reg.IDs()
	ids[0] = "evil"
	assert.Equal(t, []string{"py"}, reg.IDs())
}

func TestNewRegistryValidation(t *testing.T) {
	valid := Spec{ID: "py", Image: "python", Entrypoint: []string{"python", "-c"}}

	tests := []struct {
		name    string
		specs   []Spec
		wantErr error
	}{
		{"duplicate id", []Spec{valid, valid}, ErrDuplicateID},
		{"empty id", []Spec{{Image: "x", Entrypoint: []string{"x"}}}, ErrInvalidSpec},
		{"missing image", []Spec{{ID: "x", Entrypoint: []string{"x"}}}, ErrInvalidSpec},
		{"missing entrypoint", []Spec{{ID: "x", Image: "x"}}, ErrInvalidSpec},
		{"template without source file", []Spec{{ID: "c", Image: "gcc", Entrypoint: []string{"sh", "-c"}, Template: "'{{code}}'"}}, ErrInvalidSpec},
		{"source file without template", []Spec{{ID: "c", Image: "gcc", Entrypoint: []string{"sh", "-c"}, SourceFile: "a.c"}}, ErrInvalidSpec},
		{"no placeholder", []Spec{{ID: "c", Image: "gcc", Entrypoint: []string{"sh", "-c"}, SourceFile: "a.c", Template: "cc a.c"}}, ErrInvalidTemplate},
		{"two placeholders", []Spec{{ID: "c", Image: "gcc", Entrypoint: []string{"sh", "-c"}, SourceFile: "a.c", Template: "'{{code}}' '{{code}}' a.c"}}, ErrInvalidTemplate},
		{"source file not referenced", []Spec{{ID: "c", Image: "gcc", Entrypoint: []string{"sh", "-c"}, SourceFile: "a.c", Template: "printf '%b' '{{code}}' > b.c"}}, ErrInvalidTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.specs)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("- id: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse language table")
}

func TestNewFromConfig(t *testing.T) {
	t.Run("Overrides", func(t *testing.T) {
		cfg := &config.Config{
			Languages: map[string]config.Language{
				"py": {
					Image:       "python:3.12-slim",
					Environment: map[string]string{"PYTHONHASHSEED": "0"},
				},
			},
		}

		reg, err := NewFromConfig(cfg)
		require.NoError(t, err)

		spec, ok := reg.Lookup("py")
		require.True(t, ok)
		assert.Equal(t, "python:3.12-slim", spec.Image)
		assert.Equal(t, "0", spec.Environment["PYTHONHASHSEED"])
		assert.Equal(t, "1", spec.Environment["PYTHONUNBUFFERED"], "built-in environment is kept")
	})

	t.Run("UnknownOverride", func(t *testing.T) {
		cfg := &config.Config{
			Languages: map[string]config.Language{"cobol": {Image: "cobol:latest"}},
		}

		_, err := NewFromConfig(cfg)
		require.ErrorIs(t, err, ErrUnknownOverride)
	})

	t.Run("NoOverrides", func(t *testing.T) {
		reg, err := NewFromConfig(&config.Config{})
		require.NoError(t, err)
		assert.Len(t, reg.List(), 5)
	})
}

func TestListAndImages(t *testing.T) {
	reg, err := NewRegistry([]Spec{
		{ID: "a", Name: "A", Image: "shared:1", Entrypoint: []string{"a"}},
		{ID: "b", Name: "B", Image: "shared:1", Entrypoint: []string{"b"}},
		{ID: "c", Name: "C", Image: "other:2", Entrypoint: []string{"c"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []Info{
		{ID: "a", Name: "A", Image: "shared:1"},
		{ID: "b", Name: "B", Image: "shared:1"},
		{ID: "c", Name: "C", Image: "other:2"},
	}, reg.List())
	assert.Equal(t, []string{"shared:1", "other:2"}, reg.Images())
}
