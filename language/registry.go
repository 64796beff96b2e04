package language

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/codecrate/config"
)

//go:embed languages.yaml
var builtinTable []byte

// Errors returned while building a registry.
var (
	ErrDuplicateID     = errors.New("duplicate language id")
	ErrInvalidTemplate = errors.New("invalid invocation template")
	ErrInvalidSpec     = errors.New("invalid language spec")
	ErrUnknownOverride = errors.New("override for unknown language")
)

// Spec is one entry of the language table.
//
// Template is set only for languages that need the source written to
// SourceFile and compiled before it runs. It contains Placeholder exactly once.
type Spec struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Image       string            `yaml:"image"`
	Entrypoint  []string          `yaml:"entrypoint"`
	SourceFile  string            `yaml:"source_file"`
	Template    string            `yaml:"template"`
	Environment map[string]string `yaml:"environment"`
}

// Compiled reports whether the language uses the write-compile-run recipe.
func (s Spec) Compiled() bool {
	return s.Template != ""
}

func (s Spec) clone() Spec {
	s.Entrypoint = slices.Clone(s.Entrypoint)
	s.Environment = maps.Clone(s.Environment)
	return s
}

func (s Spec) validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidSpec)
	}
	if s.Image == "" {
		return fmt.Errorf("%w: %s has no image", ErrInvalidSpec, s.ID)
	}
	if len(s.Entrypoint) == 0 {
		return fmt.Errorf("%w: %s has no entrypoint", ErrInvalidSpec, s.ID)
	}
	if (s.Template == "") != (s.SourceFile == "") {
		return fmt.Errorf("%w: %s must set both template and source_file or neither", ErrInvalidSpec, s.ID)
	}
	if s.Template == "" {
		return nil
	}
	if n := strings.Count(s.Template, Placeholder); n != 1 {
		return fmt.Errorf("%w: %s has %d substitution points, want 1", ErrInvalidTemplate, s.ID, n)
	}
	if !strings.Contains(s.Template, s.SourceFile) {
		return fmt.Errorf("%w: %s template never references %s", ErrInvalidTemplate, s.ID, s.SourceFile)
	}
	return nil
}

// Info is the public projection of a Spec used for discovery.
type Info struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Registry is an immutable, ordered language table. It is safe for
// concurrent use.
type Registry struct {
	order []string
	specs map[string]Spec
}

// NewRegistry validates specs and freezes them into a Registry.
func NewRegistry(specs []Spec) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(specs)),
		specs: make(map[string]Spec, len(specs)),
	}

	for _, s := range specs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.specs[s.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, s.ID)
		}
		r.order = append(r.order, s.ID)
		r.specs[s.ID] = s.clone()
	}

	return r, nil
}

// Parse decodes a YAML language table.
func Parse(data []byte) ([]Spec, error) {
	var specs []Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse language table: %w", err)
	}
	return specs, nil
}

// Builtin returns the embedded language table.
func Builtin() ([]Spec, error) {
	return Parse(builtinTable)
}

// NewFromConfig builds the registry from the embedded table with the image
// and environment overrides from cfg applied.
func NewFromConfig(cfg *config.Config) (*Registry, error) {
	specs, err := Builtin()
	if err != nil {
		return nil, err
	}

	specs, err = applyOverrides(specs, cfg.Languages)
	if err != nil {
		return nil, err
	}

	return NewRegistry(specs)
}

func applyOverrides(specs []Spec, overrides map[string]config.Language) ([]Spec, error) {
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.ID] = i
	}

	for id, o := range overrides {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOverride, id)
		}
		if o.Image != "" {
			specs[i].Image = o.Image
		}
		if len(o.Environment) > 0 {
			env := maps.Clone(specs[i].Environment)
			if env == nil {
				env = make(map[string]string, len(o.Environment))
			}
			maps.Copy(env, o.Environment)
			specs[i].Environment = env
		}
	}

	return specs, nil
}

// Lookup returns a copy of the spec registered under id.
func (r *Registry) Lookup(id string) (Spec, bool) {
	s, ok := r.specs[id]
	if !ok {
		return Spec{}, false
	}
	return s.clone(), true
}

// IDs returns the registered identifiers in table order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.order)
}

// List returns the discovery view of the table in table order.
func (r *Registry) List() []Info {
	infos := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		s := r.specs[id]
		infos = append(infos, Info{ID: s.ID, Name: s.Name, Image: s.Image})
	}
	return infos
}

// Images returns the distinct images referenced by the table.
func (r *Registry) Images() []string {
	seen := make(map[string]bool, len(r.order))
	images := make([]string, 0, len(r.order))
	for _, id := range r.order {
		img := r.specs[id].Image
		if !seen[img] {
			seen[img] = true
			images = append(images, img)
		}
	}
	return images
}
