package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-runcore/registry"
)

// Factory returns a fresh, empty spec value.
type Factory func() Spec

// Entry registers a spec type. Runtime is empty for specs shared by every
// runtime.
type Entry struct {
	Kind     string
	Runtime  string
	Category Category
	New      Factory
}

// Key returns the registry key: the category scopes "kind" or "runtime_kind".
func (e Entry) Key() registry.Key {
	return registry.NewKey(string(e.Category), kindKey(e.Runtime, e.Kind))
}

func kindKey(runtime, kind string) string {
	if runtime == "" {
		return kind
	}
	return runtime + "_" + kind
}

// Registry resolves spec types by kind, runtime and category.
type Registry struct {
	specs *registry.Registry[Factory]
}

// NewRegistry builds a registry; missing or duplicate keys fail construction.
func NewRegistry(entries ...Entry) (*Registry, error) {
	items := make([]registry.Entry[Factory], 0, len(entries))
	for _, e := range entries {
		if e.Kind == "" || e.New == nil {
			items = append(items, registry.Entry[Factory]{Value: e.New})
			continue
		}
		items = append(items, registry.Entry[Factory]{Key: e.Key(), Value: e.New})
	}
	specs, err := registry.New("spec", items...)
	if err != nil {
		return nil, err
	}
	return &Registry{specs: specs}, nil
}

// Resolve returns the factory for kind, preferring the runtime-scoped variant.
func (r *Registry) Resolve(kind, runtime string, category Category) (Factory, error) {
	if runtime != "" {
		if f, err := r.specs.ResolveParts(string(category), kindKey(runtime, kind)); err == nil {
			return f, nil
		}
	}
	f, err := r.specs.ResolveParts(string(category), kind)
	if err != nil {
		return nil, specError(ErrKindNotFound,
			fmt.Sprintf("no %s spec registered for kind %q (runtime %q)", category, kind, runtime),
			err,
			map[string]any{"kind": kind, "runtime": runtime, "category": string(category)},
		)
	}
	return f, nil
}

// Create materializes raw into the spec type registered for kind.
func (r *Registry) Create(kind, runtime string, category Category, raw map[string]any) (Spec, error) {
	f, err := r.Resolve(kind, runtime, category)
	if err != nil {
		return nil, err
	}
	s := f()
	if err := Decode(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateFromYAML is Create for a yaml document.
func (r *Registry) CreateFromYAML(kind, runtime string, category Category, data []byte) (Spec, error) {
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, specError(ErrDecodeFailed, fmt.Sprintf("parse %s spec %q: %v", category, kind, err), err,
			map[string]any{"kind": kind, "runtime": runtime, "category": string(category)})
	}
	return r.Create(kind, runtime, category, raw)
}

// Kinds lists the registered keys.
func (r *Registry) Kinds() []registry.Key {
	return r.specs.Keys()
}
