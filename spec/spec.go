package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-runcore/model"
)

// Category scopes spec kinds to the entity they configure.
type Category string

const (
	CategoryProject  Category = "project"
	CategoryFunction Category = "function"
	CategoryTask     Category = "task"
	CategoryRun      Category = "run"
	CategoryArtifact Category = "artifact"
	CategoryDataItem Category = "dataitem"
	CategoryWorkflow Category = "workflow"
	CategoryNone     Category = "none"
)

// Spec is a typed configuration object that keeps the keys its type does not
// declare.
//
// Declared fields are discovered through their yaml encoding, so spec structs
// must not tag fields with omitempty.
type Spec interface {
	ExtraFields() map[string]any
	SetExtraFields(map[string]any)
}

// Open is embedded by spec structs to carry undeclared keys.
type Open struct {
	Extra map[string]any `yaml:"-" json:"-"`
}

func (o *Open) ExtraFields() map[string]any {
	return o.Extra
}

func (o *Open) SetExtraFields(extra map[string]any) {
	o.Extra = extra
}

// Decode materializes raw into target. Keys target does not declare end up in
// its extra fields.
func Decode(raw map[string]any, target Spec) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return specError(ErrDecodeFailed, "encode raw spec", err, map[string]any{"type": fmt.Sprintf("%T", target)})
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return specError(ErrDecodeFailed, fmt.Sprintf("decode %T: %v", target, err), err, map[string]any{"type": fmt.Sprintf("%T", target)})
	}

	declared, err := typedFields(target)
	if err != nil {
		return err
	}
	var extra map[string]any
	for k, v := range raw {
		if _, ok := declared[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	target.SetExtraFields(extra)
	return nil
}

// ToMap flattens s back into a map. Typed fields win over extra keys with the
// same name.
func ToMap(s Spec) (map[string]any, error) {
	typed, err := typedFields(s)
	if err != nil {
		return nil, err
	}
	out := model.CloneMap(s.ExtraFields())
	if out == nil {
		out = make(map[string]any, len(typed))
	}
	for k, v := range typed {
		out[k] = v
	}
	return out, nil
}

// MustMap is ToMap for specs known to encode.
func MustMap(s Spec) map[string]any {
	m, err := ToMap(s)
	if err != nil {
		panic(err)
	}
	return m
}

func typedFields(s Spec) (map[string]any, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, specError(ErrDecodeFailed, fmt.Sprintf("encode %T: %v", s, err), err, nil)
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, specError(ErrDecodeFailed, fmt.Sprintf("decode %T fields: %v", s, err), err, nil)
	}
	return out, nil
}
