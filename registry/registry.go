package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const keySeparator = "+"

// Key is the composite identity of a strategy, such as runtime+task or
// platform+action.
type Key struct {
	Scope string
	Name  string
}

// NewKey builds a key from its two parts.
func NewKey(scope, name string) Key {
	return Key{Scope: strings.TrimSpace(scope), Name: strings.TrimSpace(name)}
}

// ParseKey parses "scope+name". A key without separator has an empty name.
func ParseKey(raw string) Key {
	scope, name, _ := strings.Cut(raw, keySeparator)
	return NewKey(scope, name)
}

func (k Key) String() string {
	if k.Name == "" {
		return k.Scope
	}
	return k.Scope + keySeparator + k.Name
}

// IsZero reports whether the key carries no scope.
func (k Key) IsZero() bool {
	return k.Scope == ""
}

// Keyed is implemented by strategies that declare their own key.
type Keyed interface {
	Key() Key
}

// Entry pairs a strategy with its key.
type Entry[V any] struct {
	Key   Key
	Value V
}

// Registry resolves strategies by composite key. It is immutable after
// construction and safe for concurrent reads.
type Registry[V any] struct {
	name    string
	entries map[Key]V
	order   []Key
}

// New builds a registry. It fails when an entry has no key or when two
// entries share a key; nothing is overwritten.
func New[V any](name string, entries ...Entry[V]) (*Registry[V], error) {
	r := &Registry[V]{
		name:    name,
		entries: make(map[Key]V, len(entries)),
	}

	var errs []error
	for i, entry := range entries {
		if entry.Key.IsZero() {
			errs = append(errs, registryError(ErrKeyMissing,
				fmt.Sprintf("%s registry: entry %d (%T) has no key", name, i, entry.Value),
				map[string]any{"registry": name, "index": i},
			))
			continue
		}
		if _, exists := r.entries[entry.Key]; exists {
			errs = append(errs, registryError(ErrDuplicateKey,
				fmt.Sprintf("%s registry: duplicate key %s", name, entry.Key),
				map[string]any{"registry": name, "key": entry.Key.String()},
			))
			continue
		}
		r.entries[entry.Key] = entry.Value
		r.order = append(r.order, entry.Key)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.Slice(r.order, func(i, j int) bool {
		return r.order[i].String() < r.order[j].String()
	})
	return r, nil
}

// FromKeyed builds a registry from strategies that declare their own key.
func FromKeyed[V Keyed](name string, values ...V) (*Registry[V], error) {
	entries := make([]Entry[V], 0, len(values))
	for _, v := range values {
		entries = append(entries, Entry[V]{Key: v.Key(), Value: v})
	}
	return New(name, entries...)
}

// MustNew is New for package-level wiring; it panics on configuration errors.
func MustNew[V any](name string, entries ...Entry[V]) *Registry[V] {
	r, err := New(name, entries...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry[V]) Name() string {
	return r.name
}

// Resolve returns the strategy registered under key or a not found error.
func (r *Registry[V]) Resolve(key Key) (V, error) {
	if v, ok := r.entries[key]; ok {
		return v, nil
	}
	var zero V
	return zero, NotFound(r.name, key)
}

// ResolveParts is Resolve for NewKey(scope, name).
func (r *Registry[V]) ResolveParts(scope, name string) (V, error) {
	return r.Resolve(NewKey(scope, name))
}

// ResolveAll returns every strategy under scope, keyed by name.
func (r *Registry[V]) ResolveAll(scope string) map[string]V {
	out := make(map[string]V)
	for key, v := range r.entries {
		if key.Scope == scope {
			out[key.Name] = v
		}
	}
	return out
}

// Has reports whether key is registered.
func (r *Registry[V]) Has(key Key) bool {
	_, ok := r.entries[key]
	return ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry[V]) Keys() []Key {
	return append([]Key(nil), r.order...)
}

func (r *Registry[V]) Len() int {
	return len(r.entries)
}
