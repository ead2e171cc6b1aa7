package subscription

import "sort"

// Registry is the set of enabled keys. Absence means disabled.
//
// Registry does no locking of its own; the owning client guards it with the
// same mutex that guards sink registration.
type Registry struct {
	enabled map[Key]struct{}
}

func NewRegistry() *Registry {
	return &Registry{enabled: make(map[Key]struct{})}
}

// Set enables or disables key.
func (r *Registry) Set(key Key, enable bool) {
	if enable {
		r.enabled[key] = struct{}{}
		return
	}
	delete(r.enabled, key)
}

func (r *Registry) Enabled(key Key) bool {
	_, ok := r.enabled[key]
	return ok
}

func (r *Registry) Len() int {
	return len(r.enabled)
}

// Keys returns the enabled keys sorted by module, then category.
func (r *Registry) Keys() []Key {
	out := make([]Key, 0, len(r.enabled))
	for k := range r.enabled {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
