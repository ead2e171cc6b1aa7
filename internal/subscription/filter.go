package subscription

import "sync"

// Rule is one applied enable/disable call.
type Rule struct {
	Key     Key
	Enabled bool
}

// Filter resolves overlapping subscriptions by recency: the last applied rule
// whose key matches a message wins. Safe for concurrent use.
type Filter struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewFilter() *Filter {
	return &Filter{}
}

// Apply records an enable/disable call. A previous rule with the identical key
// is dropped so the rule list stays bounded by the number of distinct keys.
func (f *Filter) Apply(key Key, enable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, r := range f.rules {
		if r.Key == key {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			break
		}
	}
	f.rules = append(f.rules, Rule{Key: key, Enabled: enable})
}

// Allows reports whether a message with module and category should surface.
func (f *Filter) Allows(module, category string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for i := len(f.rules) - 1; i >= 0; i-- {
		if f.rules[i].Key.Matches(module, category) {
			return f.rules[i].Enabled
		}
	}
	return false
}

// Rules returns the applied rules, oldest first.
func (f *Filter) Rules() []Rule {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Rule, len(f.rules))
	copy(out, f.rules)
	return out
}
