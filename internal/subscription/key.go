// Package subscription tracks which (module, category) pairs a client wants
// to receive.
//
// Two structures live here. Registry is the client's declarative view: the
// set of keys currently enabled. Filter is what a dispatch source evaluates
// on its drain path: an ordered rule list where the most recently applied
// matching rule decides. A module with no matching rule is denied.
package subscription

import "fmt"

// Key identifies a subscription. An empty Category covers every category of
// Module.
type Key struct {
	Module   string `json:"module" yaml:"module"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// IsWildcard reports whether k matches all categories of its module.
func (k Key) IsWildcard() bool {
	return k.Category == ""
}

// Matches reports whether a message with the given module and category falls
// under k.
func (k Key) Matches(module, category string) bool {
	if k.Module != module {
		return false
	}
	return k.IsWildcard() || k.Category == category
}

func (k Key) String() string {
	if k.IsWildcard() {
		return fmt.Sprintf("%s/*", k.Module)
	}
	return fmt.Sprintf("%s/%s", k.Module, k.Category)
}

func less(a, b Key) bool {
	if a.Module != b.Module {
		return a.Module < b.Module
	}
	return a.Category < b.Category
}
