// Package registry assigns stable numeric identifiers to functions by name.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Policy selects how ids are handed out when a function name is revisited.
type Policy int

const (
	// AssignOnce gives each name one id on first visit and returns it unchanged afterwards.
	AssignOnce Policy = iota

	// ReassignOnRevisit reproduces the historical branch-pass behavior: the first
	// visit takes the current counter value, every revisit pre-increments the
	// counter and overwrites the stored id.
	ReassignOnRevisit

	// ZeroOnFirstVisit reproduces the historical call-pass behavior: the first
	// visit never receives an assignment and reads back the zero value (which
	// is then stored), revisits behave like ReassignOnRevisit.
	ZeroOnFirstVisit
)

var policyNames = map[Policy]string{
	AssignOnce:        "assign-once",
	ReassignOnRevisit: "reassign-on-revisit",
	ZeroOnFirstVisit:  "zero-on-first-visit",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy converts a policy name back into a Policy.
func ParsePolicy(name string) (Policy, error) {
	for p, n := range policyNames {
		if n == name {
			return p, nil
		}
	}
	return AssignOnce, fmt.Errorf("unknown id policy %q", name)
}

// Registry maps function names to ids. It is append-only for the lifetime of
// a run; Reset starts a new compilation-unit scope.
//
// Calls are serialized internally, but the ids handed out depend on the order
// in which names are visited, so callers that want reproducible ids must
// visit functions in a deterministic order.
type Registry struct {
	mu     sync.Mutex
	ids    map[string]int64
	order  []string
	next   int64
	policy Policy
}

// New creates an empty registry using the given policy.
func New(policy Policy) *Registry {
	return &Registry{
		ids:    make(map[string]int64),
		policy: policy,
	}
}

// Policy returns the policy the registry was created with.
func (r *Registry) Policy() Policy {
	return r.policy
}

// AssignOrGet returns the id for name, assigning one according to the
// registry policy.
func (r *Registry) AssignOrGet(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, seen := r.ids[name]
	switch r.policy {
	case ReassignOnRevisit:
		if seen {
			r.next++
			id = r.next
		} else {
			id = r.next
			r.next++
		}
	case ZeroOnFirstVisit:
		if seen {
			r.next++
			id = r.next
		} else {
			id = 0
		}
	default:
		if seen {
			return id
		}
		id = r.next
		r.next++
	}

	if !seen {
		r.order = append(r.order, name)
	}
	r.ids[name] = id
	return id
}

// Lookup returns the id currently stored for name without assigning one.
func (r *Registry) Lookup(name string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ids[name]
	return id, ok
}

// Len returns the number of distinct names seen.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// Next returns the current counter value.
func (r *Registry) Next() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Names returns the registered names in first-visit order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Reset forgets every assignment and rewinds the counter.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = make(map[string]int64)
	r.order = nil
	r.next = 0
}

// Snapshot is a serializable copy of a registry's state.
type Snapshot struct {
	Policy    string           `yaml:"policy"`
	Next      int64            `yaml:"next"`
	Functions map[string]int64 `yaml:"functions"`
	Order     []string         `yaml:"order,omitempty"`
}

// Snapshot copies the registry state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Policy:    r.policy.String(),
		Next:      r.next,
		Functions: maps.Clone(r.ids),
		Order:     slices.Clone(r.order),
	}
}

// Restore replaces the registry state with s. The snapshot's policy must match.
func (r *Registry) Restore(s Snapshot) error {
	if s.Policy != "" {
		p, err := ParsePolicy(s.Policy)
		if err != nil {
			return err
		}
		if p != r.policy {
			return fmt.Errorf("snapshot policy %q does not match registry policy %q", p, r.policy)
		}
	}

	ids := make(map[string]int64, len(s.Functions))
	maxID := int64(-1)
	for name, id := range s.Functions {
		if id < 0 {
			return fmt.Errorf("function %q has negative id %d", name, id)
		}
		ids[name] = id
		maxID = max(maxID, id)
	}
	if r.policy == AssignOnce && s.Next <= maxID {
		return fmt.Errorf("snapshot counter %d does not exceed highest id %d", s.Next, maxID)
	}

	// Names missing from the recorded order are appended in sorted order.
	order := make([]string, 0, len(ids))
	listed := make(map[string]bool, len(s.Order))
	for _, name := range s.Order {
		if _, ok := ids[name]; ok && !listed[name] {
			order = append(order, name)
			listed[name] = true
		}
	}
	for _, name := range slices.Sorted(maps.Keys(ids)) {
		if !listed[name] {
			order = append(order, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = ids
	r.order = order
	r.next = s.Next
	return nil
}
