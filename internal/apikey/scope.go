package apikey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Wildcard matches any resource or any action.
const Wildcard = "*"

// Scope grants a set of actions on a resource. Conditions are carried along
// for callers but never evaluated here.
type Scope struct {
	Resource   string         `json:"resource"`
	Actions    []string       `json:"actions"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// Allows reports whether this single entry grants action on resource.
func (s Scope) Allows(resource, action string) bool {
	if s.Resource != resource && s.Resource != Wildcard {
		return false
	}
	return slices.Contains(s.Actions, action) || slices.Contains(s.Actions, Wildcard)
}

// String renders the scope as resource:action1,action2.
func (s Scope) String() string {
	return s.Resource + ":" + strings.Join(s.Actions, ",")
}

// Authorize reports whether any entry in scopes grants action on resource.
// Grants are allow-only: there are no deny entries and no precedence, the
// first match is sufficient.
func Authorize(scopes []Scope, resource, action string) bool {
	for _, s := range scopes {
		if s.Allows(resource, action) {
			return true
		}
	}
	return false
}

type specKind int

const (
	specCanonical specKind = iota
	specLegacy
)

// ScopeSpec is the boundary representation of a scope grant. Stored and
// submitted grants come in two shapes:
//
//	[{"resource":"users","actions":["read"]}]   canonical
//	{"users":["read"]}                          legacy
//
// Decode into a ScopeSpec and call Normalize once; matching only ever sees
// the canonical []Scope form.
type ScopeSpec struct {
	kind      specKind
	canonical []Scope
	legacy    map[string][]string
}

// CanonicalSpec wraps already-canonical scopes.
func CanonicalSpec(scopes ...Scope) ScopeSpec {
	return ScopeSpec{kind: specCanonical, canonical: scopes}
}

// LegacySpec wraps the legacy resource-to-actions map form.
func LegacySpec(m map[string][]string) ScopeSpec {
	return ScopeSpec{kind: specLegacy, legacy: m}
}

// IsLegacy reports whether the grant was given in the legacy map form.
func (s ScopeSpec) IsLegacy() bool { return s.kind == specLegacy }

// Normalize converts the grant into canonical scopes. Legacy entries are
// emitted in resource order so the result is deterministic.
func (s ScopeSpec) Normalize() []Scope {
	if s.kind == specCanonical {
		out := make([]Scope, len(s.canonical))
		copy(out, s.canonical)
		return out
	}
	resources := make([]string, 0, len(s.legacy))
	for r := range s.legacy {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	out := make([]Scope, 0, len(resources))
	for _, r := range resources {
		out = append(out, Scope{Resource: r, Actions: slices.Clone(s.legacy[r])})
	}
	return out
}

// UnmarshalJSON accepts either the canonical array or the legacy object.
func (s *ScopeSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*s = ScopeSpec{}
		return nil
	case trimmed[0] == '[':
		var list []Scope
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("decode scopes: %w", err)
		}
		*s = CanonicalSpec(list...)
		return nil
	case trimmed[0] == '{':
		var m map[string][]string
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return fmt.Errorf("decode legacy scopes: %w", err)
		}
		*s = LegacySpec(m)
		return nil
	default:
		return fmt.Errorf("decode scopes: expected array or object")
	}
}

// MarshalJSON always writes the canonical form.
func (s ScopeSpec) MarshalJSON() ([]byte, error) {
	scopes := s.Normalize()
	if scopes == nil {
		scopes = []Scope{}
	}
	return json.Marshal(scopes)
}

// ParseScope parses the CLI shorthand resource:action[,action...], for
// example "users:read,write" or "*:*".
func ParseScope(s string) (Scope, error) {
	resource, actions, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || resource == "" || actions == "" {
		return Scope{}, fmt.Errorf("invalid scope %q: want resource:action[,action]", s)
	}
	var list []string
	for _, a := range strings.Split(actions, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			return Scope{}, fmt.Errorf("invalid scope %q: empty action", s)
		}
		list = append(list, a)
	}
	return Scope{Resource: resource, Actions: list}, nil
}

// FormatScopes joins scopes for single-line display.
func FormatScopes(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}
