// Package policy defines the closed vocabulary for duplicate handling,
// exception-keyword behavior, and reconciliation fixes. Configuration strings
// are parsed into these types once at load time; everything downstream
// switches on the typed values.
package policy

import "strings"

// Mode is a group's duplicate-handling mode.
type Mode string

const (
	ModeIgnore      Mode = "ignore"
	ModeConsolidate Mode = "consolidate"
	ModeSeparate    Mode = "separate"
)

// ParseMode converts a configuration string into a known Mode.
func ParseMode(value string) (Mode, bool) {
	normalized := Mode(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case ModeIgnore, ModeConsolidate, ModeSeparate:
		return normalized, true
	}
	return "", false
}

// Behavior is the special-handling action attached to an exception keyword.
type Behavior string

const (
	BehaviorConsolidate Behavior = "consolidate"
	BehaviorSeparate    Behavior = "separate"
	BehaviorIgnore      Behavior = "ignore"
)

// ParseBehavior converts a configuration string into a known Behavior.
func ParseBehavior(value string) (Behavior, bool) {
	normalized := Behavior(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case BehaviorConsolidate, BehaviorSeparate, BehaviorIgnore:
		return normalized, true
	}
	return "", false
}

// FixAction controls what a reconciliation pass does with a finding category.
type FixAction string

const (
	FixActionReport FixAction = "report"
	FixActionFix    FixAction = "fix"
)

// ParseFixAction converts a configuration string into a known FixAction.
func ParseFixAction(value string) (FixAction, bool) {
	normalized := FixAction(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case FixActionReport, FixActionFix:
		return normalized, true
	}
	return "", false
}

// DivisionPreference breaks same-instant ties between divisions of a sport
// (for example men's and women's college games at the same tip-off time).
// Empty means no preference: such a tie stays ambiguous.
type DivisionPreference string

const (
	DivisionNone   DivisionPreference = ""
	DivisionMens   DivisionPreference = "mens"
	DivisionWomens DivisionPreference = "womens"
)

// ParseDivisionPreference converts a configuration string into a known preference.
func ParseDivisionPreference(value string) (DivisionPreference, bool) {
	normalized := DivisionPreference(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case DivisionNone, DivisionMens, DivisionWomens:
		return normalized, true
	}
	return "", false
}

// KeywordRule maps a set of keyword variants to a behavior. The first variant
// is canonical: it becomes the grouping key when the behavior consolidates.
type KeywordRule struct {
	Variants []string
	Behavior Behavior
}

// Canonical returns the rule's canonical keyword, or "" for an empty rule.
func (r KeywordRule) Canonical() string {
	if len(r.Variants) == 0 {
		return ""
	}
	return r.Variants[0]
}

// Group is a validated stream group.
type Group struct {
	ID       int64
	Name     string
	Mode     Mode
	ParentID int64
	Keywords []KeywordRule
}

// IsChild reports whether the group inherits from a parent group.
func (g Group) IsChild() bool { return g.ParentID != 0 }

// GroupSet indexes validated groups by identifier.
type GroupSet struct {
	groups map[int64]Group
}

// NewGroupSet builds a GroupSet from validated groups.
func NewGroupSet(groups []Group) *GroupSet {
	set := &GroupSet{groups: make(map[int64]Group, len(groups))}
	for _, group := range groups {
		set.groups[group.ID] = group
	}
	return set
}

// Get returns the group with the given identifier.
func (s *GroupSet) Get(id int64) (Group, bool) {
	group, ok := s.groups[id]
	return group, ok
}

// All returns the groups in unspecified order.
func (s *GroupSet) All() []Group {
	out := make([]Group, 0, len(s.groups))
	for _, group := range s.groups {
		out = append(out, group)
	}
	return out
}

// RulesFor returns the keyword rules governing a group. A child group always
// uses its parent's rules and never owns any itself.
func (s *GroupSet) RulesFor(id int64) []KeywordRule {
	group, ok := s.groups[id]
	if !ok {
		return nil
	}
	if group.IsChild() {
		parent, ok := s.groups[group.ParentID]
		if !ok {
			return nil
		}
		return parent.Keywords
	}
	return group.Keywords
}

// Parent resolves a child group's parent; top-level groups return themselves.
func (s *GroupSet) Parent(id int64) (Group, bool) {
	group, ok := s.groups[id]
	if !ok {
		return Group{}, false
	}
	if !group.IsChild() {
		return group, true
	}
	return s.Get(group.ParentID)
}
