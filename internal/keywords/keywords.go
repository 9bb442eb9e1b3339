// Package keywords classifies stream labels against a group's exception
// keyword rules. Keyword decisions outrank the group's duplicate-handling
// mode, so classification happens before any grouping decision.
package keywords

import (
	"lineup/internal/policy"
	"lineup/internal/textnorm"
)

// Classification is the outcome of matching a label against keyword rules.
type Classification struct {
	// Matched reports whether any rule variant occurred in the label.
	Matched bool
	// Canonical is the matched rule's canonical keyword. Labels matching
	// different variants of one rule share the same canonical keyword.
	Canonical string
	// Behavior is the matched rule's behavior.
	Behavior policy.Behavior
}

// Classify matches a label against rules in declaration order and returns
// the first rule with any variant occurring as a case-insensitive substring.
// Declaration order is the tie-break: when a label contains variants of two
// rules, the earlier rule wins.
func Classify(text string, rules []policy.KeywordRule) Classification {
	for _, rule := range rules {
		for _, variant := range rule.Variants {
			if textnorm.ContainsFold(text, variant) {
				return Classification{
					Matched:   true,
					Canonical: rule.Canonical(),
					Behavior:  rule.Behavior,
				}
			}
		}
	}
	return Classification{}
}

// ClassifyForGroup classifies a label under the rules governing a group,
// which for a child group are its parent's rules.
func ClassifyForGroup(text string, groupID int64, groups *policy.GroupSet) Classification {
	return Classify(text, groups.RulesFor(groupID))
}
