package condition

import (
	"fmt"
	"strings"
)

// GroupMode selects how customer group membership is matched.
type GroupMode string

const (
	AnyGroup GroupMode = "any"
	AllGroup GroupMode = "all"
)

// GroupCondition restricts a rule to customers in some or all of the listed groups.
type GroupCondition struct {
	Mode   GroupMode `json:"mode,omitempty"`
	Groups []string  `json:"groups,omitempty"`
}

// MatchGroups evaluates the condition against the customer's groups.
func MatchGroups(cond GroupCondition, customerGroups []string) (bool, error) {
	if len(cond.Groups) == 0 {
		return true, nil
	}
	member := make(map[string]struct{}, len(customerGroups))
	for _, g := range customerGroups {
		member[strings.TrimSpace(g)] = struct{}{}
	}
	switch cond.Mode {
	case AnyGroup, "":
		for _, g := range cond.Groups {
			if _, ok := member[g]; ok {
				return true, nil
			}
		}
		return false, nil
	case AllGroup:
		for _, g := range cond.Groups {
			if _, ok := member[g]; !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownGroupMode, cond.Mode)
	}
}
