package records

import (
	"fmt"
	"strings"
)

// Group names one persisted building-record group.
type Group string

const (
	Architecture  Group = "architecture"
	InternalLoads Group = "internal_loads"
	Comfort       Group = "comfort"
	Geometry      Group = "geometry"
)

// Groups lists every record group in commit order.
var Groups = []Group{Architecture, InternalLoads, Comfort, Geometry}

// ParseGroup resolves a group name. Hyphens and case are ignored so
// "internal-loads" and "Internal_Loads" both resolve.
func ParseGroup(s string) (Group, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, g := range Groups {
		if string(g) == norm {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown record group %q", s)
}

// Target addresses one attribute of one record group, written
// "group.attribute" in configuration (e.g. "architecture.Es").
type Target struct {
	Group     Group
	Attribute string
}

// ParseTarget parses "group.attribute".
func ParseTarget(s string) (Target, error) {
	group, attr, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || attr == "" {
		return Target{}, fmt.Errorf("invalid target %q: expected group.attribute", s)
	}
	g, err := ParseGroup(group)
	if err != nil {
		return Target{}, err
	}
	if attr == KeyColumn {
		return Target{}, fmt.Errorf("invalid target %q: %s is the building key", s, KeyColumn)
	}
	return Target{Group: g, Attribute: attr}, nil
}

func (t Target) String() string {
	return string(t.Group) + "." + t.Attribute
}
