// Package permission maps tools to access tiers and checks them against a
// session's granted tier. Tiers form a total order; a tool may also be
// explicitly consented to, which bypasses the tier comparison.
package permission

import "fmt"

// Tier is an ordered access level required to invoke a tool.
type Tier int

const (
	// TierReadOnly covers tools that only inspect project state.
	TierReadOnly Tier = iota

	// TierWrite covers tools that modify files inside the project root.
	TierWrite

	// TierExecute covers tools that run external commands.
	TierExecute

	// TierPrivileged covers tools that touch state outside the project.
	TierPrivileged
)

var tierNames = map[Tier]string{
	TierReadOnly:   "read_only",
	TierWrite:      "write",
	TierExecute:    "execute",
	TierPrivileged: "privileged",
}

// String returns the tier's configuration name.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier converts a configuration name to a Tier.
func ParseTier(name string) (Tier, error) {
	for tier, n := range tierNames {
		if n == name {
			return tier, nil
		}
	}
	return TierReadOnly, fmt.Errorf("unknown tier: %q", name)
}

// AllTiers lists tiers in ascending order.
func AllTiers() []Tier {
	return []Tier{TierReadOnly, TierWrite, TierExecute, TierPrivileged}
}
