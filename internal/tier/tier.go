// Package tier defines the ordered membership tiers that gate vault content.
//
// Tiers form a strict total order:
//
//	public < member < member-plus < member-elite < private
//
// Comparison is always index-based, never lexicographic. The package exposes
// two normalization paths with deliberately different failure behaviour:
//
//   - Normalize is the display path. Unknown strings collapse to Public so a
//     typo in content frontmatter renders a lock icon instead of crashing a page.
//   - Parse is the authorization path. Unknown strings are an error and the
//     caller must deny. Authorization never silently downgrades bad input to
//     "public and therefore allowed".
package tier

import "fmt"

// Tier is an ordered membership level. The zero value is Public.
type Tier int

const (
	// Public content is visible without any session.
	Public Tier = iota
	// Member is the base paid membership.
	Member
	// MemberPlus adds premium briefs and downloads.
	MemberPlus
	// MemberElite adds enterprise-grade vault material.
	MemberElite
	// Private is in-house only. It sits at the top of the order but is never
	// granted through self-service registration; only admin-issued keys carry it.
	Private
)

var names = [...]string{"public", "member", "member-plus", "member-elite", "private"}

// aliases maps legacy frontmatter tier names onto canonical tiers.
var aliases = map[string]Tier{
	"free":       Public,
	"basic":      Member,
	"premium":    MemberPlus,
	"enterprise": MemberElite,
	"restricted": Private,
	// "all" marks content visible to everyone; it is a content marker, not a user tier.
	"all": Public,
}

// String returns the canonical wire name of the tier.
func (t Tier) String() string {
	if t < Public || t > Private {
		return "public"
	}
	return names[t]
}

// Valid reports whether t is one of the five defined tiers.
func (t Tier) Valid() bool {
	return t >= Public && t <= Private
}

// AtLeast reports whether a holder of tier t satisfies the required tier.
func (t Tier) AtLeast(required Tier) bool {
	return t >= required
}

// Parse converts a wire name into a Tier. Unknown names are an error so that
// authorization decisions fail closed rather than defaulting to anything.
func Parse(s string) (Tier, error) {
	for i, n := range names {
		if s == n {
			return Tier(i), nil
		}
	}
	if t, ok := aliases[s]; ok {
		return t, nil
	}
	return Public, fmt.Errorf("unknown tier %q", s)
}

// Normalize converts a wire name into a Tier for display purposes. Unknown
// names collapse to Public. Never use this on the authorization path.
func Normalize(s string) Tier {
	t, err := Parse(s)
	if err != nil {
		return Public
	}
	return t
}

// DisplayName returns the human-readable label for the tier.
func (t Tier) DisplayName() string {
	switch t {
	case Member:
		return "Member"
	case MemberPlus:
		return "Member Plus"
	case MemberElite:
		return "Member Elite"
	case Private:
		return "Private"
	default:
		return "Public"
	}
}
