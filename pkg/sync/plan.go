package sync

import "sort"

// Plan is the minimal set of Outline mutations that converges a user's
// Outline groups with their provider groups. A provider name lands in
// ToJoin iff the user is not currently a member, and in ToCreate iff no
// Outline group of that name exists, so a brand-new group appears in
// both.
type Plan struct {
	// ToCreate are provider groups that do not exist in Outline at all
	ToCreate []string
	// ToJoin are provider groups the user is not currently a member of
	ToJoin []string
	// ToLeave are current Outline groups absent from the provider
	ToLeave []string
}

// Empty reports whether applying the plan would issue no mutations
func (p Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToJoin) == 0 && len(p.ToLeave) == 0
}

// BuildPlan classifies every group name by set difference:
// ToCreate = provider − existing, ToJoin = provider − current,
// ToLeave = current − provider. Names are case-sensitive. Output
// slices are sorted so apply order is deterministic.
func BuildPlan(provider, current, existing []string) Plan {
	currentSet := toSet(current)
	existingSet := toSet(existing)
	providerSet := toSet(provider)

	var plan Plan
	for name := range providerSet {
		if _, ok := existingSet[name]; !ok {
			plan.ToCreate = append(plan.ToCreate, name)
		}
		if _, ok := currentSet[name]; !ok {
			plan.ToJoin = append(plan.ToJoin, name)
		}
	}
	for name := range currentSet {
		if _, ok := providerSet[name]; !ok {
			plan.ToLeave = append(plan.ToLeave, name)
		}
	}

	sort.Strings(plan.ToCreate)
	sort.Strings(plan.ToJoin)
	sort.Strings(plan.ToLeave)
	return plan
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
