// Package classify decides, for every live cloud resource, whether it is
// declared by a provisioning stack (MANAGED), created by the provider itself
// (PROVIDER-MANAGED) or neither (ROGUE).
package classify

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// MatchExclusion returns the first pattern in declaration order that matches
// r. Patterns for a different resource type are skipped.
func MatchExclusion(r LiveResource, patterns []ExclusionPattern) (*ExclusionPattern, bool) {
	for i := range patterns {
		p := &patterns[i]
		if p.Type != r.Type {
			continue
		}
		var hit bool
		switch p.Match {
		case MatchNamePrefix:
			hit = strings.HasPrefix(r.Name, p.Value)
		case MatchNameExact:
			hit = r.Name == p.Value
		case MatchIDContains:
			hit = strings.Contains(r.ID, p.Value)
		case MatchDetailsContains:
			hit = r.Details != "" && strings.Contains(r.Details, p.Value)
		}
		if hit {
			return p, true
		}
	}
	return nil, false
}

// managedSet collects every declared id and non-empty name for cloud.
func managedSet(state *ExpectedState, cloud Cloud) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, stack := range state.Stacks {
		if stack.Cloud != cloud {
			continue
		}
		for _, r := range stack.Resources {
			if r.ID != "" {
				set.Add(r.ID)
			}
			if r.Name != "" {
				set.Add(r.Name)
			}
		}
	}
	return set
}

// Declares reports whether a stack for cloud declares a resource whose id,
// name or URN is ref.
func (s *ExpectedState) Declares(cloud Cloud, ref string) bool {
	if s == nil || ref == "" {
		return false
	}
	if managedSet(s, cloud).Contains(ref) {
		return true
	}
	for _, stack := range s.Stacks {
		if stack.Cloud != cloud {
			continue
		}
		for _, r := range stack.Resources {
			if r.URN == ref {
				return true
			}
		}
	}
	return false
}

// Classify labels each live resource. Exclusions win over expected-state
// membership; anything matched by neither is rogue. Output order matches
// input order.
func Classify(live []LiveResource, state *ExpectedState) []ClassifiedResource {
	if state == nil {
		state = &ExpectedState{}
	}
	managed := make(map[Cloud]mapset.Set[string])

	out := make([]ClassifiedResource, len(live))
	for i, r := range live {
		out[i] = ClassifiedResource{LiveResource: r}

		if p, ok := MatchExclusion(r, state.Exclusions.For(r.Cloud)); ok {
			pc := *p
			out[i].Classification = ProviderManaged
			out[i].MatchedExclusion = &pc
			continue
		}

		ids, ok := managed[r.Cloud]
		if !ok {
			ids = managedSet(state, r.Cloud)
			managed[r.Cloud] = ids
		}
		if (r.ID != "" && ids.Contains(r.ID)) || (r.Name != "" && ids.Contains(r.Name)) {
			out[i].Classification = Managed
			continue
		}
		out[i].Classification = Rogue
	}
	return out
}

// Summary counts classified resources per verdict.
type Summary struct {
	Live            int `json:"liveCount"`
	Managed         int `json:"managed"`
	Rogue           int `json:"rogue"`
	ProviderManaged int `json:"providerManaged"`
}

// Summarize counts classified by verdict.
func Summarize(classified []ClassifiedResource) Summary {
	s := Summary{Live: len(classified)}
	for _, c := range classified {
		switch c.Classification {
		case Managed:
			s.Managed++
		case Rogue:
			s.Rogue++
		case ProviderManaged:
			s.ProviderManaged++
		}
	}
	return s
}

// RogueOnly filters classified down to rogue resources.
func RogueOnly(classified []ClassifiedResource) []ClassifiedResource {
	out := make([]ClassifiedResource, 0)
	for _, c := range classified {
		if c.Classification == Rogue {
			out = append(out, c)
		}
	}
	return out
}
