// Package fingerprint computes the stable identity strings that keep the
// ledger from opening two incidents for the same real-world condition, and
// filters candidate findings against the fingerprints of incidents that are
// already open.
package fingerprint

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

// Resource identifies a live cloud resource: {cloud}:{type}:{id}.
func Resource(cloud, resourceType, id string) string {
	return cloud + ":" + resourceType + ":" + id
}

// Drift identifies a change to a provisioned resource: drift:{cloud}:{type}:{id}.
func Drift(cloud, resourceType, id string) string {
	return "drift:" + Resource(cloud, resourceType, id)
}

// Secret identifies a secret finding in one commit. The commit is part of the
// identity so a secret reintroduced later is a new incident.
func Secret(repo, filePath, rule, commitSha string) string {
	return repo + ":" + filePath + ":" + rule + ":" + commitSha
}

// Standards identifies the standards check of one commit.
func Standards(repo, commitSha string) string {
	return repo + ":" + commitSha + ":standards_violation"
}

// Alert namespaces a monitoring alert fingerprint.
func Alert(fp string) string {
	return "signoz:" + fp
}

// OpenSet returns the non-null fingerprints of open incidents.
func OpenSet(open []*incident.Incident) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(open))
	for _, inc := range open {
		if inc == nil || inc.Fingerprint == nil {
			continue
		}
		set.Add(*inc.Fingerprint)
	}
	return set
}

// Dedup returns the candidates whose key is not already open, preserving
// order. Repeats within candidates collapse to the first occurrence. An empty
// key never suppresses and is never suppressed.
func Dedup[T any](candidates []T, key func(T) string, open []*incident.Incident) []T {
	seen := OpenSet(open)
	out := make([]T, 0, len(candidates))
	for _, c := range candidates {
		k := key(c)
		if k == "" {
			out = append(out, c)
			continue
		}
		if seen.Contains(k) {
			continue
		}
		seen.Add(k)
		out = append(out, c)
	}
	return out
}

// DedupPayloads is Dedup keyed on Payload.Fingerprint.
func DedupPayloads(candidates []incident.Payload, open []*incident.Incident) []incident.Payload {
	return Dedup(candidates, func(p incident.Payload) string { return p.Fingerprint }, open)
}
