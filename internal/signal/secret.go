package signal

import (
	"github.com/progression-labs-development/monitoring/internal/fingerprint"
	"github.com/progression-labs-development/monitoring/internal/incident"
	"github.com/progression-labs-development/monitoring/internal/secretscan"
)

// PushContext identifies the push a repository finding came from.
type PushContext struct {
	Repository  string
	Branch      string
	CommitSHA   string
	PusherName  string
	PusherEmail string
}

// MapSecret converts one secret finding. The commit is part of the
// fingerprint, so the same secret pushed again in a later commit opens a new
// incident.
func MapSecret(s secretscan.DetectedSecret, pc PushContext) incident.Payload {
	return incident.Payload{
		Domain:      incident.DomainSecurity,
		Type:        incident.TypeSecretCommitted,
		Severity:    incident.SeverityCritical,
		Fingerprint: fingerprint.Secret(pc.Repository, s.FilePath, s.PatternName, pc.CommitSHA),
		Observed: map[string]any{
			"repository":      pc.Repository,
			"branch":          pc.Branch,
			"commitSha":       pc.CommitSHA,
			"filePath":        s.FilePath,
			"lineNumber":      s.LineNumber,
			"patternName":     s.PatternName,
			"detectionMethod": string(s.DetectionMethod),
		},
		Resource: map[string]any{
			"repository": pc.Repository,
			"commitSha":  pc.CommitSHA,
		},
		Actor: map[string]any{
			"githubUser": pc.PusherName,
			"email":      pc.PusherEmail,
		},
		PermittedActions: []string{"remove_from_code", "rotate_credential", "notify_author"},
	}
}
