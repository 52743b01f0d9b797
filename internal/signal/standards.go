package signal

import (
	"github.com/progression-labs-development/monitoring/internal/fingerprint"
	"github.com/progression-labs-development/monitoring/internal/incident"
	"github.com/progression-labs-development/monitoring/internal/standards"
)

// MapStandards converts the violations of one push into a single payload.
func MapStandards(res standards.CheckResult, pc PushContext) incident.Payload {
	files := make([]any, 0, len(res.Violations))
	violations := make([]any, 0, len(res.Violations))
	for _, v := range res.Violations {
		files = append(files, v.File)
		var line any
		if v.Line != nil {
			line = *v.Line
		}
		violations = append(violations, map[string]any{
			"file":     v.File,
			"line":     line,
			"rule":     v.Rule,
			"message":  v.Message,
			"severity": v.Severity,
		})
	}

	return incident.Payload{
		Domain:      incident.DomainStandards,
		Type:        incident.TypeStandardsViolation,
		Severity:    incident.SeverityMedium,
		Fingerprint: fingerprint.Standards(pc.Repository, pc.CommitSHA),
		Observed: map[string]any{
			"repo":       pc.Repository,
			"branch":     pc.Branch,
			"files":      files,
			"violations": violations,
		},
		Expected: map[string]any{
			"standards": res.StandardsConfig,
		},
		Resource: map[string]any{
			"repository": pc.Repository,
			"commitSha":  pc.CommitSHA,
		},
		Actor: map[string]any{
			"github_user": pc.PusherName,
			"email":       pc.PusherEmail,
		},
		PermittedActions: []string{"create_fix_pr", "notify_author"},
	}
}
