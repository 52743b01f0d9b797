package detectorapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/progression-labs-development/monitoring/internal/github"
	"github.com/progression-labs-development/monitoring/internal/incident"
	"github.com/progression-labs-development/monitoring/internal/secretscan"
	"github.com/progression-labs-development/monitoring/internal/signal"
	"github.com/progression-labs-development/monitoring/internal/standards"
)

const githubSource = "github"

type githubResponse struct {
	Processed        int      `json:"processed"`
	Findings         int      `json:"findings"`
	FilesChecked     int      `json:"filesChecked"`
	Violations       int      `json:"violations"`
	IncidentsCreated int      `json:"incidents_created"`
	Errors           []string `json:"errors,omitempty"`
}

// handleGitHub scans every commit of a branch push for secrets and, on the
// default branch, checks changed files against the repository's
// standards.toml. The signature has already been verified by middleware.
func (a *API) handleGitHub(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if ev := r.Header.Get(github.EventHeader); ev != "push" {
		a.metrics.signal(githubSource, "skipped")
		writeSkip(w, "event type: "+ev)
		return
	}

	var push github.PushEvent
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		a.metrics.signal(githubSource, "rejected")
		http.Error(w, `{"error":"Invalid payload"}`, http.StatusBadRequest)
		return
	}
	if !push.IsBranch() {
		a.metrics.signal(githubSource, "skipped")
		writeSkip(w, "not a branch push")
		return
	}
	if push.Installation == nil {
		a.metrics.signal(githubSource, "rejected")
		http.Error(w, `{"error":"No installation context"}`, http.StatusBadRequest)
		return
	}

	resp := githubResponse{Processed: len(push.Commits)}
	pc := signal.PushContext{
		Repository:  push.Repository.FullName,
		Branch:      push.Ref,
		PusherName:  push.Pusher.Name,
		PusherEmail: push.Pusher.Email,
	}

	secrets, errs := a.scanSecrets(ctx, &push, pc)
	resp.Findings = len(secrets)
	created, _, err := a.createFresh(ctx, githubSource, incident.TypeSecretCommitted, secrets)
	resp.IncidentsCreated += created
	if err != nil {
		errs = append(errs, err.Error())
	}

	if push.IsDefaultBranch() {
		res, err := a.checkStandards(ctx, &push)
		if err != nil {
			errs = append(errs, err.Error())
		}
		if res != nil {
			resp.FilesChecked = res.FilesChecked
			resp.Violations = len(res.Violations)
			if len(res.Violations) > 0 {
				spc := pc
				spc.CommitSHA = push.After
				created, _, err := a.createFresh(ctx, githubSource, incident.TypeStandardsViolation,
					[]incident.Payload{signal.MapStandards(*res, spc)})
				resp.IncidentsCreated += created
				if err != nil {
					errs = append(errs, err.Error())
				}
			}
		}
	}

	resp.Errors = errs
	status := http.StatusOK
	if len(errs) > 0 {
		status = http.StatusBadGateway
		a.metrics.signal(githubSource, "failed")
	} else {
		a.metrics.signal(githubSource, "processed")
	}
	a.logger.Info(ctx, "push processed",
		"repository", push.Repository.FullName,
		"commits", resp.Processed,
		"findings", resp.Findings,
		"violations", resp.Violations,
		"created", resp.IncidentsCreated,
	)
	writeJSON(w, status, resp)
}

// scanSecrets maps every finding of every commit. A commit whose diff cannot
// be fetched is reported and skipped.
func (a *API) scanSecrets(ctx context.Context, push *github.PushEvent, pc signal.PushContext) ([]incident.Payload, []string) {
	owner, repo := push.OwnerRepo()
	var (
		payloads []incident.Payload
		errs     []string
	)
	for _, c := range push.Commits {
		diff, err := a.repos.CommitDiff(ctx, push.Installation.ID, owner, repo, c.ID)
		if err != nil {
			a.logger.Error(ctx, err, "fetch commit diff failed", "commit", c.ID)
			errs = append(errs, err.Error())
			continue
		}
		cpc := pc
		cpc.CommitSHA = c.ID
		for _, s := range secretscan.ScanDiff(diff) {
			payloads = append(payloads, signal.MapSecret(s, cpc))
		}
	}
	return payloads, errs
}

// checkStandards returns nil, nil when the repository has no standards.toml
// or the push changed no files.
func (a *API) checkStandards(ctx context.Context, push *github.PushEvent) (*standards.CheckResult, error) {
	owner, repo := push.OwnerRepo()
	text, ok, err := a.repos.FileContent(ctx, push.Installation.ID, owner, repo, standards.FileName, push.After)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	files := push.ChangedFiles()
	if len(files) == 0 {
		return nil, nil
	}
	res, err := standards.Check(files, text)
	if err != nil {
		// a broken standards.toml is the repository's problem, not a delivery failure
		a.logger.Warn(ctx, "invalid standards config", "repository", push.Repository.FullName, "error", err)
		return nil, nil
	}
	return &res, nil
}

var _ RepoReader = (*github.Repos)(nil)
