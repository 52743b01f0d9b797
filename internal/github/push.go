// Package github talks to the GitHub REST API as a GitHub App: it mints
// installation tokens, fetches commit diffs and file contents, and defines
// the push webhook payload.
package github

import "strings"

// EventHeader names the webhook event type.
const EventHeader = "X-GitHub-Event"

// PushEvent is the body of a "push" webhook delivery.
type PushEvent struct {
	Ref        string `json:"ref"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Repository struct {
		FullName      string `json:"full_name"`
		Name          string `json:"name"`
		DefaultBranch string `json:"default_branch"`
		Owner         struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Pusher struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"pusher"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Commits      []Commit `json:"commits"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation,omitempty"`
}

// Commit is one commit in a push.
type Commit struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Username string `json:"username,omitempty"`
	} `json:"author"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// IsBranch reports whether the push updated a branch (not a tag).
func (p *PushEvent) IsBranch() bool { return strings.HasPrefix(p.Ref, "refs/heads/") }

// IsDefaultBranch reports whether the push updated the repository's default
// branch.
func (p *PushEvent) IsDefaultBranch() bool {
	return p.Repository.DefaultBranch != "" && p.Ref == "refs/heads/"+p.Repository.DefaultBranch
}

// OwnerRepo splits the repository full name.
func (p *PushEvent) OwnerRepo() (owner, repo string) {
	owner, repo, _ = strings.Cut(p.Repository.FullName, "/")
	return owner, repo
}

// ChangedFiles returns the added and modified paths across all commits,
// first occurrence order, without duplicates.
func (p *PushEvent) ChangedFiles() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range p.Commits {
		for _, f := range append(append([]string(nil), c.Added...), c.Modified...) {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}
