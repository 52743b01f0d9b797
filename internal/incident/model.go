package incident

import (
	"time"
)

// Domain classifies the concern area of an incident.
type Domain string

const (
	DomainInfrastructure Domain = "infrastructure"
	DomainSecurity       Domain = "security"
	DomainCost           Domain = "cost"
	DomainReliability    Domain = "reliability"
	DomainStandards      Domain = "standards"
)

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	switch d {
	case DomainInfrastructure, DomainSecurity, DomainCost, DomainReliability, DomainStandards:
		return true
	}
	return false
}

// Type is the specific condition an incident describes.
type Type string

const (
	TypeRogueResource      Type = "rogue_resource"
	TypeDrift              Type = "drift"
	TypeSecretCommitted    Type = "secret_committed"
	TypeStandardsViolation Type = "standards_violation"
	TypeAlertTriggered     Type = "alert_triggered"
)

// Valid reports whether t is one of the known incident types.
func (t Type) Valid() bool {
	switch t {
	case TypeRogueResource, TypeDrift, TypeSecretCommitted, TypeStandardsViolation, TypeAlertTriggered:
		return true
	}
	return false
}

// Severity is ordered by urgency: critical > high > medium > low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a comparable urgency, higher is more urgent. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Paged reports whether the severity is loud enough to notify humans in chat.
func (s Severity) Paged() bool { return s.Rank() >= SeverityHigh.Rank() }

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusOpen is the initial state of every incident.
	StatusOpen Status = "open"

	// StatusClaimed means an actor asserted they are working the incident.
	StatusClaimed Status = "claimed"

	// StatusRemediated is terminal: the condition was fixed.
	StatusRemediated Status = "remediated"

	// StatusEscalated is terminal: the condition was handed to humans.
	StatusEscalated Status = "escalated"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClaimed, StatusRemediated, StatusEscalated:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusRemediated || s == StatusEscalated
}

// Incident is the single deduplicated, stateful record of a detected condition.
type Incident struct {
	ID               string         `json:"id"`
	Domain           Domain         `json:"domain"`
	Type             Type           `json:"type"`
	Severity         Severity       `json:"severity"`
	Fingerprint      *string        `json:"fingerprint"`
	Observed         map[string]any `json:"observed"`
	Expected         map[string]any `json:"expected"`
	Delta            map[string]any `json:"delta"`
	Resource         map[string]any `json:"resource"`
	Actor            map[string]any `json:"actor"`
	PermittedActions []string       `json:"permitted_actions"`
	Constraints      map[string]any `json:"constraints"`
	Status           Status         `json:"status"`
	ClaimedBy        *string        `json:"claimed_by"`
	Outcome          map[string]any `json:"outcome"`
	CreatedAt        time.Time      `json:"created_at"`
	ClaimedAt        *time.Time     `json:"claimed_at"`
	ResolvedAt       *time.Time     `json:"resolved_at"`
}

// FingerprintValue returns the fingerprint or "" when the incident has none.
func (i *Incident) FingerprintValue() string {
	if i == nil || i.Fingerprint == nil {
		return ""
	}
	return *i.Fingerprint
}

// Clone returns a copy that shares no mutable state with i.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Fingerprint = clonePtr(i.Fingerprint)
	cp.ClaimedBy = clonePtr(i.ClaimedBy)
	cp.ClaimedAt = clonePtr(i.ClaimedAt)
	cp.ResolvedAt = clonePtr(i.ResolvedAt)
	cp.Observed = cloneMap(i.Observed)
	cp.Expected = cloneMap(i.Expected)
	cp.Delta = cloneMap(i.Delta)
	cp.Resource = cloneMap(i.Resource)
	cp.Actor = cloneMap(i.Actor)
	cp.Constraints = cloneMap(i.Constraints)
	cp.Outcome = cloneMap(i.Outcome)
	if i.PermittedActions != nil {
		cp.PermittedActions = append([]string(nil), i.PermittedActions...)
	}
	return &cp
}

// Payload is the creation-time subset of Incident produced by signal mappers
// and accepted by POST /incidents.
type Payload struct {
	Domain           Domain         `json:"domain"`
	Type             Type           `json:"type"`
	Severity         Severity       `json:"severity"`
	Fingerprint      string         `json:"fingerprint,omitempty"`
	Observed         map[string]any `json:"observed,omitempty"`
	Expected         map[string]any `json:"expected,omitempty"`
	Delta            map[string]any `json:"delta,omitempty"`
	Resource         map[string]any `json:"resource,omitempty"`
	Actor            map[string]any `json:"actor,omitempty"`
	PermittedActions []string       `json:"permitted_actions,omitempty"`
	Constraints      map[string]any `json:"constraints,omitempty"`
}

// Validate checks the required enum fields and returns a *ValidationError
// naming every offending field, or nil.
func (p *Payload) Validate() error {
	v := &ValidationError{}
	switch {
	case p.Domain == "":
		v.Add("domain", "required")
	case !p.Domain.Valid():
		v.Add("domain", "unknown domain "+string(p.Domain))
	}
	switch {
	case p.Type == "":
		v.Add("type", "required")
	case !p.Type.Valid():
		v.Add("type", "unknown type "+string(p.Type))
	}
	switch {
	case p.Severity == "":
		v.Add("severity", "required")
	case !p.Severity.Valid():
		v.Add("severity", "unknown severity "+string(p.Severity))
	}
	return v.OrNil()
}

// ListFilter selects incidents for List. Zero values mean "any".
type ListFilter struct {
	Status   Status
	Domain   Domain
	Type     Type
	Severity Severity
	Limit    int
	Offset   int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Normalize validates enum filters and applies pagination defaults and caps.
func (f *ListFilter) Normalize() error {
	v := &ValidationError{}
	if f.Status != "" && !f.Status.Valid() {
		v.Add("status", "unknown status "+string(f.Status))
	}
	if f.Domain != "" && !f.Domain.Valid() {
		v.Add("domain", "unknown domain "+string(f.Domain))
	}
	if f.Type != "" && !f.Type.Valid() {
		v.Add("type", "unknown type "+string(f.Type))
	}
	if f.Severity != "" && !f.Severity.Valid() {
		v.Add("severity", "unknown severity "+string(f.Severity))
	}
	if f.Offset < 0 {
		v.Add("offset", "must be >= 0")
	}
	if f.Limit < 0 {
		v.Add("limit", "must be >= 1")
	}
	if err := v.OrNil(); err != nil {
		return err
	}
	if f.Limit == 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return nil
}

// Matches reports whether inc satisfies the enum filters (pagination is ignored).
func (f *ListFilter) Matches(inc *Incident) bool {
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.Domain != "" && inc.Domain != f.Domain {
		return false
	}
	if f.Type != "" && inc.Type != f.Type {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	return true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// cloneMap is shallow below the first level; nested values are treated as immutable.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Normalize defaults the optional maps to empty objects and permitted_actions
// to an empty list so that stored incidents never carry JSON nulls there.
func (p *Payload) Normalize() {
	p.Observed = emptyIfNil(p.Observed)
	p.Expected = emptyIfNil(p.Expected)
	p.Delta = emptyIfNil(p.Delta)
	p.Resource = emptyIfNil(p.Resource)
	p.Actor = emptyIfNil(p.Actor)
	p.Constraints = emptyIfNil(p.Constraints)
	if p.PermittedActions == nil {
		p.PermittedActions = []string{}
	}
}
