package signal

import (
	"github.com/progression-labs-development/monitoring/internal/audit"
	"github.com/progression-labs-development/monitoring/internal/classify"
	"github.com/progression-labs-development/monitoring/internal/fingerprint"
	"github.com/progression-labs-development/monitoring/internal/incident"
)

// MapRogueResource converts a resource found by an enumeration sweep that
// no provisioning stack declares.
func MapRogueResource(r classify.ClassifiedResource) incident.Payload {
	var details any
	if r.Details != "" {
		details = r.Details
	}
	return incident.Payload{
		Domain:      incident.DomainInfrastructure,
		Type:        incident.TypeRogueResource,
		Severity:    incident.SeverityHigh,
		Fingerprint: fingerprint.Resource(string(r.Cloud), r.Type, r.ID),
		Observed: map[string]any{
			"cloud":        string(r.Cloud),
			"resourceType": r.Type,
			"resourceId":   r.ID,
			"resourceName": r.Name,
			"details":      details,
		},
		Resource: map[string]any{
			"cloud": string(r.Cloud),
			"type":  r.Type,
			"id":    r.ID,
			"name":  r.Name,
		},
	}
}

// MapRogueEvent converts an audit event for a resource that provisioning
// state does not know about.
func MapRogueEvent(ev audit.Event) incident.Payload {
	p := auditPayload(ev)
	p.Type = incident.TypeRogueResource
	p.Severity = incident.SeverityHigh
	p.Fingerprint = fingerprint.Resource(string(ev.Cloud), ev.ResourceType, ev.ResourceID)
	p.PermittedActions = []string{"import_to_pulumi", "delete_resource", "notify_owner"}
	return p
}

// MapDriftEvent converts an audit event that changed a resource provisioning
// state already owns.
func MapDriftEvent(ev audit.Event) incident.Payload {
	p := auditPayload(ev)
	p.Type = incident.TypeDrift
	p.Severity = incident.SeverityMedium
	p.Fingerprint = fingerprint.Drift(string(ev.Cloud), ev.ResourceType, ev.ResourceID)
	p.PermittedActions = []string{"pulumi_refresh", "revert_change", "notify_owner"}
	return p
}

func auditPayload(ev audit.Event) incident.Payload {
	actor := map[string]any{
		"identity": ev.Actor.Identity,
		"type":     string(ev.Actor.Type),
	}
	if ev.Actor.AWSArn != "" {
		actor["awsArn"] = ev.Actor.AWSArn
	}
	if ev.Actor.GCPServiceAccount != "" {
		actor["gcpServiceAccount"] = ev.Actor.GCPServiceAccount
	}
	return incident.Payload{
		Domain: incident.DomainInfrastructure,
		Observed: map[string]any{
			"cloud":        string(ev.Cloud),
			"eventName":    ev.EventName,
			"resourceType": ev.ResourceType,
			"resourceId":   ev.ResourceID,
			"timestamp":    ev.Timestamp,
		},
		Resource: map[string]any{
			"cloud": string(ev.Cloud),
			"type":  ev.ResourceType,
			"id":    ev.ResourceID,
		},
		Actor: actor,
	}
}
