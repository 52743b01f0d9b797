// Package audit normalizes cloud audit log deliveries (AWS CloudTrail via
// EventBridge, GCP Audit Logs via Pub/Sub push) into a single Event shape
// that the detector can classify as rogue or drift.
package audit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/progression-labs-development/monitoring/internal/classify"
)

// ActorType is the kind of principal that performed an audited action.
type ActorType string

const (
	ActorIAMUser        ActorType = "iam-user"
	ActorIAMRole        ActorType = "iam-role"
	ActorServiceAccount ActorType = "service-account"
	ActorUnknown        ActorType = "unknown"
)

// Actor is the principal behind an audit event.
type Actor struct {
	Identity          string    `json:"identity"`
	Type              ActorType `json:"type"`
	AWSArn            string    `json:"awsArn,omitempty"`
	GCPServiceAccount string    `json:"gcpServiceAccount,omitempty"`
}

// Event is a resource-creating or modifying action reported by a cloud
// provider's audit trail.
type Event struct {
	Cloud        classify.Cloud  `json:"cloud"`
	EventName    string          `json:"eventName"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId"`
	Actor        Actor           `json:"actor"`
	Timestamp    string          `json:"timestamp"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// watchedCloudTrailEvents are the CloudTrail event names that create resources.
var watchedCloudTrailEvents = mapset.NewSet(
	"CreateBucket",
	"RunInstances",
	"CreateFunction20150331",
	"CreateDBInstance",
	"CreateCluster",
	"CreateSecret",
	"CreateRole",
	"CreateService",
	"CreateStack",
	"CreateTable",
)

// responseIDKeys are responseElements keys that carry a resource id, in
// lookup order.
var responseIDKeys = []string{"instanceId", "functionArn", "bucketName", "roleArn", "dBInstanceIdentifier"}

// CloudTrailEvent is the EventBridge envelope around a CloudTrail record.
type CloudTrailEvent struct {
	Source string           `json:"source"`
	Detail CloudTrailDetail `json:"detail"`
}

// CloudTrailDetail is the CloudTrail record itself.
type CloudTrailDetail struct {
	EventName         string               `json:"eventName"`
	EventSource       string               `json:"eventSource"`
	EventTime         string               `json:"eventTime"`
	UserIdentity      CloudTrailIdentity   `json:"userIdentity"`
	RequestParameters map[string]any       `json:"requestParameters,omitempty"`
	ResponseElements  map[string]any       `json:"responseElements,omitempty"`
	Resources         []CloudTrailResource `json:"resources,omitempty"`
}

type CloudTrailIdentity struct {
	Type           string `json:"type"`
	Arn            string `json:"arn,omitempty"`
	UserName       string `json:"userName,omitempty"`
	PrincipalID    string `json:"principalId,omitempty"`
	SessionContext *struct {
		SessionIssuer *struct {
			Arn      string `json:"arn,omitempty"`
			UserName string `json:"userName,omitempty"`
		} `json:"sessionIssuer,omitempty"`
	} `json:"sessionContext,omitempty"`
}

type CloudTrailResource struct {
	Type string `json:"type"`
	ARN  string `json:"ARN"`
}

// ParseCloudTrail normalizes ev. It returns ok=false for event names that do
// not create resources.
func ParseCloudTrail(ev CloudTrailEvent) (*Event, bool) {
	d := ev.Detail
	if !watchedCloudTrailEvents.Contains(d.EventName) {
		return nil, false
	}

	arn := d.UserIdentity.Arn
	if arn == "" && d.UserIdentity.SessionContext != nil && d.UserIdentity.SessionContext.SessionIssuer != nil {
		arn = d.UserIdentity.SessionContext.SessionIssuer.Arn
	}

	identity := arn
	if identity == "" {
		identity = d.UserIdentity.UserName
	}
	if identity == "" {
		identity = "unknown"
	}

	actorType := ActorIAMUser
	if d.UserIdentity.Type == "AssumedRole" {
		actorType = ActorIAMRole
	}

	resourceType := strings.TrimSuffix(d.EventSource, ".amazonaws.com")
	resourceID := ""
	if len(d.Resources) > 0 {
		if d.Resources[0].Type != "" {
			resourceType = d.Resources[0].Type
		}
		resourceID = d.Resources[0].ARN
	}
	if resourceID == "" {
		resourceID = cloudTrailResourceID(d)
	}

	raw, _ := json.Marshal(d)

	return &Event{
		Cloud:        classify.CloudAWS,
		EventName:    d.EventName,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor: Actor{
			Identity: identity,
			Type:     actorType,
			AWSArn:   arn,
		},
		Timestamp: d.EventTime,
		Raw:       raw,
	}, true
}

func cloudTrailResourceID(d CloudTrailDetail) string {
	for _, k := range responseIDKeys {
		if s, ok := d.ResponseElements[k].(string); ok {
			return s
		}
	}
	return d.EventSource + "/" + d.EventName
}

// gcpMutatingMethod matches audit methodNames that create or modify a resource.
var gcpMutatingMethod = regexp.MustCompile(`(?i)\.(create|insert|patch|update)$`)

// PubSubPush is the body of a Pub/Sub push subscription delivery.
type PubSubPush struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId,omitempty"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		PublishTime string            `json:"publishTime,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription,omitempty"`
}

// GCPAuditPayload is the decoded LogEntry carried in a PubSubPush.
type GCPAuditPayload struct {
	ProtoPayload struct {
		MethodName         string `json:"methodName"`
		ResourceName       string `json:"resourceName"`
		ServiceName        string `json:"serviceName"`
		AuthenticationInfo struct {
			PrincipalEmail string `json:"principalEmail"`
		} `json:"authenticationInfo"`
	} `json:"protoPayload"`
	Resource struct {
		Type   string            `json:"type"`
		Labels map[string]string `json:"labels,omitempty"`
	} `json:"resource"`
	Timestamp string `json:"timestamp"`
}

// ParseGCPAudit decodes and normalizes a Pub/Sub push. It returns ok=false
// for methods that neither create nor modify resources, and an error when
// the message data is not a base64 encoded audit log entry.
func ParseGCPAudit(push PubSubPush) (*Event, bool, error) {
	raw, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		return nil, false, fmt.Errorf("decode pubsub data: %w", err)
	}

	var p GCPAuditPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("unmarshal audit log entry: %w", err)
	}

	method := p.ProtoPayload.MethodName
	if !gcpMutatingMethod.MatchString(method) {
		return nil, false, nil
	}

	principal := p.ProtoPayload.AuthenticationInfo.PrincipalEmail
	actor := Actor{Identity: principal, Type: ActorIAMUser}
	if strings.Contains(principal, "gserviceaccount.com") {
		actor.Type = ActorServiceAccount
		actor.GCPServiceAccount = principal
	}

	return &Event{
		Cloud:        classify.CloudGCP,
		EventName:    method,
		ResourceType: p.Resource.Type,
		ResourceID:   p.ProtoPayload.ResourceName,
		Actor:        actor,
		Timestamp:    p.Timestamp,
		Raw:          raw,
	}, true, nil
}
