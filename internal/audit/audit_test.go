package audit

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/progression-labs-development/monitoring/internal/classify"
)

func cloudTrail(t *testing.T, body string) CloudTrailEvent {
	t.Helper()
	var ev CloudTrailEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return ev
}

func TestParseCloudTrail_CreateBucket(t *testing.T) {
	t.Parallel()

	ev := cloudTrail(t, `{
		"source": "aws.s3",
		"detail": {
			"eventName": "CreateBucket",
			"eventSource": "s3.amazonaws.com",
			"eventTime": "2026-01-01T00:00:00Z",
			"userIdentity": {"type": "IAMUser", "arn": "arn:aws:iam::123:user/alice", "userName": "alice"},
			"resources": [{"type": "AWS::S3::Bucket", "ARN": "arn:aws:s3:::rogue-bucket"}]
		}
	}`)

	got, ok := ParseCloudTrail(ev)
	if !ok {
		t.Fatal("expected CreateBucket to be watched")
	}
	if got.Cloud != classify.CloudAWS {
		t.Errorf("Cloud = %q, want aws", got.Cloud)
	}
	if got.ResourceType != "AWS::S3::Bucket" {
		t.Errorf("ResourceType = %q", got.ResourceType)
	}
	if got.ResourceID != "arn:aws:s3:::rogue-bucket" {
		t.Errorf("ResourceID = %q", got.ResourceID)
	}
	if got.Actor.Identity != "arn:aws:iam::123:user/alice" || got.Actor.Type != ActorIAMUser {
		t.Errorf("Actor = %+v", got.Actor)
	}
	if got.Actor.AWSArn != "arn:aws:iam::123:user/alice" {
		t.Errorf("AWSArn = %q", got.Actor.AWSArn)
	}
	if got.Timestamp != "2026-01-01T00:00:00Z" {
		t.Errorf("Timestamp = %q", got.Timestamp)
	}
	if len(got.Raw) == 0 {
		t.Error("Raw should carry the CloudTrail detail")
	}
}

func TestParseCloudTrail_IgnoresNonCreate(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"DeleteBucket", "PutObject", "DescribeInstances", ""} {
		ev := CloudTrailEvent{Detail: CloudTrailDetail{EventName: name, EventSource: "s3.amazonaws.com"}}
		if _, ok := ParseCloudTrail(ev); ok {
			t.Errorf("%q should not be watched", name)
		}
	}
}

func TestParseCloudTrail_AssumedRoleUsesSessionIssuer(t *testing.T) {
	t.Parallel()

	ev := cloudTrail(t, `{
		"detail": {
			"eventName": "RunInstances",
			"eventSource": "ec2.amazonaws.com",
			"userIdentity": {
				"type": "AssumedRole",
				"sessionContext": {"sessionIssuer": {"arn": "arn:aws:iam::123:role/deployer"}}
			},
			"responseElements": {"instanceId": "i-0abc"}
		}
	}`)

	got, ok := ParseCloudTrail(ev)
	if !ok {
		t.Fatal("expected RunInstances to be watched")
	}
	if got.Actor.Type != ActorIAMRole {
		t.Errorf("Actor.Type = %q, want iam-role", got.Actor.Type)
	}
	if got.Actor.Identity != "arn:aws:iam::123:role/deployer" {
		t.Errorf("Actor.Identity = %q", got.Actor.Identity)
	}
	if got.ResourceType != "ec2" {
		t.Errorf("ResourceType = %q, want ec2", got.ResourceType)
	}
	if got.ResourceID != "i-0abc" {
		t.Errorf("ResourceID = %q, want i-0abc", got.ResourceID)
	}
}

func TestParseCloudTrail_ResourceIDFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response map[string]any
		want     string
	}{
		{"function arn", map[string]any{"functionArn": "arn:aws:lambda:fn"}, "arn:aws:lambda:fn"},
		{"bucket name", map[string]any{"bucketName": "b1"}, "b1"},
		{"first key wins", map[string]any{"roleArn": "r", "instanceId": "i"}, "i"},
		{"non-string ignored", map[string]any{"instanceId": 42}, "iam.amazonaws.com/CreateRole"},
		{"nothing usable", nil, "iam.amazonaws.com/CreateRole"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := CloudTrailEvent{Detail: CloudTrailDetail{
				EventName:        "CreateRole",
				EventSource:      "iam.amazonaws.com",
				UserIdentity:     CloudTrailIdentity{Type: "IAMUser", UserName: "bob"},
				ResponseElements: tt.response,
			}}
			got, ok := ParseCloudTrail(ev)
			if !ok {
				t.Fatal("expected CreateRole to be watched")
			}
			if got.ResourceID != tt.want {
				t.Errorf("ResourceID = %q, want %q", got.ResourceID, tt.want)
			}
			if got.Actor.Identity != "bob" {
				t.Errorf("Actor.Identity = %q, want bob", got.Actor.Identity)
			}
		})
	}
}

func TestParseCloudTrail_UnknownIdentity(t *testing.T) {
	t.Parallel()

	got, ok := ParseCloudTrail(CloudTrailEvent{Detail: CloudTrailDetail{EventName: "CreateTable", EventSource: "dynamodb.amazonaws.com"}})
	if !ok {
		t.Fatal("expected CreateTable to be watched")
	}
	if got.Actor.Identity != "unknown" {
		t.Errorf("Actor.Identity = %q, want unknown", got.Actor.Identity)
	}
}

func gcpPush(t *testing.T, method, principal string) PubSubPush {
	t.Helper()
	entry := map[string]any{
		"protoPayload": map[string]any{
			"methodName":         method,
			"resourceName":       "projects/p/buckets/rogue",
			"serviceName":        "storage.googleapis.com",
			"authenticationInfo": map[string]any{"principalEmail": principal},
		},
		"resource":  map[string]any{"type": "gcs_bucket", "labels": map[string]string{"project_id": "p"}},
		"timestamp": "2026-01-01T00:00:00Z",
	}
	b, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var push PubSubPush
	push.Message.Data = base64.StdEncoding.EncodeToString(b)
	return push
}

func TestParseGCPAudit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		method    string
		principal string
		wantOK    bool
		wantType  ActorType
		wantSA    string
	}{
		{"create by user", "storage.buckets.create", "alice@example.com", true, ActorIAMUser, ""},
		{"insert by service account", "v1.compute.instances.insert", "ci@p.iam.gserviceaccount.com", true, ActorServiceAccount, "ci@p.iam.gserviceaccount.com"},
		{"patch uppercase", "storage.buckets.PATCH", "alice@example.com", true, ActorIAMUser, ""},
		{"update", "google.iam.admin.v1.Update", "alice@example.com", true, ActorIAMUser, ""},
		{"delete ignored", "storage.buckets.delete", "alice@example.com", false, "", ""},
		{"get ignored", "storage.buckets.get", "alice@example.com", false, "", ""},
		{"create not a suffix", "storage.create.buckets", "alice@example.com", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := ParseGCPAudit(gcpPush(t, tt.method, tt.principal))
			if err != nil {
				t.Fatalf("ParseGCPAudit: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Cloud != classify.CloudGCP {
				t.Errorf("Cloud = %q", got.Cloud)
			}
			if got.ResourceType != "gcs_bucket" || got.ResourceID != "projects/p/buckets/rogue" {
				t.Errorf("resource = %q %q", got.ResourceType, got.ResourceID)
			}
			if got.Actor.Type != tt.wantType {
				t.Errorf("Actor.Type = %q, want %q", got.Actor.Type, tt.wantType)
			}
			if got.Actor.GCPServiceAccount != tt.wantSA {
				t.Errorf("GCPServiceAccount = %q, want %q", got.Actor.GCPServiceAccount, tt.wantSA)
			}
		})
	}
}

func TestParseGCPAudit_BadData(t *testing.T) {
	t.Parallel()

	var notBase64 PubSubPush
	notBase64.Message.Data = "%%%"
	if _, _, err := ParseGCPAudit(notBase64); err == nil {
		t.Error("expected error for invalid base64")
	}

	var notJSON PubSubPush
	notJSON.Message.Data = base64.StdEncoding.EncodeToString([]byte("not json"))
	if _, _, err := ParseGCPAudit(notJSON); err == nil {
		t.Error("expected error for invalid JSON payload")
	}
}
