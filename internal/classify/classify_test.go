package classify

import (
	"testing"
)

func TestMatchExclusion(t *testing.T) {
	t.Parallel()

	patterns := []ExclusionPattern{
		{Type: "vpc", Description: "default vpc", Match: MatchNameExact, Value: "default"},
		{Type: "iam-role", Description: "service roles", Match: MatchNamePrefix, Value: "AWSServiceRole"},
		{Type: "service-account", Description: "gcp agents", Match: MatchIDContains, Value: "gserviceaccount.com"},
		{Type: "bucket", Description: "logs", Match: MatchDetailsContains, Value: "managed-by=provider"},
	}

	tests := []struct {
		name    string
		r       LiveResource
		wantHit bool
		wantIdx int
	}{
		{"name exact", LiveResource{Type: "vpc", Name: "default"}, true, 0},
		{"name exact miss", LiveResource{Type: "vpc", Name: "default-2"}, false, 0},
		{"name prefix", LiveResource{Type: "iam-role", Name: "AWSServiceRoleForECS"}, true, 1},
		{"id contains", LiveResource{Type: "service-account", ID: "123@cloudservices.gserviceaccount.com"}, true, 2},
		{"details contains", LiveResource{Type: "bucket", Details: "tags: managed-by=provider"}, true, 3},
		{"details absent", LiveResource{Type: "bucket", Name: "managed-by=provider"}, false, 0},
		{"type mismatch skipped", LiveResource{Type: "subnet", Name: "default"}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, ok := MatchExclusion(tt.r, patterns)
			if ok != tt.wantHit {
				t.Fatalf("hit = %v, want %v", ok, tt.wantHit)
			}
			if ok && p != &patterns[tt.wantIdx] {
				t.Errorf("matched %+v, want pattern %d", p, tt.wantIdx)
			}
		})
	}
}

func TestMatchExclusion_FirstMatchWins(t *testing.T) {
	t.Parallel()

	patterns := []ExclusionPattern{
		{Type: "vpc", Description: "first", Match: MatchNamePrefix, Value: "def"},
		{Type: "vpc", Description: "second", Match: MatchNameExact, Value: "default"},
	}
	p, ok := MatchExclusion(LiveResource{Type: "vpc", Name: "default"}, patterns)
	if !ok || p.Description != "first" {
		t.Errorf("matched %+v, want first", p)
	}
}

func testState() *ExpectedState {
	return &ExpectedState{
		Version: 1,
		Stacks: []StackDeclaration{
			{
				Name:  "core",
				Cloud: CloudAWS,
				Resources: []ExpectedResource{
					{Type: "security-group", ID: "sg-managed", Name: "default"},
					{Type: "s3-bucket", ID: "arn:aws:s3:::app-assets", Name: "app-assets"},
					{Type: "ec2-instance", ID: "i-0abc", Name: ""},
				},
			},
			{
				Name:      "gcp",
				Cloud:     CloudGCP,
				Resources: []ExpectedResource{{Type: "bucket", ID: "gcp-only", Name: "gcp-only"}},
			},
		},
		Exclusions: Exclusions{
			AWS: []ExclusionPattern{{Type: "security-group", Match: MatchNameExact, Value: "default"}},
		},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	live := []LiveResource{
		{Cloud: CloudAWS, Type: "security-group", ID: "sg-managed", Name: "default"},
		{Cloud: CloudAWS, Type: "s3-bucket", ID: "unknown-bucket", Name: "unknown-bucket"},
		{Cloud: CloudAWS, Type: "s3-bucket", ID: "app-assets", Name: "app-assets"},
		{Cloud: CloudAWS, Type: "ec2-instance", ID: "i-0abc", Name: "web"},
		{Cloud: CloudAWS, Type: "bucket", ID: "gcp-only", Name: "gcp-only"},
		{Cloud: CloudAWS, Type: "ec2-instance", ID: "i-0zzz", Name: ""},
	}
	want := []Classification{ProviderManaged, Rogue, Managed, Managed, Rogue, Rogue}

	got := Classify(live, testState())
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Classification != want[i] {
			t.Errorf("%s/%s = %s, want %s", got[i].Type, got[i].ID, got[i].Classification, want[i])
		}
		if got[i].ID != live[i].ID {
			t.Errorf("order changed at %d", i)
		}
	}
	if got[0].MatchedExclusion == nil || got[0].MatchedExclusion.Value != "default" {
		t.Errorf("MatchedExclusion = %+v", got[0].MatchedExclusion)
	}

	s := Summarize(got)
	if s != (Summary{Live: 6, Managed: 2, Rogue: 3, ProviderManaged: 1}) {
		t.Errorf("Summary = %+v", s)
	}
	if r := RogueOnly(got); len(r) != 3 || r[0].ID != "unknown-bucket" {
		t.Errorf("RogueOnly = %+v", r)
	}
}

func TestClassify_NilStateAllRogue(t *testing.T) {
	t.Parallel()

	got := Classify([]LiveResource{{Cloud: CloudGCP, Type: "bucket", ID: "x"}}, nil)
	if got[0].Classification != Rogue {
		t.Errorf("got %s, want ROGUE", got[0].Classification)
	}
	if len(RogueOnly(nil)) != 0 {
		t.Error("RogueOnly(nil) should be empty")
	}
}

func TestClassify_EmptyIDNeverManaged(t *testing.T) {
	t.Parallel()

	// a stack entry known only by name must not make every id-less live
	// resource managed
	state := &ExpectedState{
		Version: 1,
		Stacks: []StackDeclaration{
			{Name: "edge", Cloud: CloudAWS, Resources: []ExpectedResource{
				{Type: "cloudfront-distribution", Name: "cdn"},
			}},
		},
	}
	live := []LiveResource{
		{Cloud: CloudAWS, Type: "ec2-instance", ID: "", Name: ""},
		{Cloud: CloudAWS, Type: "ec2-instance", ID: "", Name: "worker"},
		{Cloud: CloudAWS, Type: "cloudfront-distribution", ID: "", Name: "cdn"},
	}
	want := []Classification{Rogue, Rogue, Managed}

	got := Classify(live, state)
	for i := range want {
		if got[i].Classification != want[i] {
			t.Errorf("%s id=%q name=%q = %s, want %s", live[i].Type, live[i].ID, live[i].Name, got[i].Classification, want[i])
		}
	}
	if state.Declares(CloudAWS, "") {
		t.Error("Declares(\"\") = true, want false")
	}
}

func TestExpectedState_Declares(t *testing.T) {
	t.Parallel()

	state := &ExpectedState{
		Version: 1,
		Stacks: []StackDeclaration{
			{Name: "core", Cloud: CloudAWS, Resources: []ExpectedResource{
				{Type: "s3-bucket", ID: "assets", Name: "assets-bucket", URN: "urn:pulumi:prod::core::aws:s3/bucket:Bucket::assets"},
			}},
			{Name: "data", Cloud: CloudGCP, Resources: []ExpectedResource{{Type: "bucket", ID: "logs"}}},
		},
	}

	tests := []struct {
		cloud Cloud
		ref   string
		want  bool
	}{
		{CloudAWS, "assets", true},
		{CloudAWS, "assets-bucket", true},
		{CloudAWS, "urn:pulumi:prod::core::aws:s3/bucket:Bucket::assets", true},
		{CloudAWS, "logs", false},
		{CloudGCP, "logs", true},
		{CloudAWS, "", false},
		{CloudAWS, "rogue", false},
	}
	for _, tt := range tests {
		if got := state.Declares(tt.cloud, tt.ref); got != tt.want {
			t.Errorf("Declares(%s, %q) = %v, want %v", tt.cloud, tt.ref, got, tt.want)
		}
	}

	var nilState *ExpectedState
	if nilState.Declares(CloudAWS, "assets") {
		t.Error("nil state should declare nothing")
	}
}
