package detectorapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/progression-labs-development/monitoring/internal/audit"
	"github.com/progression-labs-development/monitoring/internal/classify"
)

func TestExpectedStateChecker(t *testing.T) {
	t.Parallel()

	c := declared(classify.CloudAWS, "assets", "i-0abc")
	tests := []struct {
		name  string
		cloud classify.Cloud
		id    string
		want  bool
	}{
		{"plain id", classify.CloudAWS, "i-0abc", true},
		{"arn tail", classify.CloudAWS, "arn:aws:s3:::assets", true},
		{"arn path tail", classify.CloudAWS, "arn:aws:ec2:us-east-1:111:instance/i-0abc", true},
		{"unknown", classify.CloudAWS, "arn:aws:s3:::shadow", false},
		{"other cloud", classify.CloudGCP, "assets", false},
		{"empty", classify.CloudAWS, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := c.Exists(context.Background(), &audit.Event{Cloud: tt.cloud, ResourceID: tt.id})
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if got != tt.want {
				t.Errorf("Exists(%s, %q) = %v, want %v", tt.cloud, tt.id, got, tt.want)
			}
		})
	}
}

func TestArnResource(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"arn:aws:s3:::assets":                        "assets",
		"arn:aws:lambda:us-east-1:111:function:fn-1": "fn-1",
		"arn:aws:iam::111:role/deployer":             "deployer",
		"i-0abc":                                     "",
	}
	for in, want := range tests {
		if got := arnResource(in); got != want {
			t.Errorf("arnResource(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPStateChecker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/resources" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("id") {
		case "arn:aws:s3:::assets":
			_, _ = w.Write([]byte(`{"data":[{"type":"aws:s3/bucket:Bucket","id":"arn:aws:s3:::assets","urn":"urn:pulumi:prod::core::aws:s3/bucket:Bucket::assets"}]}`))
		case "broken":
			http.Error(w, "state backend down", http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`{"data":[]}`))
		}
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPStateChecker(srv.URL + "/")
	ctx := context.Background()

	if ok, err := c.Exists(ctx, &audit.Event{ResourceID: "arn:aws:s3:::assets"}); err != nil || !ok {
		t.Errorf("known = %v, %v", ok, err)
	}
	if ok, err := c.Exists(ctx, &audit.Event{ResourceID: "arn:aws:s3:::shadow"}); err != nil || ok {
		t.Errorf("unknown = %v, %v", ok, err)
	}
	if _, err := c.Exists(ctx, &audit.Event{ResourceID: "broken"}); err == nil {
		t.Error("expected error on 503")
	}
}

func TestHTTPDeploymentLock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    bool
	}{
		{"locked", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"locked":true}`)) }, true},
		{"unlocked", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"locked":false}`)) }, false},
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, false},
		{"garbage", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`locked`)) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)
			if got := NewHTTPDeploymentLock(srv.URL).Active(context.Background()); got != tt.want {
				t.Errorf("Active = %v, want %v", got, tt.want)
			}
		})
	}

	if NewHTTPDeploymentLock("http://127.0.0.1:1/lock").Active(context.Background()) {
		t.Error("unreachable lock service should read as unlocked")
	}
}
