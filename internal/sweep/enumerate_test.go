package sweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/progression-labs-development/monitoring/internal/classify"
)

type staticEnumerator struct {
	name string
	res  []classify.LiveResource
	err  error
}

func (s staticEnumerator) Name() string { return s.name }

func (s staticEnumerator) Enumerate(context.Context) ([]classify.LiveResource, error) {
	return s.res, s.err
}

type panicEnumerator struct{}

func (panicEnumerator) Name() string { return "boom" }

func (panicEnumerator) Enumerate(context.Context) ([]classify.LiveResource, error) {
	panic("enumerator exploded")
}

func live(cloud classify.Cloud, typ, id string) classify.LiveResource {
	return classify.LiveResource{Cloud: cloud, Type: typ, ID: id, Name: id}
}

func TestEnumerateAll_AllSettled(t *testing.T) {
	t.Parallel()

	enums := []Enumerator{
		staticEnumerator{name: "aws", res: []classify.LiveResource{live(classify.CloudAWS, "s3-bucket", "a"), live(classify.CloudAWS, "s3-bucket", "b")}},
		staticEnumerator{name: "gcp", err: errors.New("credentials expired")},
		panicEnumerator{},
		staticEnumerator{name: "azure", res: []classify.LiveResource{live(classify.CloudAzure, "vm", "c")}},
	}

	got, errs := EnumerateAll(context.Background(), enums)

	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("ids = %v, want a,b,c in enumerator order", ids)
	}

	if len(errs) != 2 {
		t.Fatalf("errs = %v, want 2", errs)
	}
	if !strings.Contains(errs[0].Error(), "gcp: credentials expired") {
		t.Errorf("errs[0] = %v", errs[0])
	}
	if !strings.Contains(errs[1].Error(), "boom: panic") {
		t.Errorf("errs[1] = %v", errs[1])
	}
}

func TestEnumerateAll_Empty(t *testing.T) {
	t.Parallel()

	got, errs := EnumerateAll(context.Background(), nil)
	if len(got) != 0 || len(errs) != 0 {
		t.Errorf("got %v, %v", got, errs)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

const inventoryYAML = `resources:
  - cloud: aws
    type: s3-bucket
    id: rogue-bucket
    name: rogue-bucket
  - cloud: gcp
    type: bucket
    id: logs
    name: logs
    details: region=us-central1
`

func TestInventoryEnumerator(t *testing.T) {
	t.Parallel()

	yamlPath := writeFile(t, "inventory.yaml", inventoryYAML)
	jsonPath := writeFile(t, "inventory.json", `{"resources":[{"cloud":"aws","type":"ec2-instance","id":"i-1","name":"web"}]}`)

	tests := []struct {
		name  string
		enum  *InventoryEnumerator
		want  []string
		label string
	}{
		{"yaml all clouds", &InventoryEnumerator{Path: yamlPath}, []string{"rogue-bucket", "logs"}, "inventory.yaml"},
		{"yaml filtered", &InventoryEnumerator{Path: yamlPath, Cloud: classify.CloudGCP}, []string{"logs"}, "gcp:inventory.yaml"},
		{"json", &InventoryEnumerator{Path: jsonPath}, []string{"i-1"}, "inventory.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.enum.Enumerate(context.Background())
			if err != nil {
				t.Fatalf("Enumerate: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want ids %v", got, tt.want)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
			if tt.enum.Name() != tt.label {
				t.Errorf("Name() = %q, want %q", tt.enum.Name(), tt.label)
			}
		})
	}
}

func TestInventoryEnumerator_Errors(t *testing.T) {
	t.Parallel()

	missing := &InventoryEnumerator{Path: filepath.Join(t.TempDir(), "nope.yaml")}
	if _, err := missing.Enumerate(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}

	bad := &InventoryEnumerator{Path: writeFile(t, "bad.json", "{")}
	if _, err := bad.Enumerate(context.Background()); err == nil {
		t.Error("expected error for malformed JSON")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := &InventoryEnumerator{Path: writeFile(t, "ok.yaml", inventoryYAML)}
	if _, err := ok.Enumerate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled context err = %v", err)
	}
}

func TestParseInventorySpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec      string
		wantPath  string
		wantCloud classify.Cloud
		wantErr   bool
	}{
		{"/data/all.yaml", "/data/all.yaml", "", false},
		{"aws=/data/aws.json", "/data/aws.json", classify.CloudAWS, false},
		{"gcp=gcp.yaml", "gcp.yaml", classify.CloudGCP, false},
		{"oracle=/x.yaml", "", "", true},
		{"aws=", "", "", true},
	}

	for _, tt := range tests {
		got, err := ParseInventorySpec(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseInventorySpec(%q) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if got.Path != tt.wantPath || got.Cloud != tt.wantCloud {
			t.Errorf("ParseInventorySpec(%q) = %+v", tt.spec, got)
		}
	}
}
