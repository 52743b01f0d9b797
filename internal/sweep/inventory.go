package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/progression-labs-development/monitoring/internal/classify"
)

// Inventory is an exported list of live resources, as written by a cloud
// asset export job.
type Inventory struct {
	Resources []classify.LiveResource `json:"resources" yaml:"resources"`
}

// InventoryEnumerator reads live resources from an inventory file. YAML is
// chosen by a .yaml or .yml extension, everything else is decoded as JSON.
// When Cloud is set, only resources of that cloud are returned.
type InventoryEnumerator struct {
	Path  string
	Cloud classify.Cloud
}

// Name identifies the enumerator in sweep errors and metrics.
func (e *InventoryEnumerator) Name() string {
	if e.Cloud != "" {
		return string(e.Cloud) + ":" + filepath.Base(e.Path)
	}
	return filepath.Base(e.Path)
}

// Enumerate reads and filters the inventory.
func (e *InventoryEnumerator) Enumerate(ctx context.Context) ([]classify.LiveResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inv Inventory
	switch strings.ToLower(filepath.Ext(e.Path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &inv)
	default:
		err = json.Unmarshal(data, &inv)
	}
	if err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", e.Path, err)
	}

	out := make([]classify.LiveResource, 0, len(inv.Resources))
	for _, r := range inv.Resources {
		if e.Cloud != "" && r.Cloud != e.Cloud {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseInventorySpec parses a -inventory flag value of the form
// "[cloud=]path" into an enumerator.
func ParseInventorySpec(spec string) (*InventoryEnumerator, error) {
	cloud, path, ok := strings.Cut(spec, "=")
	if !ok {
		return &InventoryEnumerator{Path: spec}, nil
	}
	switch c := classify.Cloud(cloud); c {
	case classify.CloudAWS, classify.CloudGCP, classify.CloudAzure:
		if path == "" {
			return nil, fmt.Errorf("inventory %q: empty path", spec)
		}
		return &InventoryEnumerator{Path: path, Cloud: c}, nil
	default:
		return nil, fmt.Errorf("inventory %q: unknown cloud %q", spec, cloud)
	}
}
