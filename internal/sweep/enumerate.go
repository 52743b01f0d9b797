// Package sweep runs the enforcement sweep: enumerate live cloud resources,
// classify them against expected state and open an incident for every rogue
// resource the ledger does not already track.
package sweep

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/progression-labs-development/monitoring/internal/classify"
)

// Enumerator lists the live resources of one source (an account, a project,
// an inventory export).
type Enumerator interface {
	Name() string
	Enumerate(ctx context.Context) ([]classify.LiveResource, error)
}

// EnumerateAll runs every enumerator concurrently and waits for all of them.
// A failing source does not cancel the others: its error is collected and
// the sweep continues with whatever the remaining sources returned. Results
// are concatenated in enumerator order.
func EnumerateAll(ctx context.Context, enumerators []Enumerator) ([]classify.LiveResource, []error) {
	results := make([][]classify.LiveResource, len(enumerators))
	errs := make([]error, len(enumerators))

	var g errgroup.Group
	for i, e := range enumerators {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s: panic: %v", e.Name(), r)
				}
			}()
			res, err := e.Enumerate(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", e.Name(), err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var live []classify.LiveResource
	var failed []error
	for i := range enumerators {
		live = append(live, results[i]...)
		if errs[i] != nil {
			failed = append(failed, errs[i])
		}
	}
	return live, failed
}
