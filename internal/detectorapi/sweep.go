package detectorapi

import (
	"errors"
	"net/http"

	"github.com/progression-labs-development/monitoring/internal/sweep"
)

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := a.sweeper.Run(r.Context())
	switch {
	case errors.Is(err, sweep.ErrInProgress):
		a.metrics.signal("sweep", "rejected")
		http.Error(w, `{"error":"sweep already in progress"}`, http.StatusConflict)
		return
	case err != nil:
		a.metrics.signal("sweep", "failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if len(res.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	a.metrics.signal("sweep", "processed")
	writeJSON(w, status, res)
}
