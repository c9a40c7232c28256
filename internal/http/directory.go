package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/example/community-tips/internal/ingest"
)

const defaultIncidentDays = 30

// DirectoryHandler serves the read-only offender registry and incident log.
type DirectoryHandler struct {
	offenders []ingest.Offender
	incidents []ingest.Incident
	now       func() time.Time
}

func (h *DirectoryHandler) Offenders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, ingest.FilterOffenders(h.offenders, q.Get("q"), q.Get("type")))
}

func (h *DirectoryHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	days := defaultIncidentDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	writeJSON(w, http.StatusOK, ingest.FilterByDays(h.incidents, days, h.now()))
}
