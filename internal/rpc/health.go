package rpc

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// handleHealth serves spec.md §6's readiness/stats endpoint, driven
// entirely by internal/metrics.Collector.Snapshot so the JSON body and
// the Prometheus gauges never drift apart.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := s.Metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"exports":       snap.Exports,
		"transcription": snap.Transcription,
	})
}
