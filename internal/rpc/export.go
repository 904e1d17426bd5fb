package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/export"
)

// exportStartRequest mirrors spec.md §6's "/editor-export/start" wire
// shape, whose "state" field becomes export.Payload's Timeline once
// re-marshaled for the scheduler.
type exportStartRequest struct {
	State       export.Timeline   `json:"state"`
	Output      export.Dimensions `json:"output"`
	Preview     *export.Dimensions `json:"preview"`
	FPS         float64           `json:"fps"`
	Duration    float64           `json:"duration"`
	Fonts       []string          `json:"fonts"`
	Name        string            `json:"name"`
	RequestedBy string            `json:"requestedBy"`
	RenderURL   string            `json:"renderUrl"`
}

// handleExportStart implements spec.md §6's "/editor-export/start":
// validate the required state/output/duration fields, default fps from
// the worker's configured export frame rate when omitted, and enqueue
// onto the scheduler's bounded export worker pool.
func (s *Server) handleExportStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req exportStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.APIError{Msg: "invalid JSON body", Status: http.StatusBadRequest, Kind: apierr.BadRequest, Err: err})
		return
	}
	if len(req.State.Clips) == 0 && len(req.State.Assets) == 0 {
		writeError(w, apierr.APIError{Msg: "missing \"state\"", Status: http.StatusBadRequest, Kind: apierr.BadRequest})
		return
	}
	if req.Output.Width <= 0 || req.Output.Height <= 0 {
		writeError(w, apierr.APIError{Msg: "missing \"output\"", Status: http.StatusBadRequest, Kind: apierr.BadRequest})
		return
	}
	if req.Duration <= 0 {
		writeError(w, apierr.APIError{Msg: "missing \"duration\"", Status: http.StatusBadRequest, Kind: apierr.BadRequest})
		return
	}
	if req.FPS <= 0 {
		req.FPS = s.Cfg.DefaultExportFPS
	}

	payload := export.Payload{
		Output:    req.Output,
		Preview:   req.Preview,
		FPS:       req.FPS,
		Duration:  req.Duration,
		Fonts:     req.Fonts,
		Name:      req.Name,
		RenderURL: req.RenderURL,
		Timeline:  req.State,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		writeError(w, apierr.APIError{Msg: "failed to serialize export payload", Status: 500, Kind: apierr.DependencyFailure, Err: err})
		return
	}

	// Computed before enqueueing: this job's 1-indexed ordinal position
	// among jobs not yet picked up by a worker. Reading queue depth
	// after EnqueueExport races the worker pool, which may have already
	// dequeued the job on an idle pool.
	queuePosition := s.Scheduler.ExportQueueDepth() + 1
	job := s.Scheduler.EnqueueExport(raw)
	snap := job.Snapshot()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":          snap.ID,
		"status":         snap.Status,
		"stage":          snap.Stage,
		"progress":       snap.Progress,
		"queuePosition":  queuePosition,
		"activeExports":  s.Scheduler.ActiveExports(),
		"maxConcurrency": s.Scheduler.ExportConcurrency(),
	})
}

// handleExportStatus implements spec.md §6's export status poll.
func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	jobID := ps.ByName("jobId")
	job, ok := s.Scheduler.GetExport(jobID)
	if !ok {
		writeError(w, apierr.APIError{Msg: "unknown export job", Status: http.StatusNotFound, Kind: apierr.NotFound})
		return
	}

	snap := job.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":          snap.ID,
		"status":         snap.Status,
		"stage":          snap.Stage,
		"progress":       snap.Progress,
		"framesRendered": snap.FramesRendered,
		"framesTotal":    snap.FramesTotal,
		"downloadUrl":    snap.DownloadURL,
		"error":          snap.Error,
		"queuePosition":  s.Scheduler.ExportQueueDepth(),
		"activeExports":  s.Scheduler.ActiveExports(),
		"maxConcurrency": s.Scheduler.ExportConcurrency(),
	})
}
