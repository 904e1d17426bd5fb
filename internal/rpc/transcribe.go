package rpc

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/audio"
	"github.com/autoclip/worker/internal/scheduler"
	"github.com/autoclip/worker/internal/session"
)

type transcribeRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	VideoKey  string `json:"videoKey" validate:"required"`
	Language  string `json:"language"`
}

// handleTranscribeSync implements spec.md §6's legacy synchronous
// "/transcribe": download, run the full audio.Run pipeline inline, and
// respond with the merged transcript directly instead of a job handle.
func (s *Server) handleTranscribeSync(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req transcribeRequest
	if err := decodeAndValidate(r, s.Validate, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := session.Open(s.Cfg.TempDir, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Cleanup()

	localPath := sess.ScratchPath(sourceVideoKey)
	if err := s.Storage.Download(r.Context(), s.Cfg.SourceBucket, req.VideoKey, localPath); err != nil {
		writeError(w, err)
		return
	}

	transcript, err := audio.Run(r.Context(), req.SessionID, localPath, sess.ScratchDir, s.STT, req.Language, s.Cfg.AudioConfig, s.Cfg.ProbeTimeout, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"segments": transcript.Segments,
		"words":    transcript.Words,
		"text":     transcript.Text,
		"language": transcript.Language,
	})
}

// handleTranscribeQueue implements spec.md §6's "/transcribe/queue":
// enqueue via the scheduler, which enforces the one-live-job-per-session
// dedup rule itself.
func (s *Server) handleTranscribeQueue(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req transcribeRequest
	if err := decodeAndValidate(r, s.Validate, &req); err != nil {
		writeError(w, err)
		return
	}

	job, existed := s.Scheduler.EnqueueTranscribe(req.SessionID, req.VideoKey, req.Language)
	status := http.StatusAccepted
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, transcribeJobPayload(job))
}

// handleTranscribeStatus implements spec.md §6's poll endpoint, keyed
// by sessionId rather than job id.
func (s *Server) handleTranscribeStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID := ps.ByName("sessionId")
	job, ok := s.Scheduler.GetTranscribeBySession(sessionID)
	if !ok {
		writeError(w, apierr.APIError{Msg: "no transcription job for session", Status: http.StatusNotFound, Kind: apierr.NotFound})
		return
	}

	snap := job.Snapshot()
	status := http.StatusOK
	if snap.Status == scheduler.StatusQueued || snap.Status == scheduler.StatusProcessing {
		status = http.StatusAccepted
	}
	writeJSON(w, status, transcribeJobPayload(job))
}

// transcribeJobPayload builds spec.md §6's "job payload" shape, only
// attaching result on a complete job.
func transcribeJobPayload(job *scheduler.TranscribeJob) map[string]interface{} {
	snap := job.Snapshot()
	body := map[string]interface{}{
		"jobId":           snap.ID,
		"sessionId":       snap.SessionID,
		"status":          snap.Status,
		"stage":           snap.Stage,
		"progress":        snap.Progress * 100,
		"totalChunks":     snap.TotalChunks,
		"completedChunks": snap.CompletedChunks,
		"retryCount":      snap.RetryCount,
		"error":           snap.Error,
	}
	if snap.Status == scheduler.StatusComplete {
		body["result"] = snap.Result
	}
	return body
}
