package rpc

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/autoclip/worker/internal/session"
)

type downloadURLRequest struct {
	Key string `json:"key" validate:"required"`
}

// handleDownloadURL implements spec.md §6's "/download-url": re-sign an
// existing object key, routed to the export bucket for export-job
// artifacts and the source bucket for everything else, per spec.md
// §6's object-store layout.
func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req downloadURLRequest
	if err := decodeAndValidate(r, s.Validate, &req); err != nil {
		writeError(w, err)
		return
	}

	bucket := s.Cfg.SourceBucket
	if strings.HasPrefix(req.Key, "exports/") {
		bucket = s.Cfg.ExportBucket
	}

	url, err := s.Storage.Sign(bucket, req.Key, s.Cfg.SignedURLTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"url": url})
}

type cleanupRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// handleCleanup implements spec.md §6's "/cleanup": remove the objects
// under a session's prefix that a single List call returns (at most
// 1000 keys); keys beyond the first 1000 are not removed. Addressing is by prefix alone — no local
// scratch directory is assumed to exist, per spec.md §3's no-cross-
// restart-consistency rule.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req cleanupRequest
	if err := decodeAndValidate(r, s.Validate, &req); err != nil {
		writeError(w, err)
		return
	}

	prefix := session.ObjectPrefixFor(req.SessionID)
	keys, err := s.Storage.List(r.Context(), s.Cfg.SourceBucket, prefix, 1000)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(keys) > 0 {
		if err := s.Storage.Remove(r.Context(), s.Cfg.SourceBucket, keys); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
