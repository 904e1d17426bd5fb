package rpc

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/facecrop"
	"github.com/autoclip/worker/internal/ffmpeg"
	"github.com/autoclip/worker/internal/probe"
	"github.com/autoclip/worker/internal/render"
	"github.com/autoclip/worker/internal/session"
)

type clipRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type renderRequest struct {
	SessionID string      `json:"sessionId" validate:"required"`
	VideoKey  string      `json:"videoKey" validate:"required"`
	Clips     []clipRange `json:"clips" validate:"required,min=1"`
	Quality   string      `json:"quality"`
	CropMode  string      `json:"cropMode"`
}

// handleRender implements spec.md §6's "/render": non-blocking
// admission via render.Semaphore (429 when saturated, distinct from
// the scheduler's FIFO-queued export/transcribe admission), then one
// render.RenderClip per requested range.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req renderRequest
	if err := decodeAndValidate(r, s.Validate, &req); err != nil {
		writeError(w, err)
		return
	}

	for i, c := range req.Clips {
		if err := (render.ClipRequest{Index: i, Start: c.Start, End: c.End}).Validate(); err != nil {
			writeError(w, err)
			return
		}
	}

	if !s.RenderSem.TryAcquire() {
		writeError(w, apierr.APIError{Msg: "render worker busy", Status: http.StatusTooManyRequests, Kind: apierr.Busy})
		return
	}
	defer s.RenderSem.Release()

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

	info, err := probe.Probe(r.Context(), localPath, s.Cfg.ProbeTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	sourceFPS := 0.0
	if info.FrameRate != nil {
		sourceFPS = *info.FrameRate
	}

	quality := render.Quality(req.Quality)
	cropMode := s.Cfg.CropMode
	if req.CropMode != "" {
		cropMode = facecrop.Mode(req.CropMode)
	}

	outputs := make([]map[string]interface{}, 0, len(req.Clips))
	for i, c := range req.Clips {
		clip := render.ClipRequest{Index: i, Start: c.Start, End: c.End}
		out, err := render.RenderClip(r.Context(), sess, s.Cropper, localPath, clip, quality, cropMode, sourceFPS, s.Cfg.RenderConfig)
		if err != nil {
			writeError(w, err)
			return
		}

		clipKey := sess.ObjectPrefix() + "clips/" + out.Filename
		if err := s.Storage.Upload(r.Context(), s.Cfg.SourceBucket, clipKey, out.ClipPath, "video/mp4"); err != nil {
			writeError(w, err)
			return
		}
		downloadURL, err := s.Storage.Sign(s.Cfg.SourceBucket, clipKey, s.Cfg.SignedURLTTL)
		if err != nil {
			writeError(w, err)
			return
		}

		outputs = append(outputs, map[string]interface{}{
			"index":       out.Index,
			"clipKey":     clipKey,
			"downloadUrl": downloadURL,
			"filename":    out.Filename,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"outputs": outputs})
}

type previewRequest struct {
	SessionID string  `json:"sessionId" validate:"required"`
	VideoKey  string  `json:"videoKey" validate:"required"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

const previewHeight = 540

// handlePreview implements spec.md §6's "/preview": a single 540p clip
// of the requested range, uncropped (no face-tracking pass), uploaded
// under the session's preview_<start>_<end>.mp4 key.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req previewRequest
	if err := decodeAndValidate(r, s.Validate, &req); err != nil {
		writeError(w, err)
		return
	}

	clip := (renderClipRange{Start: req.Start, End: req.End}).toClipRequest()
	if err := clip.Validate(); err != nil {
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

	info, err := probe.Probe(r.Context(), localPath, s.Cfg.ProbeTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	sourceFPS := 0.0
	if info.FrameRate != nil {
		sourceFPS = *info.FrameRate
	}

	extractedPath := sess.ScratchPath("preview_extracted.mp4")
	if err := ffmpeg.ExtractClip(r.Context(), localPath, req.Start, req.End, extractedPath); err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("preview_%g_%g.mp4", req.Start, req.End)
	finalPath := sess.ScratchPath(filename)
	fps := render.ClampFPS(sourceFPS, s.Cfg.RenderConfig)
	if err := ffmpeg.ScaleAndMux(r.Context(), extractedPath, extractedPath, finalPath, previewHeight, fps); err != nil {
		writeError(w, err)
		return
	}

	previewKey := sess.ObjectPrefix() + filename
	if err := s.Storage.Upload(r.Context(), s.Cfg.SourceBucket, previewKey, finalPath, "video/mp4"); err != nil {
		writeError(w, err)
		return
	}
	previewURL, err := s.Storage.Sign(s.Cfg.SourceBucket, previewKey, s.Cfg.PreviewSignedURLTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"previewUrl": previewURL,
		"previewKey": previewKey,
	})
}

// renderClipRange adapts a bare start/end pair into render.ClipRequest
// for shared Validate() reuse.
type renderClipRange struct {
	Start float64
	End   float64
}

func (c renderClipRange) toClipRequest() render.ClipRequest {
	return render.ClipRequest{Start: c.Start, End: c.End}
}
