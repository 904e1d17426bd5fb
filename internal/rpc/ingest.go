package rpc

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/julienschmidt/httprouter"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/probe"
	"github.com/autoclip/worker/internal/session"
)

// uploadMetadata is the metadata sub-object every ingest response
// carries (spec.md §6: "/upload", "/youtube", "/metadata").
type uploadMetadata struct {
	Duration *float64 `json:"duration"`
	Width    *int     `json:"width"`
	Height   *int     `json:"height"`
	Size     int64    `json:"size"`
}

const sourceVideoKey = "input.mp4"

// ingestLocalFile probes localPath, uploads it to the session's
// "input.mp4" object-store key, and returns the standard ingest
// response body shared by /upload and /youtube.
func (s *Server) ingestLocalFile(w http.ResponseWriter, r *http.Request, sess *session.Session, localPath string) {
	info, err := probe.Probe(r.Context(), localPath, s.Cfg.ProbeTimeout)
	if err != nil {
		writeError(w, err)
		return
	}

	fi, statErr := os.Stat(localPath)
	var size int64
	if statErr == nil {
		size = fi.Size()
	}

	videoKey := sess.ObjectPrefix() + sourceVideoKey
	if err := s.Storage.Upload(r.Context(), s.Cfg.SourceBucket, videoKey, localPath, "video/mp4"); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sess.ID,
		"videoKey":  videoKey,
		"metadata": uploadMetadata{
			Duration: info.Duration,
			Width:    info.Width,
			Height:   info.Height,
			Size:     size,
		},
	})
}

// handleUpload implements spec.md §6's multipart ingest: field "video"
// is streamed to a fresh session's scratch directory, then probed and
// uploaded to object storage.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := r.ParseMultipartForm(1 << 30); err != nil {
		writeError(w, apierr.APIError{Msg: "invalid multipart body", Status: http.StatusBadRequest, Kind: apierr.BadRequest, Err: err})
		return
	}

	file, _, err := r.FormFile("video")
	if err != nil {
		writeError(w, apierr.APIError{Msg: "missing \"video\" form field", Status: http.StatusBadRequest, Kind: apierr.BadRequest, Err: err})
		return
	}
	defer file.Close()

	sess, err := session.New(s.Cfg.TempDir)
	if err != nil {
		writeError(w, err)
		return
	}

	localPath := sess.ScratchPath(sourceVideoKey)
	if err := writeUploadedFile(file, localPath); err != nil {
		writeError(w, apierr.APIError{Msg: "failed to stage uploaded video", Status: 500, Kind: apierr.StorageFailure, Err: err})
		return
	}

	s.ingestLocalFile(w, r, sess, localPath)
}

func writeUploadedFile(file multipart.File, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, file)
	return err
}

type youtubeRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// handleYoutube implements spec.md §6's remote-download ingest: fetch
// url via the yt-dlp-backed downloader, then share /upload's
// probe-and-store tail.
func (s *Server) handleYoutube(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req youtubeRequest
	if err := decodeAndValidate(r, s.Validate, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := session.New(s.Cfg.TempDir)
	if err != nil {
		writeError(w, err)
		return
	}

	localPath := sess.ScratchPath(sourceVideoKey)
	if err := s.Downloader.Download(r.Context(), req.URL, localPath); err != nil {
		writeError(w, err)
		return
	}

	s.ingestLocalFile(w, r, sess, localPath)
}

type metadataRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	VideoKey  string `json:"videoKey" validate:"required"`
}

// handleMetadata implements spec.md §6's "/metadata": re-download an
// already-uploaded key into a reconstructed session scratch directory
// and probe it, per spec.md §3's no-cross-restart-consistency rule.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req metadataRequest
	if err := decodeAndValidate(r, s.Validate, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := session.Open(s.Cfg.TempDir, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	localPath := sess.ScratchPath("metadata_probe.mp4")
	if err := s.Storage.Download(r.Context(), s.Cfg.SourceBucket, req.VideoKey, localPath); err != nil {
		writeError(w, err)
		return
	}

	info, err := probe.Probe(r.Context(), localPath, s.Cfg.ProbeTimeout)
	if err != nil {
		writeError(w, err)
		return
	}

	fi, statErr := os.Stat(localPath)
	var size int64
	if statErr == nil {
		size = fi.Size()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metadata": uploadMetadata{
			Duration: info.Duration,
			Width:    info.Width,
			Height:   info.Height,
			Size:     size,
		},
	})
}
