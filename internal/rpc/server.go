// Package rpc is the worker's RPC Surface (spec.md §6): an
// httprouter.Router composed the way the teacher's
// api.NewCatalystAPIRouter composes middleware — bearer auth on every
// handler but /health, request logging on every handler, and decoded
// JSON bodies validated with go-playground/validator/v10 struct tags
// before dispatch.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/audio"
	"github.com/autoclip/worker/internal/facecrop"
	"github.com/autoclip/worker/internal/ingest"
	"github.com/autoclip/worker/internal/logx"
	"github.com/autoclip/worker/internal/metrics"
	"github.com/autoclip/worker/internal/render"
	"github.com/autoclip/worker/internal/scheduler"
	"github.com/autoclip/worker/internal/storage"
	"github.com/autoclip/worker/internal/stt"
)

// Config carries the RPC-layer tunables sourced from internal/config.
type Config struct {
	HTTPAddress        string
	WorkerSecret       string
	TempDir            string
	SourceBucket       string
	ExportBucket       string
	ProbeTimeout       time.Duration
	RenderConcurrency  int
	RenderConfig       render.Config
	AudioConfig        audio.Config
	CropScriptPath     string
	CropPythonBin      string
	CropTimeout        time.Duration
	CropMode           facecrop.Mode
	IngestTimeout      time.Duration
	SignedURLTTL       time.Duration
	PreviewSignedURLTTL time.Duration
	DefaultExportFPS   float64
	MaxExportConcurrency int
}

// Server holds every dependency the RPC handlers dispatch into. It owns
// no goroutines of its own beyond the http.Server ListenAndServe loop.
type Server struct {
	Cfg        Config
	Scheduler  *scheduler.Scheduler
	Storage    *storage.Adapter
	Metrics    *metrics.Collector
	STT        audio.Transcriber
	Downloader *ingest.Downloader
	Cropper    *facecrop.Runner
	RenderSem  *render.Semaphore
	Validate   *validator.Validate
}

func NewServer(cfg Config, sched *scheduler.Scheduler, st *storage.Adapter, mc *metrics.Collector, sttClient *stt.Client, downloader *ingest.Downloader, cropper *facecrop.Runner) *Server {
	return &Server{
		Cfg:        cfg,
		Scheduler:  sched,
		Storage:    st,
		Metrics:    mc,
		STT:        sttClient,
		Downloader: downloader,
		Cropper:    cropper,
		RenderSem:  render.NewSemaphore(cfg.RenderConcurrency),
		Validate:   validator.New(),
	}
}

// ListenAndServe starts the RPC surface, the same
// build-router/serve/graceful-shutdown shape as the teacher's
// api.ListenAndServe.
func (s *Server) ListenAndServe(ctx context.Context) error {
	router := s.NewRouter()
	server := &http.Server{Addr: s.Cfg.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	logx.LogNoJobID("starting autoclip worker rpc surface", "host", s.Cfg.HTTPAddress)

	var serveErr error
	go func() {
		serveErr = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if serveErr != nil && serveErr != http.ErrServerClosed {
		return serveErr
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// NewRouter builds the httprouter.Router, wiring every endpoint from
// spec.md §6's table.
func (s *Server) NewRouter() *httprouter.Router {
	router := httprouter.New()
	auth := func(h httprouter.Handle) httprouter.Handle {
		return logRequest(requireBearer(s.Cfg.WorkerSecret, h))
	}
	open := func(h httprouter.Handle) httprouter.Handle {
		return logRequest(h)
	}

	router.GET("/health", open(s.handleHealth))
	router.POST("/upload", auth(s.handleUpload))
	router.POST("/youtube", auth(s.handleYoutube))
	router.POST("/metadata", auth(s.handleMetadata))
	router.POST("/transcribe", auth(s.handleTranscribeSync))
	router.POST("/transcribe/queue", auth(s.handleTranscribeQueue))
	router.GET("/transcribe/status/:sessionId", auth(s.handleTranscribeStatus))
	router.POST("/render", auth(s.handleRender))
	router.POST("/preview", auth(s.handlePreview))
	router.POST("/editor-export/start", auth(s.handleExportStart))
	router.GET("/editor-export/status/:jobId", auth(s.handleExportStatus))
	router.POST("/download-url", auth(s.handleDownloadURL))
	router.POST("/cleanup", auth(s.handleCleanup))

	return router
}

// decodeAndValidate JSON-decodes r's body into dst then runs
// validator/v10's struct-tag validation, returning a BadRequest
// apierr.APIError on either failure.
func decodeAndValidate(r *http.Request, validate *validator.Validate, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.APIError{Msg: "invalid JSON body", Status: http.StatusBadRequest, Kind: apierr.BadRequest, Err: err}
	}
	if err := validate.Struct(dst); err != nil {
		return apierr.APIError{Msg: "request validation failed", Status: http.StatusBadRequest, Kind: apierr.BadRequest, Err: err}
	}
	return nil
}

// writeError writes err as the spec.md §7 JSON error shape, using its
// apierr.APIError status/kind when present and falling back to a
// generic 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	var apiErr apierr.APIError
	if errors.As(err, &apiErr) {
		apierr.WriteHTTPError(w, apiErr)
		return
	}
	apierr.WriteInternalServerError(w, err.Error(), err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
