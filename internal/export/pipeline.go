package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/browser"
	"github.com/autoclip/worker/internal/ffmpeg"
	"github.com/autoclip/worker/internal/logx"
	"github.com/autoclip/worker/internal/resource"
	"github.com/autoclip/worker/internal/scheduler"
	"github.com/autoclip/worker/internal/session"
	"github.com/autoclip/worker/internal/storage"
)

// Config carries the editor-export tunables sourced from internal/config.
type Config struct {
	FrameFormat           string
	JPEGQuality           int
	Preset                string
	CRF                   int
	Tune                  string
	AudioBitrate          string
	FrameTimeout          time.Duration
	ProgressLogInterval   time.Duration
	ScaleFlags            string
	RenderMode            RenderMode
	DeviceScaleTolerance  float64
	EditorRenderURL       string
	EditorRenderSecret    string
	MaxExportConcurrency  int
	ExportBucket          string
}

// Pipeline wires the shared browser manager and object storage into a
// scheduler.ExportHandler.
type Pipeline struct {
	Browser *browser.Manager
	Storage *storage.Adapter
	Cfg     Config
	Policy  resource.Policy

	httpClient *http.Client
}

func NewPipeline(b *browser.Manager, st *storage.Adapter, cfg Config, policy resource.Policy) *Pipeline {
	return &Pipeline{
		Browser:    b,
		Storage:    st,
		Cfg:        cfg,
		Policy:     policy,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Handle is a scheduler.ExportHandler: it drives one export job through
// queued→loading→rendering→encoding→uploading→complete (spec.md
// §4.5.8), recording error on any non-terminal-state failure.
func (p *Pipeline) Handle(ctx context.Context, job *scheduler.ExportJob) {
	snap := job.Snapshot()
	sess, err := session.New(os.TempDir())
	if err != nil {
		p.fail(job, err)
		return
	}
	defer sess.Cleanup()

	if err := p.run(ctx, job, sess, snap.Payload); err != nil {
		p.fail(job, err)
	}
}

func (p *Pipeline) fail(job *scheduler.ExportJob, err error) {
	logx.LogError(job.ID, "editor export failed", err)
	job.Update(func(j *scheduler.ExportJob) {
		j.Status = scheduler.StatusError
		j.Stage = "error"
		j.Error = err.Error()
	})
}

func (p *Pipeline) run(ctx context.Context, job *scheduler.ExportJob, sess *session.Session, rawPayload json.RawMessage) error {
	payload, err := ParsePayload(rawPayload)
	if err != nil {
		return err
	}

	job.Update(func(j *scheduler.ExportJob) {
		j.Status = scheduler.StatusLoading
		j.Stage = "loading"
		j.Progress = 0.03
		j.FramesTotal = payload.FramesTotal()
	})

	page, err := p.Browser.NewPage(ctx)
	if err != nil {
		return err
	}
	defer page.Close()

	viewport := PlanViewport(payload.Output, payload.Preview, p.Cfg.RenderMode, p.Cfg.DeviceScaleTolerance)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return apierr.APIError{Msg: "failed to serialize export payload for injection", Status: 500, Kind: apierr.DependencyFailure, Err: err}
	}

	renderURL := payload.RenderURL
	if renderURL == "" {
		renderURL = p.Cfg.EditorRenderURL
	}

	renderer := NewBrowserRenderer(page, p.Cfg.FrameFormat, p.Cfg.JPEGQuality, p.Cfg.FrameTimeout)
	if err := renderer.Prepare(ctx, viewport, string(payloadJSON), renderURL, p.Cfg.EditorRenderSecret); err != nil {
		return apierr.APIError{Msg: "editor export page failed to navigate", Status: 502, Kind: apierr.RendererUnavailable, Err: err}
	}
	if err := renderer.WaitReady(ctx); err != nil {
		return apierr.APIError{Msg: "editor export page never became ready", Status: 504, Kind: apierr.Timeout, Err: err}
	}

	job.Update(func(j *scheduler.ExportJob) {
		j.Status = scheduler.StatusRendering
		j.Stage = "rendering"
		j.Progress = 0.05
	})

	silentVideoPath := sess.ScratchPath("silent.mp4")
	argv := ffmpeg.EncoderArgv(
		p.Cfg.FrameFormat, payload.FPS,
		payload.Output.Width, payload.Output.Height,
		viewport.ViewportWidth, viewport.ViewportHeight,
		p.Cfg.Preset, p.Cfg.CRF, "high", p.Cfg.Tune,
		p.Policy.ThreadsPerJob(p.Cfg.MaxExportConcurrency),
		silentVideoPath,
	)
	encoder, err := ffmpeg.StartEncoder(ctx, argv)
	if err != nil {
		return err
	}

	loopErr := RunFrameLoop(ctx, renderer, encoder, payload.FramesTotal(), payload.FPS, p.Cfg.ProgressLogInterval,
		func(rendered, total int) {
			job.Update(func(j *scheduler.ExportJob) {
				j.FramesRendered = rendered
				j.Progress = 0.05 + float64(rendered)/float64(total)*0.85
			})
		},
		func(rendered, total int) {
			logx.Log(job.ID, "editor export frame progress", "rendered", rendered, "total", total)
		},
	)
	if loopErr != nil {
		_ = encoder.CloseStdin()
		_ = encoder.Kill()
		return loopErr
	}
	if err := encoder.CloseStdin(); err != nil {
		_ = encoder.Kill()
		return apierr.APIError{Msg: "failed to close export encoder stdin", Status: 500, Kind: apierr.DependencyFailure, Err: err}
	}
	if err := encoder.Wait(ctx); err != nil {
		return apierr.APIError{Msg: "export encoder exited with an error: " + encoder.StderrTail(), Status: 500, Kind: apierr.DependencyFailure, Err: err}
	}

	job.Update(func(j *scheduler.ExportJob) {
		j.Status = scheduler.StatusEncoding
		j.Stage = "encoding"
		j.Progress = 0.93
	})

	audioPath, err := p.buildAudioMix(ctx, sess, payload)
	if err != nil {
		return err
	}

	job.Update(func(j *scheduler.ExportJob) {
		j.Stage = "mux"
		j.Progress = 0.95
	})

	finalPath := sess.ScratchPath("export.mp4")
	audioBitrateKbps := parseBitrateKbps(p.Cfg.AudioBitrate)
	if err := ffmpeg.MuxFinal(ctx, silentVideoPath, audioPath, finalPath, audioBitrateKbps); err != nil {
		return err
	}

	job.Update(func(j *scheduler.ExportJob) {
		j.Status = scheduler.StatusUploading
		j.Stage = "uploading"
		j.Progress = 0.97
	})

	key := session.JobObjectPrefix(job.ID) + "export.mp4"
	if err := p.Storage.Upload(ctx, p.Cfg.ExportBucket, key, finalPath, "video/mp4"); err != nil {
		return err
	}
	url, err := p.Storage.Sign(p.Cfg.ExportBucket, key, 24*time.Hour)
	if err != nil {
		return err
	}

	job.Update(func(j *scheduler.ExportJob) {
		j.Status = scheduler.StatusComplete
		j.Stage = "complete"
		j.Progress = 1.0
		j.DownloadURL = url
	})
	return nil
}

// buildAudioMix downloads each contributing clip's asset, builds the
// filter-complex graph (spec.md §4.5.6), and runs the ffmpeg mixdown.
// Returns "" with no error when no clip qualifies — the final mux then
// passes the silent video through untouched.
func (p *Pipeline) buildAudioMix(ctx context.Context, sess *session.Session, payload Payload) (string, error) {
	clips := contributingClips(payload.Timeline)
	if len(clips) == 0 {
		return "", nil
	}

	localPaths := make(map[string]string, len(clips))
	for _, cc := range clips {
		if _, ok := localPaths[cc.asset.ID]; ok {
			continue
		}
		dest := sess.ScratchPath("mix-assets", fmt.Sprintf("%s%s", cc.asset.ID, filepath.Ext(cc.asset.URL)))
		if err := p.downloadAsset(ctx, cc.asset.URL, dest); err != nil {
			return "", err
		}
		localPaths[cc.asset.ID] = dest
	}

	plan, ok := BuildMixPlan(payload.Timeline, localPaths)
	if !ok {
		return "", nil
	}

	mixPath := sess.ScratchPath("mix.wav")
	argv := ffmpeg.MixAudioArgv(plan.Inputs, plan.FilterComplex, plan.MixLabel, payload.Duration, mixPath)
	if err := ffmpeg.RunMixAudio(ctx, argv); err != nil {
		return "", err
	}
	return mixPath, nil
}

// downloadAsset fetches one timeline asset's URL to a local scratch
// file, reusing the shared long-lived *http.Client construction style
// internal/stt and the teacher's clients/broadcaster_remote.go both use.
func (p *Pipeline) downloadAsset(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apierr.APIError{Msg: "failed to create mix-asset scratch directory", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apierr.APIError{Msg: "invalid timeline asset URL", Status: 400, Kind: apierr.BadRequest, Err: err}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apierr.APIError{Msg: "failed to fetch timeline asset", Status: 502, Kind: apierr.DependencyFailure, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apierr.APIError{Msg: fmt.Sprintf("timeline asset fetch returned status %d", resp.StatusCode), Status: 502, Kind: apierr.DependencyFailure}
	}

	out, err := os.Create(dest)
	if err != nil {
		return apierr.APIError{Msg: "failed to create mix-asset scratch file", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return apierr.APIError{Msg: "failed to download timeline asset", Status: 502, Kind: apierr.DependencyFailure, Err: err}
	}
	return nil
}

func parseBitrateKbps(s string) int {
	var n int
	_, _ = fmt.Sscanf(s, "%dk", &n)
	if n <= 0 {
		return 192
	}
	return n
}
