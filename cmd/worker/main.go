// Command worker is the autoclip video-processing-worker process
// entrypoint: it resolves configuration, wires the domain pipelines
// into the job scheduler and RPC surface, and runs until signaled to
// shut down, the same flag/env/errgroup shape as the teacher's root
// main().
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autoclip/worker/internal/audio"
	"github.com/autoclip/worker/internal/browser"
	"github.com/autoclip/worker/internal/config"
	"github.com/autoclip/worker/internal/export"
	"github.com/autoclip/worker/internal/facecrop"
	"github.com/autoclip/worker/internal/ingest"
	"github.com/autoclip/worker/internal/logx"
	"github.com/autoclip/worker/internal/metrics"
	"github.com/autoclip/worker/internal/render"
	"github.com/autoclip/worker/internal/resource"
	"github.com/autoclip/worker/internal/rpc"
	"github.com/autoclip/worker/internal/scheduler"
	"github.com/autoclip/worker/internal/session"
	"github.com/autoclip/worker/internal/storage"
	"github.com/autoclip/worker/internal/stt"
)

func main() {
	if err := flag.Set("logtostderr", "true"); err != nil {
		glog.Fatal(err)
	}

	fs := flag.NewFlagSet("autoclip-worker", flag.ExitOnError)
	cli, err := config.Parse(fs, os.Args[1:])
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}

	// Supabase's S3-compatible Storage API accepts the same service-role
	// key as both halves of the credential pair.
	st, err := storage.New(cli.SupabaseURL, cli.SupabaseServiceRoleKey, cli.SupabaseServiceRoleKey)
	if err != nil {
		glog.Fatalf("failed to build storage adapter: %s", err)
	}

	policy, err := resource.Detect(context.Background())
	if err != nil {
		glog.Fatalf("failed to detect machine resources: %s", err)
	}

	exportConcurrency := cli.ExportConcurrency
	if exportConcurrency <= 0 {
		exportConcurrency = policy.AutoConcurrency(cli.ExportMaxConcurrency, cli.ExportMemoryReserveMB, cli.ExportMemoryPerJobMB, float64(cli.ExportCPUPerJob))
	}

	browserMgr := browser.NewManager()
	defer browserMgr.Close()

	exportCfg := export.Config{
		FrameFormat:          cli.FrameFormat,
		JPEGQuality:          cli.JPEGQuality,
		Preset:               cli.Preset,
		CRF:                  clampCRF(cli.CRF),
		Tune:                 cli.Tune,
		AudioBitrate:         cli.AudioBitrate,
		FrameTimeout:         cli.FrameTimeout,
		ProgressLogInterval:  cli.ProgressLogInterval,
		ScaleFlags:           cli.ScaleFlags,
		RenderMode:           export.RenderMode(cli.RenderMode),
		DeviceScaleTolerance: config.DeviceScaleToleranceFraction,
		EditorRenderURL:      cli.EditorRenderURL,
		EditorRenderSecret:   cli.EditorRenderSecret,
		MaxExportConcurrency: exportConcurrency,
		ExportBucket:         cli.ExportBucket,
	}
	exportPipeline := export.NewPipeline(browserMgr, st, exportCfg, policy)

	sttClient := stt.New(stt.Config{
		BaseURL:               "https://api.openai.com/v1/audio/transcriptions",
		APIKey:                cli.OpenAIAPIKey,
		Model:                 "whisper-1",
		Timeout:               cli.OpenAITimeout,
		MaxAttempts:           cli.OpenAIMaxAttempts,
		ConnectionMaxAttempts: cli.OpenAIConnectionMaxAttempts,
		ConnectionBackoff:     cli.OpenAIConnectionBackoff,
		ConnectionMaxBackoff:  cli.OpenAIConnectionMaxBackoff,
	})

	audioCfg := audio.Config{
		ChunkSeconds:    cli.TranscribeChunkSeconds,
		BitrateKbps:     parseBitrateKbps(cli.TranscribeBitrate),
		ProbeTimeoutSec: 10,
	}

	transcribeHandler := func(ctx context.Context, job *scheduler.TranscribeJob) error {
		snap := job.Snapshot()
		sess, err := session.Open(cli.TempDir, snap.SessionID)
		if err != nil {
			return err
		}
		defer sess.Cleanup()

		localPath := sess.ScratchPath("input.mp4")
		if err := st.Download(ctx, cli.SourceBucket, snap.VideoKey, localPath); err != nil {
			return err
		}

		transcript, err := audio.Run(ctx, job.ID, localPath, sess.ScratchDir, sttClient, snap.Language, audioCfg, 30*time.Second,
			func(completed, total int) {
				job.Update(func(j *scheduler.TranscribeJob) {
					j.TotalChunks = total
					j.CompletedChunks = completed
					j.Progress = float64(completed) / float64(total)
				})
			},
		)
		if err != nil {
			return err
		}

		job.Update(func(j *scheduler.TranscribeJob) { j.Result = transcript })
		return nil
	}

	sched := scheduler.New(scheduler.Config{
		ExportConcurrency:     exportConcurrency,
		TranscribeConcurrency: cli.TranscribeConcurrency,
		JobRetentionTTL:       cli.JobRetention,
		TransientRetryLimit:   cli.TransientJobRetryLimit,
		TransientRetryDelay:   cli.TransientJobRetryDelay,
	}, exportPipeline.Handle, transcribeHandler)
	sched.Start()
	defer sched.Stop()

	reg := prometheus.DefaultRegisterer
	m := metrics.NewMetrics(reg)
	collector := metrics.NewCollector(m, sched, policy.ThreadsPerJob(exportConcurrency))

	downloader := ingest.New("", 10*time.Minute)
	cropper := facecrop.New("scripts/facecrop.py", "python3", 2*time.Minute)

	renderCfg := render.Config{
		MaxConcurrency:  cli.RenderConcurrency,
		HighMinHeight:   config.RenderQualityHighMinH,
		MediumMinHeight: config.RenderQualityMediumMinH,
		LowMinHeight:    config.RenderQualityLowMinH,
		MaxFPS:          config.RenderMaxFPS,
		MinFPS:          config.RenderMinFPS,
	}

	rpcCfg := rpc.Config{
		HTTPAddress:          cli.HTTPAddress,
		WorkerSecret:         cli.WorkerSecret,
		TempDir:              cli.TempDir,
		SourceBucket:         cli.SourceBucket,
		ExportBucket:         cli.ExportBucket,
		ProbeTimeout:         30 * time.Second,
		RenderConcurrency:    cli.RenderConcurrency,
		RenderConfig:         renderCfg,
		AudioConfig:          audioCfg,
		CropMode:             facecrop.ModeFace,
		IngestTimeout:        10 * time.Minute,
		SignedURLTTL:         config.SignedURLTTLSeconds * time.Second,
		PreviewSignedURLTTL:  config.PreviewSignedURLTTLSecs * time.Second,
		DefaultExportFPS:     float64(cli.ExportFPS),
		MaxExportConcurrency: exportConcurrency,
	}
	server := rpc.NewServer(rpcCfg, sched, st, collector, sttClient, downloader, cropper)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.ListenAndServe(groupCtx)
	})
	group.Go(func() error {
		return metrics.ListenAndServe(cli.MetricsPort)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logx.LogNoJobID("shutdown signal received, draining in-flight jobs")
			cancel()
		case <-groupCtx.Done():
		}
	}()

	if err := group.Wait(); err != nil && groupCtx.Err() == nil {
		glog.Fatalf("autoclip worker exited: %s", err)
	}
}

func clampCRF(crf int) int {
	if crf < config.MinCRF {
		return config.MinCRF
	}
	if crf > config.MaxCRF {
		return config.MaxCRF
	}
	return crf
}

func parseBitrateKbps(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return 64
	}
	return n
}
