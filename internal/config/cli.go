package config

import (
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Cli is the fully resolved process configuration, populated from flags
// with environment-variable fallbacks via peterbourgon/ff, the same way
// the teacher's config.Cli is populated in main().
type Cli struct {
	HTTPAddress string
	WorkerSecret string
	TempDir      string
	MetricsPort  int

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SourceBucket            string
	ExportBucket            string

	OpenAIAPIKey string

	ExportConcurrency        int
	ExportMaxConcurrency     int
	ExportCPUPerJob          int
	ExportMemoryPerJobMB     int
	ExportMemoryReserveMB    int
	RenderConcurrency        int
	TranscribeConcurrency    int

	ExportFPS           int
	FrameFormat         string
	JPEGQuality         int
	Preset              string
	CRF                 int
	Tune                string
	AudioBitrate        string
	FrameTimeout        time.Duration
	ProgressLogInterval time.Duration
	ScaleFlags          string
	RenderMode          string
	EditorRenderURL     string
	EditorRenderSecret  string

	TranscribeChunkSeconds          int
	TranscribeBitrate               string
	OpenAITimeout                   time.Duration
	OpenAIMaxAttempts               int
	OpenAIConnectionMaxAttempts     int
	OpenAIConnectionBackoff         time.Duration
	OpenAIConnectionMaxBackoff      time.Duration
	JobRetention                    time.Duration
	TransientJobRetryLimit          int
	TransientJobRetryDelay          time.Duration
}

// Parse builds a Cli from the process's command-line args, falling back to
// environment variables of the same name as the flag (upper-cased, with
// "-" turned into "_"), mirroring the teacher's main() flag/env wiring.
func Parse(fs *flag.FlagSet, args []string) (Cli, error) {
	cli := Cli{}

	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8080", "address the RPC surface listens on")
	fs.StringVar(&cli.WorkerSecret, "worker-secret", "", "WORKER_SECRET: shared bearer secret required on every RPC but /health")
	fs.StringVar(&cli.TempDir, "temp-dir", DefaultTempDir, "TEMP_DIR: scratch root for the RPC handlers' session directories; export jobs create theirs under os.TempDir() instead")
	fs.IntVar(&cli.MetricsPort, "metrics-port", DefaultMetricsPort, "METRICS_PORT: dedicated port serving /metrics")

	fs.StringVar(&cli.SupabaseURL, "supabase-url", "", "SUPABASE_URL")
	fs.StringVar(&cli.SupabaseServiceRoleKey, "supabase-service-role-key", "", "SUPABASE_SERVICE_ROLE_KEY")
	fs.StringVar(&cli.SourceBucket, "source-bucket", "autoclip-sessions", "bucket holding session source/clip/preview artifacts")
	fs.StringVar(&cli.ExportBucket, "export-bucket", "autoclip-exports", "bucket holding editor-export output")

	fs.StringVar(&cli.OpenAIAPIKey, "openai-api-key", "", "OPENAI_API_KEY")

	fs.IntVar(&cli.ExportConcurrency, "editor-export-concurrency", 0, "EDITOR_EXPORT_CONCURRENCY: explicit override, 0 = auto")
	fs.IntVar(&cli.ExportMaxConcurrency, "editor-export-max-concurrency", 4, "EDITOR_EXPORT_MAX_CONCURRENCY: hard cap on auto-computed concurrency")
	fs.IntVar(&cli.ExportCPUPerJob, "editor-export-cpu-per-job", DefaultExportCPUPerJob, "EDITOR_EXPORT_CPU_PER_JOB")
	fs.IntVar(&cli.ExportMemoryPerJobMB, "editor-export-memory-per-job-mb", DefaultExportMemoryPerJobMB, "EDITOR_EXPORT_MEMORY_PER_JOB_MB")
	fs.IntVar(&cli.ExportMemoryReserveMB, "editor-export-memory-reserve-mb", DefaultExportMemoryReserveMB, "EDITOR_EXPORT_MEMORY_RESERVE_MB")
	fs.IntVar(&cli.RenderConcurrency, "autoclip-render-concurrency", DefaultRenderConcurrency, "AUTOCLIP_RENDER_CONCURRENCY")
	fs.IntVar(&cli.TranscribeConcurrency, "autoclip-transcribe-concurrency", DefaultTranscribeConcurrency, "AUTOCLIP_TRANSCRIBE_CONCURRENCY")

	fs.IntVar(&cli.ExportFPS, "editor-export-fps", DefaultExportFPS, "EDITOR_EXPORT_FPS")
	fs.StringVar(&cli.FrameFormat, "editor-export-frame-format", DefaultFrameFormat, "EDITOR_EXPORT_FRAME_FORMAT: png|jpeg")
	fs.IntVar(&cli.JPEGQuality, "editor-export-jpeg-quality", DefaultJPEGQuality, "EDITOR_EXPORT_JPEG_QUALITY")
	fs.StringVar(&cli.Preset, "editor-export-preset", DefaultPreset, "EDITOR_EXPORT_PRESET")
	fs.IntVar(&cli.CRF, "editor-export-crf", DefaultCRF, "EDITOR_EXPORT_CRF, clamped to [8,24]")
	fs.StringVar(&cli.Tune, "editor-export-tune", "", "EDITOR_EXPORT_TUNE")
	fs.StringVar(&cli.AudioBitrate, "editor-export-audio-bitrate", DefaultAudioBitrate, "EDITOR_EXPORT_AUDIO_BITRATE")
	fs.DurationVar(&cli.FrameTimeout, "editor-export-frame-timeout", DefaultFrameTimeout, "EDITOR_EXPORT_FRAME_TIMEOUT: Go duration, e.g. 10s (EDITOR_EXPORT_FRAME_TIMEOUT_MS is not read)")
	fs.DurationVar(&cli.ProgressLogInterval, "editor-export-progress-log-interval", DefaultProgressLogInterval, "EDITOR_EXPORT_PROGRESS_LOG_INTERVAL: Go duration, e.g. 5s (EDITOR_EXPORT_PROGRESS_LOG_MS is not read)")
	fs.StringVar(&cli.ScaleFlags, "editor-export-scale-flags", DefaultScaleFlags, "EDITOR_EXPORT_SCALE_FLAGS")
	fs.StringVar(&cli.RenderMode, "editor-export-render-mode", DefaultRenderMode, "EDITOR_EXPORT_RENDER_MODE: css|device")
	fs.StringVar(&cli.EditorRenderURL, "editor-render-url", "", "EDITOR_RENDER_URL")
	fs.StringVar(&cli.EditorRenderSecret, "editor-render-secret", "", "EDITOR_RENDER_SECRET")

	fs.IntVar(&cli.TranscribeChunkSeconds, "autoclip-transcribe-chunk-seconds", DefaultTranscribeChunkSeconds, "AUTOCLIP_TRANSCRIBE_CHUNK_SECONDS")
	fs.StringVar(&cli.TranscribeBitrate, "autoclip-transcribe-bitrate", DefaultTranscribeBitrate, "AUTOCLIP_TRANSCRIBE_BITRATE")
	fs.DurationVar(&cli.OpenAITimeout, "autoclip-transcribe-openai-timeout", DefaultOpenAITimeout, "AUTOCLIP_TRANSCRIBE_OPENAI_TIMEOUT: Go duration, e.g. 2m (AUTOCLIP_TRANSCRIBE_OPENAI_TIMEOUT_MS is not read)")
	fs.IntVar(&cli.OpenAIMaxAttempts, "autoclip-transcribe-openai-max-attempts", DefaultOpenAIMaxAttempts, "AUTOCLIP_TRANSCRIBE_OPENAI_MAX_ATTEMPTS")
	fs.IntVar(&cli.OpenAIConnectionMaxAttempts, "autoclip-transcribe-openai-connection-max-attempts", DefaultOpenAIConnectionMaxAttempts, "AUTOCLIP_TRANSCRIBE_OPENAI_CONNECTION_MAX_ATTEMPTS")
	fs.DurationVar(&cli.OpenAIConnectionBackoff, "autoclip-transcribe-openai-connection-backoff", DefaultOpenAIConnectionBackoff, "AUTOCLIP_TRANSCRIBE_OPENAI_CONNECTION_BACKOFF: Go duration, e.g. 1s (AUTOCLIP_TRANSCRIBE_OPENAI_CONNECTION_BACKOFF_MS is not read)")
	fs.DurationVar(&cli.OpenAIConnectionMaxBackoff, "autoclip-transcribe-openai-connection-max-backoff", DefaultOpenAIConnectionMaxBackoff, "AUTOCLIP_TRANSCRIBE_OPENAI_CONNECTION_MAX_BACKOFF: Go duration, e.g. 30s (AUTOCLIP_TRANSCRIBE_OPENAI_CONNECTION_MAX_BACKOFF_MS is not read)")
	fs.DurationVar(&cli.JobRetention, "autoclip-transcribe-job-retention", DefaultJobRetentionMs*time.Millisecond, "AUTOCLIP_TRANSCRIBE_JOB_RETENTION: Go duration, e.g. 1h (AUTOCLIP_TRANSCRIBE_JOB_RETENTION_MS is not read)")
	fs.IntVar(&cli.TransientJobRetryLimit, "autoclip-transcribe-job-transient-retry-limit", DefaultTransientJobRetryLimit, "AUTOCLIP_TRANSCRIBE_JOB_TRANSIENT_RETRY_LIMIT")
	fs.DurationVar(&cli.TransientJobRetryDelay, "autoclip-transcribe-job-transient-retry-delay", DefaultTransientJobRetryDelayMs*time.Millisecond, "AUTOCLIP_TRANSCRIBE_JOB_TRANSIENT_RETRY_DELAY: Go duration, e.g. 15s (AUTOCLIP_TRANSCRIBE_JOB_TRANSIENT_RETRY_DELAY_MS is not read)")

	err := ff.Parse(fs, args, ff.WithEnvVarNoPrefix())
	return cli, err
}
