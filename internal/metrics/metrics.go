// Package metrics exposes the worker's queue-depth and active-job
// gauges, both on a dedicated Prometheus `/metrics` port and via the
// structured stats `/health` reports, mirroring the teacher's metrics
// package shape (promauto-declared GaugeVecs read by a handler) scaled
// down to the two queues this worker runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue names used as the label value on every *Vec below.
const (
	QueueExport     = "export"
	QueueTranscribe = "transcribe"
)

// Metrics holds the process-wide Prometheus collectors. One Metrics is
// created per process via NewMetrics and shared by the scheduler poller
// and the /health handler.
type Metrics struct {
	ActiveJobs         *prometheus.GaugeVec
	QueuedJobs         *prometheus.GaugeVec
	MaxConcurrency     *prometheus.GaugeVec
	FFmpegThreadsPerExport prometheus.Gauge
	OpenTranscribeJobs prometheus.Gauge
}

// NewMetrics registers the worker's gauges against reg, the same
// promauto.NewGaugeVec style the teacher's NewMetrics uses. Production
// callers pass prometheus.DefaultRegisterer; tests pass a fresh
// prometheus.NewRegistry() each time so repeated calls within one test
// binary don't collide on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autoclip_worker_active_jobs",
			Help: "Number of jobs a worker goroutine is currently processing, by queue",
		}, []string{"queue"}),
		QueuedJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autoclip_worker_queued_jobs",
			Help: "Number of jobs waiting in the admission channel, by queue",
		}, []string{"queue"}),
		MaxConcurrency: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autoclip_worker_max_concurrency",
			Help: "Configured worker-pool size, by queue",
		}, []string{"queue"}),
		FFmpegThreadsPerExport: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoclip_worker_ffmpeg_threads_per_export",
			Help: "Encoder thread count allotted to each concurrent export (resource.Policy.ThreadsPerJob)",
		}),
		OpenTranscribeJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoclip_worker_open_transcribe_jobs",
			Help: "Number of sessions currently holding a live transcription job",
		}),
	}
}

// Snapshot is the source of both the Prometheus gauges and /health's
// JSON body. A SchedulerStats implementation supplies the live numbers;
// Collector.Refresh pushes them into both representations in one place
// so they can never drift apart.
type Snapshot struct {
	Exports       ExportStats       `json:"exports"`
	Transcription TranscriptionStats `json:"transcription"`
}

// ExportStats is the exports queue's contribution to /health, matching
// spec.md §6's exact documented shape. Every field is a fixed, always-
// present member of that object — none are conditional on a non-zero
// value — so none carry `omitempty`.
type ExportStats struct {
	Active                 int `json:"active"`
	Queued                 int `json:"queued"`
	MaxConcurrency         int `json:"maxConcurrency"`
	FFmpegThreadsPerExport int `json:"ffmpegThreadsPerExport"`
}

// TranscriptionStats is the transcription queue's contribution to
// /health, matching spec.md §6's exact documented shape (no
// `omitempty`, same reasoning as ExportStats).
type TranscriptionStats struct {
	Active         int `json:"active"`
	Queued         int `json:"queued"`
	MaxConcurrency int `json:"maxConcurrency"`
	OpenJobs       int `json:"openJobs"`
}

// SchedulerStats is the subset of internal/scheduler.Scheduler's
// accessor methods the collector needs, kept as an interface so this
// package never imports internal/scheduler (metrics stays a leaf
// package the way the teacher's metrics package never imports
// pipeline).
type SchedulerStats interface {
	ActiveExports() int
	ExportQueueDepth() int
	ExportConcurrency() int
	ActiveTranscribes() int
	TranscribeQueueDepth() int
	TranscribeConcurrency() int
	OpenTranscribeJobs() int
}

// Collector reads the scheduler's live counters into both the
// Prometheus gauges and a JSON-ready Snapshot for /health.
type Collector struct {
	m                    *Metrics
	scheduler            SchedulerStats
	ffmpegThreadsPerExport int
}

func NewCollector(m *Metrics, scheduler SchedulerStats, ffmpegThreadsPerExport int) *Collector {
	return &Collector{m: m, scheduler: scheduler, ffmpegThreadsPerExport: ffmpegThreadsPerExport}
}

// Snapshot reads the current counters and updates the Prometheus
// gauges to match, returning the same numbers as a /health-ready
// struct.
func (c *Collector) Snapshot() Snapshot {
	exports := ExportStats{
		Active:                 c.scheduler.ActiveExports(),
		Queued:                 c.scheduler.ExportQueueDepth(),
		MaxConcurrency:         c.scheduler.ExportConcurrency(),
		FFmpegThreadsPerExport: c.ffmpegThreadsPerExport,
	}
	transcription := TranscriptionStats{
		Active:         c.scheduler.ActiveTranscribes(),
		Queued:         c.scheduler.TranscribeQueueDepth(),
		MaxConcurrency: c.scheduler.TranscribeConcurrency(),
		OpenJobs:       c.scheduler.OpenTranscribeJobs(),
	}

	c.m.ActiveJobs.WithLabelValues(QueueExport).Set(float64(exports.Active))
	c.m.QueuedJobs.WithLabelValues(QueueExport).Set(float64(exports.Queued))
	c.m.MaxConcurrency.WithLabelValues(QueueExport).Set(float64(exports.MaxConcurrency))
	c.m.FFmpegThreadsPerExport.Set(float64(c.ffmpegThreadsPerExport))

	c.m.ActiveJobs.WithLabelValues(QueueTranscribe).Set(float64(transcription.Active))
	c.m.QueuedJobs.WithLabelValues(QueueTranscribe).Set(float64(transcription.Queued))
	c.m.MaxConcurrency.WithLabelValues(QueueTranscribe).Set(float64(transcription.MaxConcurrency))
	c.m.OpenTranscribeJobs.Set(float64(transcription.OpenJobs))

	return Snapshot{Exports: exports, Transcription: transcription}
}
