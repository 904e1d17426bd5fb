package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autoclip/worker/internal/metrics"
	"github.com/autoclip/worker/internal/render"
	"github.com/autoclip/worker/internal/scheduler"
)

// newTestServer builds a Server against a real, un-started Scheduler (no
// worker goroutines draining the queues) so tests can assert on queue
// depth and job status deterministically, without racing a worker pool.
func newTestServer(t *testing.T, secret string) *Server {
	t.Helper()

	sched := scheduler.New(scheduler.Config{
		ExportConcurrency:     1,
		TranscribeConcurrency: 1,
		JobRetentionTTL:       time.Hour,
		TransientRetryLimit:   1,
		TransientRetryDelay:   time.Second,
	}, func(ctx context.Context, job *scheduler.ExportJob) {}, func(ctx context.Context, job *scheduler.TranscribeJob) error { return nil })

	collector := metrics.NewCollector(metrics.NewMetrics(prometheus.NewRegistry()), sched, 4)

	cfg := Config{
		WorkerSecret:      secret,
		TempDir:           t.TempDir(),
		ProbeTimeout:      5 * time.Second,
		RenderConcurrency: 1,
		RenderConfig: render.Config{
			MaxConcurrency:  1,
			HighMinHeight:   1080,
			MediumMinHeight: 720,
			LowMinHeight:    480,
			MaxFPS:          30,
			MinFPS:          24,
		},
		DefaultExportFPS: 30,
	}

	return NewServer(cfg, sched, nil, collector, nil, nil, nil)
}
