package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	activeExports, exportQueueDepth, exportConcurrency       int
	activeTranscribes, transcribeQueueDepth, transcribeConcurrency int
	openTranscribeJobs                                        int
}

func (f *fakeScheduler) ActiveExports() int         { return f.activeExports }
func (f *fakeScheduler) ExportQueueDepth() int       { return f.exportQueueDepth }
func (f *fakeScheduler) ExportConcurrency() int      { return f.exportConcurrency }
func (f *fakeScheduler) ActiveTranscribes() int      { return f.activeTranscribes }
func (f *fakeScheduler) TranscribeQueueDepth() int    { return f.transcribeQueueDepth }
func (f *fakeScheduler) TranscribeConcurrency() int   { return f.transcribeConcurrency }
func (f *fakeScheduler) OpenTranscribeJobs() int      { return f.openTranscribeJobs }

func TestCollector_SnapshotReflectsSchedulerCounters(t *testing.T) {
	fs := &fakeScheduler{
		activeExports: 1, exportQueueDepth: 3, exportConcurrency: 2,
		activeTranscribes: 0, transcribeQueueDepth: 5, transcribeConcurrency: 1,
		openTranscribeJobs: 2,
	}
	c := NewCollector(NewMetrics(prometheus.NewRegistry()), fs, 4)

	snap := c.Snapshot()
	require.Equal(t, ExportStats{Active: 1, Queued: 3, MaxConcurrency: 2, FFmpegThreadsPerExport: 4}, snap.Exports)
	require.Equal(t, TranscriptionStats{Active: 0, Queued: 5, MaxConcurrency: 1, OpenJobs: 2}, snap.Transcription)
}

func TestCollector_SnapshotIsRereadableAsCountersChange(t *testing.T) {
	fs := &fakeScheduler{exportQueueDepth: 1}
	c := NewCollector(NewMetrics(prometheus.NewRegistry()), fs, 2)

	first := c.Snapshot()
	require.Equal(t, 1, first.Exports.Queued)

	fs.exportQueueDepth = 0
	fs.activeExports = 1
	second := c.Snapshot()
	require.Equal(t, 0, second.Exports.Queued)
	require.Equal(t, 1, second.Exports.Active)
}
