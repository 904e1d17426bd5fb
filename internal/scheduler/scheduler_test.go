package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoclip/worker/internal/apierr"
)

func testConfig() Config {
	return Config{
		ExportConcurrency:     2,
		TranscribeConcurrency: 2,
		JobRetentionTTL:       time.Minute,
		TransientRetryLimit:   3,
		TransientRetryDelay:   5 * time.Millisecond,
	}
}

func TestEnqueueExport_RunsThroughHandler(t *testing.T) {
	done := make(chan struct{})
	s := New(testConfig(), func(ctx context.Context, job *ExportJob) {
		job.Update(func(j *ExportJob) {
			j.Status = StatusComplete
			j.Progress = 1
		})
		close(done)
	}, nil)
	s.Start()
	defer s.Stop()

	job := s.EnqueueExport([]byte(`{}`))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("export handler never ran")
	}

	got, ok := s.GetExport(job.ID)
	require.True(t, ok)
	require.Equal(t, StatusComplete, got.Snapshot().Status)
}

func TestExportAdmission_BoundsConcurrency(t *testing.T) {
	var active int32
	var maxActive int32
	release := make(chan struct{})

	cfg := testConfig()
	cfg.ExportConcurrency = 2

	s := New(cfg, func(ctx context.Context, job *ExportJob) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
	}, nil)
	s.Start()
	defer s.Stop()

	for i := 0; i < 5; i++ {
		s.EnqueueExport([]byte(`{}`))
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	time.Sleep(50 * time.Millisecond)

	require.LessOrEqual(t, int(atomic.LoadInt32(&maxActive)), 2)
}

func TestEnqueueTranscribe_DedupesLiveSession(t *testing.T) {
	block := make(chan struct{})
	s := New(testConfig(), nil, func(ctx context.Context, job *TranscribeJob) error {
		<-block
		return nil
	})
	s.Start()
	defer func() { close(block); s.Stop() }()

	first, existed1 := s.EnqueueTranscribe("session-1", "video.mp4", "en")
	require.False(t, existed1)

	second, existed2 := s.EnqueueTranscribe("session-1", "video.mp4", "en")
	require.True(t, existed2)
	require.Equal(t, first.ID, second.ID)
}

func TestEnqueueTranscribe_NewSessionIsIndependent(t *testing.T) {
	block := make(chan struct{})
	s := New(testConfig(), nil, func(ctx context.Context, job *TranscribeJob) error {
		<-block
		return nil
	})
	s.Start()
	defer func() { close(block); s.Stop() }()

	a, _ := s.EnqueueTranscribe("session-a", "video.mp4", "en")
	b, _ := s.EnqueueTranscribe("session-b", "video.mp4", "en")
	require.NotEqual(t, a.ID, b.ID)
}

func TestEnqueueTranscribe_CompleteJobReusedOnlyForSameInput(t *testing.T) {
	s := New(testConfig(), nil, func(ctx context.Context, job *TranscribeJob) error {
		return nil
	})
	s.Start()
	defer s.Stop()

	first, existed1 := s.EnqueueTranscribe("session-1", "video.mp4", "en")
	require.False(t, existed1)
	require.Eventually(t, func() bool {
		return first.Snapshot().Status == StatusComplete
	}, time.Second, 10*time.Millisecond)

	// Same videoKey/language as the completed job: reused.
	second, existed2 := s.EnqueueTranscribe("session-1", "video.mp4", "en")
	require.True(t, existed2)
	require.Equal(t, first.ID, second.ID)

	// Different videoKey: the completed job is stale for this input, a
	// fresh job must be created instead of replaying the old transcript.
	third, existed3 := s.EnqueueTranscribe("session-1", "video2.mp4", "en")
	require.False(t, existed3)
	require.NotEqual(t, first.ID, third.ID)
	require.Equal(t, "video2.mp4", third.Snapshot().VideoKey)

	// Different language against that new job: stale again, another
	// fresh job.
	require.Eventually(t, func() bool {
		return third.Snapshot().Status == StatusComplete
	}, time.Second, 10*time.Millisecond)

	fourth, existed4 := s.EnqueueTranscribe("session-1", "video2.mp4", "fr")
	require.False(t, existed4)
	require.NotEqual(t, third.ID, fourth.ID)
	require.Equal(t, "fr", fourth.Snapshot().Language)
}

func TestTranscribeJob_TransientErrorRetriesThenSucceeds(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var seenRetryCounts []int

	s := New(testConfig(), nil, func(ctx context.Context, job *TranscribeJob) error {
		mu.Lock()
		seenRetryCounts = append(seenRetryCounts, job.Snapshot().RetryCount)
		mu.Unlock()

		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return apierr.APIError{Msg: "fetch failed", Status: 502, Kind: apierr.TransientSTT}
		}
		return nil
	})
	s.Start()
	defer s.Stop()

	job, _ := s.EnqueueTranscribe("session-1", "video.mp4", "en")

	require.Eventually(t, func() bool {
		return job.Snapshot().Status == StatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTranscribeJob_NonTransientErrorFailsImmediately(t *testing.T) {
	s := New(testConfig(), nil, func(ctx context.Context, job *TranscribeJob) error {
		return apierr.APIError{Msg: "bad request", Status: 400, Kind: apierr.FatalSTT}
	})
	s.Start()
	defer s.Stop()

	job, _ := s.EnqueueTranscribe("session-1", "video.mp4", "en")

	require.Eventually(t, func() bool {
		return job.Snapshot().Status == StatusError
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 0, job.Snapshot().RetryCount)
}

func TestExportJob_ProgressNeverDecreases(t *testing.T) {
	job := &ExportJob{ID: "j1", Status: StatusRendering}
	job.Update(func(j *ExportJob) { j.Progress = 0.5 })
	job.Update(func(j *ExportJob) { j.Progress = 0.2 })
	require.Equal(t, 0.5, job.Snapshot().Progress)
}
