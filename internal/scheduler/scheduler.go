package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/logx"
)

// ExportHandler runs one ExportJob to completion (or failure), mutating
// it via its Update method as it progresses through spec.md §4.5.8's
// state machine.
type ExportHandler func(ctx context.Context, job *ExportJob)

// TranscribeHandler runs one TranscribeJob to completion, returning any
// error the job ended with so the scheduler can classify it for retry
// (spec.md §4.4.5).
type TranscribeHandler func(ctx context.Context, job *TranscribeJob) error

// Scheduler owns the two bounded FIFO worker pools (export, transcribe)
// spec.md §4.7 describes, the cleanup-TTL job stores, and the
// session→job uniqueness index for transcription. Grounded on the
// teacher's pipeline.Coordinator: one background goroutine per job
// (here, a fixed worker-pool goroutine pulling off a channel instead of
// an unbounded `go` per job, since spec.md §5 requires a hard
// concurrency cap the teacher's coordinator doesn't itself enforce),
// and cenkalti/backoff-style retry scheduling for the session-level
// retry the teacher's ClippingRetryBackoff demonstrates.
type Scheduler struct {
	exportStore     *Store[*ExportJob]
	transcribeStore *Store[*TranscribeJob]

	exportQueue     chan *ExportJob
	transcribeQueue chan *TranscribeJob

	sessionMu    sync.Mutex
	sessionIndex map[string]string // sessionID -> transcribeJob ID

	exportHandler     ExportHandler
	transcribeHandler TranscribeHandler

	transientRetryLimit int
	transientRetryDelay time.Duration

	exportConcurrency     int
	transcribeConcurrency int

	activeExports     int32
	activeTranscribes int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config bundles the scheduler's tunables, all sourced from
// internal/config in cmd/worker's wiring.
type Config struct {
	ExportConcurrency     int
	TranscribeConcurrency int
	JobRetentionTTL       time.Duration
	TransientRetryLimit   int
	TransientRetryDelay   time.Duration
}

// New builds a Scheduler with its job stores and queues, but does not
// start any workers — call Start for that.
func New(cfg Config, exportHandler ExportHandler, transcribeHandler TranscribeHandler) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		exportStore:           NewStore[*ExportJob](cfg.JobRetentionTTL),
		transcribeStore:       NewStore[*TranscribeJob](cfg.JobRetentionTTL),
		exportQueue:           make(chan *ExportJob, 4096),
		transcribeQueue:       make(chan *TranscribeJob, 4096),
		sessionIndex:          make(map[string]string),
		exportHandler:         exportHandler,
		transcribeHandler:     transcribeHandler,
		transientRetryLimit:   cfg.TransientRetryLimit,
		transientRetryDelay:   cfg.TransientRetryDelay,
		exportConcurrency:     cfg.ExportConcurrency,
		transcribeConcurrency: cfg.TranscribeConcurrency,
		ctx:                   ctx,
		cancel:                cancel,
	}
}

// Start launches the bounded worker pools. Workers read off their
// queue's channel in FIFO order and block (queue) while all workers are
// busy, which is exactly the admission bound spec.md §8's "admission
// bounds" and "FIFO start order" testable properties describe.
func (s *Scheduler) Start() {
	for i := 0; i < s.exportConcurrency; i++ {
		s.wg.Add(1)
		go s.exportWorker()
	}
	for i := 0; i < s.transcribeConcurrency; i++ {
		s.wg.Add(1)
		go s.transcribeWorker()
	}
}

// Stop cancels in-flight work and waits for workers to drain.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) exportWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job, ok := <-s.exportQueue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.activeExports, 1)
			s.exportHandler(s.ctx, job)
			atomic.AddInt32(&s.activeExports, -1)
		}
	}
}

func (s *Scheduler) transcribeWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job, ok := <-s.transcribeQueue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.activeTranscribes, 1)
			s.runTranscribeJob(job)
			atomic.AddInt32(&s.activeTranscribes, -1)
		}
	}
}

func (s *Scheduler) runTranscribeJob(job *TranscribeJob) {
	job.Update(func(j *TranscribeJob) { j.Status = StatusProcessing })

	err := s.transcribeHandler(s.ctx, job)
	if err == nil {
		job.Update(func(j *TranscribeJob) {
			j.Status = StatusComplete
			j.Progress = 1
		})
		return
	}

	if isTransientSTTError(err) && job.Snapshot().RetryCount < s.transientRetryLimit {
		s.requeueTranscribeWithBackoff(job)
		return
	}

	job.Update(func(j *TranscribeJob) {
		j.Status = StatusError
		j.Error = err.Error()
	})
}

// requeueTranscribeWithBackoff implements spec.md §4.4.5's job-level
// retry: delay = transientJobRetryDelay * 2^retryCount, capped at 180s.
func (s *Scheduler) requeueTranscribeWithBackoff(job *TranscribeJob) {
	retryCount := job.Snapshot().RetryCount
	delay := time.Duration(float64(s.transientRetryDelay) * math.Pow(2, float64(retryCount)))
	if ceiling := 180 * time.Second; delay > ceiling {
		delay = ceiling
	}

	job.Update(func(j *TranscribeJob) {
		j.RetryCount++
		j.Status = StatusQueued
	})

	logx.Log(job.ID, "transcription job hit a transient error, requeueing with backoff", "retry_count", retryCount+1, "delay", delay.String())

	time.AfterFunc(delay, func() {
		select {
		case s.transcribeQueue <- job:
		case <-s.ctx.Done():
		}
	})
}

func isTransientSTTError(err error) bool {
	var apiErr apierr.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == apierr.TransientSTT
	}
	return false
}

// EnqueueExport creates and queues a new ExportJob for payload.
func (s *Scheduler) EnqueueExport(payload []byte) *ExportJob {
	now := time.Now().UTC()
	job := &ExportJob{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Stage:     "queued",
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.exportStore.Store(job.ID, job)
	s.exportQueue <- job
	return job
}

// GetExport looks up an export job by id.
func (s *Scheduler) GetExport(id string) (*ExportJob, bool) {
	return s.exportStore.Get(id)
}

// EnqueueTranscribe implements spec.md §3's "at most one live
// TranscribeJob per session" invariant: an in-flight job for the same
// session is always returned as-is, and an already-complete job is
// reused only when videoKey and language are unchanged from the prior
// request — a completed job for different input is stale, not a
// duplicate, and must be replaced rather than handed back.
func (s *Scheduler) EnqueueTranscribe(sessionID, videoKey, language string) (*TranscribeJob, bool) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if existingID, ok := s.sessionIndex[sessionID]; ok {
		if existing, ok := s.transcribeStore.Get(existingID); ok {
			snap := existing.Snapshot()
			switch {
			case snap.Status == StatusQueued || snap.Status == StatusProcessing:
				return existing, true
			case snap.Status == StatusComplete && snap.VideoKey == videoKey && snap.Language == language:
				return existing, true
			}
		}
	}

	now := time.Now().UTC()
	job := &TranscribeJob{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		VideoKey:  videoKey,
		Language:  language,
		Status:    StatusQueued,
		Stage:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.transcribeStore.Store(job.ID, job)
	s.sessionIndex[sessionID] = job.ID
	s.transcribeQueue <- job
	return job, false
}

// GetTranscribe looks up a transcribe job by id.
func (s *Scheduler) GetTranscribe(id string) (*TranscribeJob, bool) {
	return s.transcribeStore.Get(id)
}

// GetTranscribeBySession looks up the current (or most recent) transcribe
// job for a session, for /transcribe/status/:sessionId's session-keyed poll.
func (s *Scheduler) GetTranscribeBySession(sessionID string) (*TranscribeJob, bool) {
	s.sessionMu.Lock()
	jobID, ok := s.sessionIndex[sessionID]
	s.sessionMu.Unlock()
	if !ok {
		return nil, false
	}
	return s.transcribeStore.Get(jobID)
}

// ExportQueueDepth and TranscribeQueueDepth feed internal/metrics'
// queue-depth gauges.
func (s *Scheduler) ExportQueueDepth() int     { return len(s.exportQueue) }
func (s *Scheduler) TranscribeQueueDepth() int { return len(s.transcribeQueue) }

// ActiveExports and ActiveTranscribes report how many jobs a worker is
// currently running the handler for, as opposed to merely sitting in
// the channel buffer. Fed by the worker-pool goroutines above.
func (s *Scheduler) ActiveExports() int     { return int(atomic.LoadInt32(&s.activeExports)) }
func (s *Scheduler) ActiveTranscribes() int { return int(atomic.LoadInt32(&s.activeTranscribes)) }

// ExportConcurrency and TranscribeConcurrency report the configured
// worker-pool sizes, for /health's maxConcurrency fields.
func (s *Scheduler) ExportConcurrency() int     { return s.exportConcurrency }
func (s *Scheduler) TranscribeConcurrency() int { return s.transcribeConcurrency }

// OpenTranscribeJobs reports how many sessions currently have a
// transcription job (queued, processing, or a not-yet-cleaned-up
// complete or failed one) tracked under spec.md §3's
// one-live-job-per-session index, for /health's transcription.openJobs
// field. Index entries whose job has expired from the store are dropped
// here first.
func (s *Scheduler) OpenTranscribeJobs() int {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	for sessionID, jobID := range s.sessionIndex {
		if _, ok := s.transcribeStore.Get(jobID); !ok {
			delete(s.sessionIndex, sessionID)
		}
	}
	return len(s.sessionIndex)
}
