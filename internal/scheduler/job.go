// Package scheduler is the Job Scheduler (spec.md §4.7): two bounded
// FIFO worker pools (export, transcribe), the per-job state machines
// spec.md §3 defines, a session→job uniqueness index for transcription,
// and transient-error requeue with backoff. Grounded on the teacher's
// pipeline.Coordinator/JobInfo (mutex-guarded per-job state, a
// background goroutine per job, a generic id→job cache) and
// cache.Cache[T] (the generic in-memory store this package's Store
// wraps with TTL expiry via patrickmn/go-cache instead of a bare map,
// since spec.md §3 requires terminal jobs to be retained for a cleanup
// TTL rather than forever).
package scheduler

import (
	"encoding/json"
	"sync"
	"time"
)

// Status is the lifecycle state shared by ExportJob and TranscribeJob
// (spec.md §3/§4.5.8). Not every status applies to every job kind:
// TranscribeJob only ever visits Queued/Processing/Complete/Error.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusLoading    Status = "loading"
	StatusRendering  Status = "rendering"
	StatusEncoding   Status = "encoding"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Segment is one transcript segment: start < end, non-empty text
// (spec.md §3's Transcript type).
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Word is one transcript word, same start<end/non-empty-text shape as
// Segment.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// Transcript is the merged, offset-accumulated transcription result.
type Transcript struct {
	Segments []Segment `json:"segments"`
	Words    []Word    `json:"words"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
}

// ExportJob is spec.md §3's ExportJob: identifier, status/stage/progress,
// frame counters, an opaque editor-export payload, and a download URL
// once complete. Mutated only by the scheduler's worker task for this
// job — the mutex exists solely to let RPC status polls read a
// consistent snapshot concurrently with that mutation.
type ExportJob struct {
	mu sync.Mutex

	ID             string
	Status         Status
	Stage          string
	Progress       float64
	FramesTotal    int
	FramesRendered int
	Payload        json.RawMessage
	DownloadURL    string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot returns a copy of the job's externally-visible fields for
// safe concurrent reading (RPC status polls) while the worker task
// continues to mutate the live job.
func (j *ExportJob) Snapshot() ExportJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ExportJob{
		ID:             j.ID,
		Status:         j.Status,
		Stage:          j.Stage,
		Progress:       j.Progress,
		FramesTotal:    j.FramesTotal,
		FramesRendered: j.FramesRendered,
		Payload:        j.Payload,
		DownloadURL:    j.DownloadURL,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

// Update applies fn under the job's lock and bumps UpdatedAt. Progress
// is clamped to be monotonic non-decreasing per spec.md §3's invariant.
func (j *ExportJob) Update(fn func(j *ExportJob)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	prevProgress := j.Progress
	fn(j)
	if j.Progress < prevProgress {
		j.Progress = prevProgress
	}
	j.UpdatedAt = time.Now().UTC()
}

// TranscribeJob is spec.md §3's TranscribeJob: identifier + sessionId
// (at most one live job per session), videoKey/language, the same
// status/stage/progress fields, chunk counters, a retry counter, and
// the merged transcript result once complete.
type TranscribeJob struct {
	mu sync.Mutex

	ID              string
	SessionID       string
	VideoKey        string
	Language        string
	Status          Status
	Stage           string
	Progress        float64
	TotalChunks     int
	CompletedChunks int
	RetryCount      int
	Result          *Transcript
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (j *TranscribeJob) Snapshot() TranscribeJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return TranscribeJob{
		ID:              j.ID,
		SessionID:       j.SessionID,
		VideoKey:        j.VideoKey,
		Language:        j.Language,
		Status:          j.Status,
		Stage:           j.Stage,
		Progress:        j.Progress,
		TotalChunks:     j.TotalChunks,
		CompletedChunks: j.CompletedChunks,
		RetryCount:      j.RetryCount,
		Result:          j.Result,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func (j *TranscribeJob) Update(fn func(j *TranscribeJob)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	prevProgress := j.Progress
	fn(j)
	if j.Progress < prevProgress {
		j.Progress = prevProgress
	}
	j.UpdatedAt = time.Now().UTC()
}

// IsLive reports whether the job is still queued or processing — the
// predicate behind spec.md §3's "at most one live TranscribeJob per
// session" invariant.
func (j *TranscribeJob) IsLive() bool {
	s := j.Snapshot()
	return s.Status == StatusQueued || s.Status == StatusProcessing
}
