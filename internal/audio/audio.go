// Package audio is the Audio (Transcription) Pipeline (spec.md §4.4):
// graded-strategy normalized audio extraction, fixed-duration
// segmentation, and a per-segment speech-to-text loop with offset
// accumulation and skip-on-failure semantics. Grounded on the teacher's
// video/segment.go (the segment-muxer call internal/ffmpeg.Segment
// wraps) and pipeline/coordinator.go's sequential per-job coroutine
// shape — this package is the coroutine body the scheduler's
// TranscribeHandler runs.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/ffmpeg"
	"github.com/autoclip/worker/internal/logx"
	"github.com/autoclip/worker/internal/probe"
	"github.com/autoclip/worker/internal/scheduler"
	"github.com/autoclip/worker/internal/stt"
)

// Config carries the tunables this pipeline needs from internal/config.
type Config struct {
	ChunkSeconds    int
	BitrateKbps     int
	ProbeTimeoutSec int
}

// Transcriber is the subset of *stt.Client this package depends on, so
// tests can inject a fake.
type Transcriber interface {
	Transcribe(ctx context.Context, jobID, audioPath, language string) (*stt.Result, error)
}

const (
	minCoverageFraction                  = 0.85
	heavyCorruptionCoverageFraction      = 0.70
	heavyCorruptionMinSourceDurationSecs = 8 * 60
)

// candidate is one graded extraction attempt's outcome.
type candidate struct {
	path     string
	exitOk   bool
	duration float64
	size     int64
}

// ExtractNormalizedAudio implements spec.md §4.4.1: try the implicit
// first-audio map then every explicit audio stream index, score
// non-empty outputs by (exitOk, duration, size), keep the best, and
// reach for additional pan-fallback strategies if coverage is still
// thin. Returns the path to the canonical audio_clean.mp3.
func ExtractNormalizedAudio(ctx context.Context, jobID, srcPath, scratchDir string, info probe.Info, cfg Config) (string, error) {
	mapSpecs := []string{""}
	for _, idx := range info.AudioStreamIndices {
		mapSpecs = append(mapSpecs, fmt.Sprintf("0:%d", idx))
	}

	candidates := extractCandidates(ctx, jobID, srcPath, scratchDir, mapSpecs, "", cfg)
	best := pickBest(candidates)

	sourceDuration := 0.0
	if info.Duration != nil {
		sourceDuration = *info.Duration
	}

	if best == nil || (sourceDuration > 0 && best.duration/sourceDuration < minCoverageFraction) {
		logx.Log(jobID, "primary audio extraction coverage thin, trying pan-fallback strategies", "best_duration", bestDuration(best))
		extra := extractCandidates(ctx, jobID, srcPath, scratchDir, mapSpecs, "pan=mono|c0=0.5*c0+0.5*c1", cfg)
		candidates = append(candidates, extra...)
		if fallback := pickBest(extra); fallback != nil && (best == nil || fallback.duration > best.duration) {
			best = fallback
		}
	}

	if best == nil {
		cleanupCandidates(candidates, "")
		return "", apierr.APIError{Msg: "audio extraction produced no usable candidate", Status: 500, Kind: apierr.DependencyFailure}
	}

	if sourceDuration > heavyCorruptionMinSourceDurationSecs && best.duration/sourceDuration < heavyCorruptionCoverageFraction {
		cleanupCandidates(candidates, "")
		return "", apierr.APIError{Msg: "source audio appears heavily corrupted", Status: 500, Kind: apierr.DependencyFailure}
	}

	cleanPath := filepath.Join(scratchDir, "audio_clean.mp3")
	if err := os.Rename(best.path, cleanPath); err != nil {
		return "", apierr.APIError{Msg: "failed to finalize normalized audio", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	cleanupCandidates(candidates, best.path)

	return cleanPath, nil
}

func bestDuration(c *candidate) float64 {
	if c == nil {
		return 0
	}
	return c.duration
}

func extractCandidates(ctx context.Context, jobID, srcPath, scratchDir string, mapSpecs []string, filter string, cfg Config) []candidate {
	var out []candidate
	for i, mapSpec := range mapSpecs {
		outPath := filepath.Join(scratchDir, fmt.Sprintf("audio_candidate_%s_%d.mp3", sanitizeMapSpec(mapSpec), i))

		var err error
		if filter == "" {
			err = ffmpeg.ExtractAudioCandidate(ctx, srcPath, mapSpec, outPath, cfg.BitrateKbps)
		} else {
			err = ffmpeg.ExtractAudioCandidateFiltered(ctx, srcPath, mapSpec, filter, outPath, cfg.BitrateKbps)
		}
		exitOk := err == nil

		fi, statErr := os.Stat(outPath)
		if statErr != nil || fi.Size() == 0 {
			logx.Log(jobID, "audio extraction candidate produced no output", "map", mapSpec, "err", errString(err))
			continue
		}

		duration := 0.0
		if info, probeErr := probe.Probe(ctx, outPath, probeTimeout(cfg)); probeErr == nil && info.Duration != nil {
			duration = *info.Duration
		}

		out = append(out, candidate{path: outPath, exitOk: exitOk, duration: duration, size: fi.Size()})
	}
	return out
}

func sanitizeMapSpec(mapSpec string) string {
	if mapSpec == "" {
		return "implicit"
	}
	return strings.NewReplacer(":", "_", "?", "").Replace(mapSpec)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// pickBest applies spec.md §4.4.1's scoring: exitOk beats not, among
// equals longer duration wins by a margin >1s, otherwise larger size
// wins.
func pickBest(candidates []candidate) *candidate {
	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if best == nil || better(*c, *best) {
			best = c
		}
	}
	return best
}

func better(a, b candidate) bool {
	if a.exitOk != b.exitOk {
		return a.exitOk
	}
	if a.duration-b.duration > 1 {
		return true
	}
	if b.duration-a.duration > 1 {
		return false
	}
	return a.size > b.size
}

func cleanupCandidates(candidates []candidate, keep string) {
	for _, c := range candidates {
		if c.path == keep {
			continue
		}
		_ = os.Remove(c.path)
	}
}

func probeTimeout(cfg Config) time.Duration {
	if cfg.ProbeTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.ProbeTimeoutSec) * time.Second
}

// SegmentNormalizedAudio splits audio_clean.mp3 into fixed-duration,
// lexicographically-sortable segments (spec.md §4.4.2). Fails if
// segmentation produces zero files.
func SegmentNormalizedAudio(ctx context.Context, cleanPath, scratchDir string, chunkSeconds int) ([]string, error) {
	pattern := filepath.Join(scratchDir, "segments", "seg_%06d.mp3")
	if err := os.MkdirAll(filepath.Dir(pattern), 0o755); err != nil {
		return nil, apierr.APIError{Msg: "failed to create segment directory", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	if err := ffmpeg.Segment(ctx, cleanPath, pattern, chunkSeconds); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Dir(pattern))
	if err != nil {
		return nil, apierr.APIError{Msg: "failed to list audio segments", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	var segments []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		segments = append(segments, filepath.Join(filepath.Dir(pattern), e.Name()))
	}
	sort.Strings(segments)

	if len(segments) == 0 {
		return nil, apierr.APIError{Msg: "audio segmentation produced zero files", Status: 500, Kind: apierr.DependencyFailure}
	}
	return segments, nil
}

// SegmentInput pairs a segment path with its probed duration, so the
// measurement step (real ffprobe I/O) is separated from the pure
// offset-accumulation loop below for testability.
type SegmentInput struct {
	Path     string
	Duration float64
}

// MeasureSegmentDurations probes each segment path for its duration,
// per spec.md §4.4.3's "compute the segment's duration via the probe"
// step. A segment whose duration can't be determined measures as 0,
// matching probe.Info's "missing fields yield null, never exceptions"
// rule.
func MeasureSegmentDurations(ctx context.Context, segments []string, cfg Config) []SegmentInput {
	inputs := make([]SegmentInput, len(segments))
	for i, path := range segments {
		duration := 0.0
		if info, err := probe.Probe(ctx, path, probeTimeout(cfg)); err == nil && info.Duration != nil {
			duration = *info.Duration
		}
		inputs[i] = SegmentInput{Path: path, Duration: duration}
	}
	return inputs
}

// TranscribeSegments runs spec.md §4.4.3/§4.4.4's per-segment STT loop
// with offset accumulation: each segment is transcribed in order, and a
// successful segment's timestamps are translated by the running offset
// before being appended. The offset advances by every segment's
// measured duration, whether or not that segment succeeds. A failed
// segment is skipped (nothing is appended for it), except that a
// connection-class failure on a segment with no prior success fails
// the whole job fast so the scheduler's job-level retry can restart
// cleanly.
func TranscribeSegments(ctx context.Context, jobID string, client Transcriber, segments []SegmentInput, language string, onProgress func(completed, total int)) (*scheduler.Transcript, error) {
	merged := &scheduler.Transcript{}
	offsetSeconds := 0.0
	succeededAny := false

	for i, seg := range segments {
		result, err := client.Transcribe(ctx, jobID, seg.Path, language)
		if err != nil {
			if !succeededAny && isConnectionClassError(err) {
				return nil, err
			}
			logx.LogError(jobID, "skipping transcription segment after failure", err, "segment", seg.Path, "index", i)
			offsetSeconds += seg.Duration
			if onProgress != nil {
				onProgress(i+1, len(segments))
			}
			continue
		}

		succeededAny = true
		appendResult(merged, result, offsetSeconds)
		offsetSeconds += seg.Duration
		if onProgress != nil {
			onProgress(i+1, len(segments))
		}
	}

	if !succeededAny {
		return nil, apierr.APIError{Msg: "all transcription segments failed", Status: 500, Kind: apierr.FatalSTT}
	}
	return merged, nil
}

func appendResult(merged *scheduler.Transcript, result *stt.Result, offsetSeconds float64) {
	if merged.Language == "" && result.Language != "" {
		merged.Language = result.Language
	}
	if result.Text != "" {
		if merged.Text == "" {
			merged.Text = result.Text
		} else {
			merged.Text = merged.Text + " " + result.Text
		}
	}
	for _, s := range result.Segments {
		merged.Segments = append(merged.Segments, scheduler.Segment{
			Start: s.Start + offsetSeconds,
			End:   s.End + offsetSeconds,
			Text:  s.Text,
		})
	}
	for _, w := range result.Words {
		merged.Words = append(merged.Words, scheduler.Word{
			Start: w.Start + offsetSeconds,
			End:   w.End + offsetSeconds,
			Word:  w.Word,
		})
	}
}

func isConnectionClassError(err error) bool {
	var apiErr apierr.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Kind == apierr.TransientSTT
}

// Run drives the full pipeline — extract, segment, measure, transcribe
// — against an already-local source file, shared by both the
// synchronous /transcribe RPC and the scheduler's async
// TranscribeHandler so the two entry points never diverge in behavior.
func Run(ctx context.Context, jobID, srcPath, scratchDir string, client Transcriber, language string, cfg Config, probeTimeoutDuration time.Duration, onProgress func(completed, total int)) (*scheduler.Transcript, error) {
	info, err := probe.Probe(ctx, srcPath, probeTimeoutDuration)
	if err != nil {
		return nil, err
	}

	cleanPath, err := ExtractNormalizedAudio(ctx, jobID, srcPath, scratchDir, info, cfg)
	if err != nil {
		return nil, err
	}

	segments, err := SegmentNormalizedAudio(ctx, cleanPath, scratchDir, cfg.ChunkSeconds)
	if err != nil {
		return nil, err
	}

	inputs := MeasureSegmentDurations(ctx, segments, cfg)
	return TranscribeSegments(ctx, jobID, client, inputs, language, onProgress)
}
