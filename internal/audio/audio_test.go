package audio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/stt"
)

type fakeTranscriber struct {
	results []*stt.Result
	errs    []error
	calls   int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, jobID, audioPath, language string) (*stt.Result, error) {
	i := f.calls
	f.calls++
	var result *stt.Result
	var err error
	if i < len(f.results) {
		result = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return result, err
}

func TestPickBest_PrefersCleanExitOverDirtyExit(t *testing.T) {
	candidates := []candidate{
		{path: "dirty", exitOk: false, duration: 100, size: 900},
		{path: "clean", exitOk: true, duration: 50, size: 100},
	}
	best := pickBest(candidates)
	require.Equal(t, "clean", best.path)
}

func TestPickBest_LongerDurationWinsByMarginAmongEquals(t *testing.T) {
	candidates := []candidate{
		{path: "short", exitOk: true, duration: 10, size: 1000},
		{path: "long", exitOk: true, duration: 12.5, size: 10},
	}
	best := pickBest(candidates)
	require.Equal(t, "long", best.path)
}

func TestPickBest_FallsBackToSizeWithinMargin(t *testing.T) {
	candidates := []candidate{
		{path: "small", exitOk: true, duration: 10.2, size: 10},
		{path: "big", exitOk: true, duration: 10.5, size: 1000},
	}
	best := pickBest(candidates)
	require.Equal(t, "big", best.path)
}

func TestTranscribeSegments_OffsetAccumulatesAcrossSegments(t *testing.T) {
	segments := []SegmentInput{
		{Path: "seg0", Duration: 60},
		{Path: "seg1", Duration: 60},
		{Path: "seg2", Duration: 60},
	}
	client := &fakeTranscriber{
		results: []*stt.Result{
			{Text: "a", Language: "en", Segments: []stt.Segment{{Start: 0, End: 5, Text: "a"}}},
			{Text: "b", Language: "en", Segments: []stt.Segment{{Start: 0, End: 5, Text: "b"}}},
			{Text: "c", Language: "en", Segments: []stt.Segment{{Start: 0, End: 5, Text: "c"}}},
		},
	}

	transcript, err := TranscribeSegments(context.Background(), "job-1", client, segments, "en", nil)
	require.NoError(t, err)
	require.Len(t, transcript.Segments, 3)
	require.Equal(t, 120.0, transcript.Segments[2].Start)
	require.Equal(t, 125.0, transcript.Segments[2].End)
	require.Equal(t, "a b c", transcript.Text)
}

func TestTranscribeSegments_SkipsMiddleFailureButAdvancesOffset(t *testing.T) {
	segments := []SegmentInput{
		{Path: "seg0", Duration: 60},
		{Path: "seg1", Duration: 60},
		{Path: "seg2", Duration: 60},
	}
	client := &fakeTranscriber{
		results: []*stt.Result{
			{Text: "a", Segments: []stt.Segment{{Start: 0, End: 5, Text: "a"}}},
			nil,
			{Text: "c", Segments: []stt.Segment{{Start: 0, End: 5, Text: "c"}}},
		},
		errs: []error{
			nil,
			apierr.APIError{Msg: "bad request", Status: 400, Kind: apierr.FatalSTT},
			nil,
		},
	}

	transcript, err := TranscribeSegments(context.Background(), "job-1", client, segments, "en", nil)
	require.NoError(t, err)
	require.Len(t, transcript.Segments, 2)
	require.Equal(t, 120.0, transcript.Segments[1].Start)
	require.Equal(t, "a c", transcript.Text)
}

func TestTranscribeSegments_FailsFastOnFirstSegmentConnectionError(t *testing.T) {
	segments := []SegmentInput{
		{Path: "seg0", Duration: 60},
		{Path: "seg1", Duration: 60},
	}
	client := &fakeTranscriber{
		errs: []error{
			apierr.APIError{Msg: "fetch failed", Status: 0, Kind: apierr.TransientSTT},
		},
	}

	_, err := TranscribeSegments(context.Background(), "job-1", client, segments, "en", nil)
	require.Error(t, err)
	require.Equal(t, 1, client.calls)
}

func TestTranscribeSegments_AllFailuresReturnsFatalError(t *testing.T) {
	segments := []SegmentInput{
		{Path: "seg0", Duration: 60},
	}
	client := &fakeTranscriber{
		errs: []error{
			apierr.APIError{Msg: "invalid request", Status: 400, Kind: apierr.FatalSTT},
		},
	}

	_, err := TranscribeSegments(context.Background(), "job-1", client, segments, "en", nil)
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.FatalSTT, apiErr.Kind)
}
