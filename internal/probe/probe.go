// Package probe is the Media Probe component (spec.md §4.3): it invokes
// ffprobe via gopkg.in/vansante/go-ffprobe.v2 and re-derives the fields
// spec.md needs with its own, more permissive parsing rules, since the
// library's own convenience accessors don't tolerate the same breadth of
// malformed/missing values the spec requires ("missing fields yield
// null, never exceptions").
package probe

import (
	"context"
	"strconv"
	"strings"
	"time"

	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/autoclip/worker/internal/apierr"
)

// Info is the normalized probe result spec.md §4.3 describes.
type Info struct {
	Duration           *float64
	FrameRate          *float64
	Width              *int
	Height             *int
	AudioStreamIndices []int
	FirstAudioStream   *int
}

// Probe runs ffprobe against localPath under the given deadline.
func Probe(ctx context.Context, localPath string, timeout time.Duration) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := ffprobe.ProbeURL(ctx, localPath)
	if err != nil {
		return Info{}, apierr.APIError{
			Msg:    "probe: PROBE_FAILED",
			Status: 500,
			Kind:   apierr.DependencyFailure,
			Err:    err,
		}
	}

	info := Info{}

	if data.Format != nil {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil && d > 0 {
			info.Duration = &d
		}
	}

	var audioIdx []int
	for _, s := range data.Streams {
		if s == nil {
			continue
		}
		if strings.EqualFold(s.CodecType, "audio") {
			audioIdx = append(audioIdx, s.Index)
		}
		if strings.EqualFold(s.CodecType, "video") && info.Width == nil {
			w, h := s.Width, s.Height
			if w > 0 && h > 0 {
				info.Width = &w
				info.Height = &h
			}
			if fr := parseRational(s.AvgFrameRate); fr != nil {
				info.FrameRate = fr
			} else if fr := parseRational(s.RFrameRate); fr != nil {
				info.FrameRate = fr
			}
		}
	}

	audioIdx = uniqueAscending(audioIdx)
	info.AudioStreamIndices = audioIdx
	if len(audioIdx) > 0 {
		first := audioIdx[0]
		info.FirstAudioStream = &first
	}

	return info, nil
}

// parseRational parses ffprobe's "N/D" rational frame-rate form,
// accepting a bare integer/float too. Returns nil (not an error) on
// anything unparseable, per spec.md §4.3.
func parseRational(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "0/0" {
		return nil
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil || den == 0 {
			return nil
		}
		v := num / den
		return &v
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func uniqueAscending(idx []int) []int {
	seen := make(map[int]struct{}, len(idx))
	out := idx[:0:0]
	for _, i := range idx {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
