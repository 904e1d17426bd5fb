// Package render is the Render Pipeline (spec.md §4.6): per requested
// clip range, extract → face-crop → scale+mux to a vertical 9:16 output
// at a quality-derived height and clamped frame rate. Grounded on
// video/transmux.go's multi-step "extract then remux" shape and the
// teacher's video.MuxTStoFMP4 raw-argv fallback internal/ffmpeg already
// mirrors for ScaleAndMux.
package render

import (
	"context"
	"fmt"
	"math"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/facecrop"
	"github.com/autoclip/worker/internal/ffmpeg"
	"github.com/autoclip/worker/internal/session"
)

// Quality selects the target output height band (spec.md §4.6).
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Config carries the tunables this pipeline needs from internal/config.
type Config struct {
	MaxConcurrency int
	HighMinHeight  int
	MediumMinHeight int
	LowMinHeight   int
	MaxFPS         float64
	MinFPS         float64
}

// TargetHeight maps a quality mode to its minimum output height,
// defaulting to QualityLow's band for an unrecognized or empty mode.
func TargetHeight(quality Quality, cfg Config) int {
	switch quality {
	case QualityHigh:
		return cfg.HighMinHeight
	case QualityMedium:
		return cfg.MediumMinHeight
	default:
		return cfg.LowMinHeight
	}
}

// ClampFPS implements spec.md §4.6's "FPS is min(source fps, configured
// max), clamped to ≥24" rule.
func ClampFPS(sourceFPS float64, cfg Config) float64 {
	fps := sourceFPS
	if fps <= 0 || fps > cfg.MaxFPS {
		fps = cfg.MaxFPS
	}
	if fps < cfg.MinFPS {
		fps = cfg.MinFPS
	}
	return fps
}

// ClipRequest is one requested clip range.
type ClipRequest struct {
	Index int
	Start float64
	End   float64
}

// Validate enforces spec.md §6's render-clip validation rule: end must
// exceed start and both must be finite.
func (c ClipRequest) Validate() error {
	if !isFinite(c.Start) || !isFinite(c.End) || c.End <= c.Start {
		return apierr.APIError{
			Msg:    fmt.Sprintf("Invalid clip range at index %d.", c.Index),
			Status: 400,
			Kind:   apierr.BadRequest,
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Output is one rendered clip's result.
type Output struct {
	Index    int
	ClipPath string
	Filename string
}

// RenderClip runs one clip through extract → face-crop → scale+mux,
// writing the final file under sess's scratch directory.
func RenderClip(ctx context.Context, sess *session.Session, cropper *facecrop.Runner, srcPath string, clip ClipRequest, quality Quality, cropMode facecrop.Mode, sourceFPS float64, cfg Config) (Output, error) {
	if err := clip.Validate(); err != nil {
		return Output{}, err
	}

	extractedPath := sess.ScratchPath(fmt.Sprintf("clip_%d_extracted.mp4", clip.Index))
	if err := ffmpeg.ExtractClip(ctx, srcPath, clip.Start, clip.End, extractedPath); err != nil {
		return Output{}, err
	}

	croppedPath := sess.ScratchPath(fmt.Sprintf("clip_%d_cropped.mp4", clip.Index))
	if err := cropper.Crop(ctx, extractedPath, croppedPath, cropMode); err != nil {
		return Output{}, err
	}

	filename := fmt.Sprintf("clip_%d.mp4", clip.Index)
	finalPath := sess.ScratchPath("clips", filename)
	height := TargetHeight(quality, cfg)
	fps := ClampFPS(sourceFPS, cfg)
	if err := ffmpeg.ScaleAndMux(ctx, croppedPath, extractedPath, finalPath, height, fps); err != nil {
		return Output{}, err
	}

	return Output{Index: clip.Index, ClipPath: finalPath, Filename: filename}, nil
}
