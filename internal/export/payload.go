// Package export is the Editor Export Pipeline (spec.md §4.5): shared
// browser → injected-payload page → frame loop into a streaming
// encoder → independent audio mix → mux → upload, with the state
// machine and progress bands spec.md §4.5.8 defines. Grounded on
// video/transmux.go's multi-step pipeline shape and the teacher's
// request-validation style in requests/ for the dynamic, loosely-typed
// payload this pipeline consumes.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/autoclip/worker/internal/apierr"
)

// Dimensions is a width/height pair, always rounded down to an even
// integer per spec.md §4.5.2.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Asset is one timeline asset (spec.md §3's TimelineSnapshot).
type Asset struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// Clip is one timeline clip referencing an asset.
type Clip struct {
	ID          string  `json:"id"`
	AssetID     string  `json:"assetId"`
	StartTime   float64 `json:"startTime"`
	StartOffset float64 `json:"startOffset"`
	Duration    float64 `json:"duration"`
}

// ClipSettings is the side table keyed by clip id (spec.md §3).
type ClipSettings struct {
	Muted       bool    `json:"muted"`
	Volume      float64 `json:"volume"`
	Speed       float64 `json:"speed"`
	FadeEnabled bool    `json:"fadeEnabled"`
	FadeIn      float64 `json:"fadeIn"`
	FadeOut     float64 `json:"fadeOut"`
}

// Timeline is the editor state the payload carries (spec.md §3).
type Timeline struct {
	Assets       []Asset                 `json:"assets"`
	Clips        []Clip                  `json:"clips"`
	ClipSettings map[string]ClipSettings `json:"clipSettings"`
}

// Payload is the full editor-export request body (spec.md §3's
// ExportJob.payload: editor state, output dims, optional preview dims,
// fps, duration, fonts, render URL).
type Payload struct {
	Output   Dimensions  `json:"output"`
	Preview  *Dimensions `json:"preview"`
	FPS      float64     `json:"fps"`
	Duration float64     `json:"duration"`
	Fonts    []string    `json:"fonts"`
	Name     string      `json:"name"`
	RenderURL string     `json:"renderUrl"`
	Timeline Timeline    `json:"timeline"`
}

// ParsePayload decodes and validates the dynamic RPC payload (spec.md
// §9: "requests are loosely typed at arrival; the core must validate
// defensively and reject on any missing/ill-typed field with
// BAD_REQUEST... never infer" for required fields).
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, apierr.APIError{Msg: "export payload is not valid JSON", Status: 400, Kind: apierr.BadRequest, Err: err}
	}
	if p.Output.Width <= 0 || p.Output.Height <= 0 {
		return Payload{}, apierr.APIError{Msg: "export payload is missing a valid output size", Status: 400, Kind: apierr.BadRequest}
	}
	if p.FPS <= 0 {
		return Payload{}, apierr.APIError{Msg: "export payload is missing a valid fps", Status: 400, Kind: apierr.BadRequest}
	}
	if p.Duration <= 0 {
		return Payload{}, apierr.APIError{Msg: "export payload is missing a valid duration", Status: 400, Kind: apierr.BadRequest}
	}
	if p.Preview != nil && (p.Preview.Width <= 0 || p.Preview.Height <= 0) {
		return Payload{}, apierr.APIError{Msg: "export payload's preview size is invalid", Status: 400, Kind: apierr.BadRequest}
	}
	p.Output.Width, p.Output.Height = evenDown(p.Output.Width), evenDown(p.Output.Height)
	if p.Preview != nil {
		p.Preview.Width, p.Preview.Height = evenDown(p.Preview.Width), evenDown(p.Preview.Height)
	}
	return p, nil
}

func evenDown(v int) int {
	if v%2 != 0 {
		return v - 1
	}
	return v
}

// FramesTotal implements spec.md §4.5.4's framesTotal = ceil(duration*fps).
func (p Payload) FramesTotal() int {
	return int(ceilFloat(p.Duration * p.FPS))
}

func ceilFloat(f float64) float64 {
	i := float64(int64(f))
	if f > i {
		return i + 1
	}
	return i
}

func (p Payload) String() string {
	return fmt.Sprintf("export payload %dx%d @%.2ffps, %.2fs", p.Output.Width, p.Output.Height, p.FPS, p.Duration)
}
