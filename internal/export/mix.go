package export

import (
	"fmt"
	"math"
	"strings"
)

// contributingClip pairs a timeline clip with its resolved settings and
// asset once it's passed the spec.md §3 inclusion rule.
type contributingClip struct {
	clip     Clip
	settings ClipSettings
	asset    Asset
}

// contributingClips filters the timeline per spec.md §3's audio-mix
// inclusion rule: video/audio kind, has a URL, positive (finite)
// duration, not muted, volume>0.
func contributingClips(tl Timeline) []contributingClip {
	assetsByID := make(map[string]Asset, len(tl.Assets))
	for _, a := range tl.Assets {
		assetsByID[a.ID] = a
	}

	var out []contributingClip
	for _, c := range tl.Clips {
		asset, ok := assetsByID[c.AssetID]
		if !ok {
			continue
		}
		if asset.Kind != "video" && asset.Kind != "audio" {
			continue
		}
		if asset.URL == "" {
			continue
		}
		if !isFinitePositive(c.Duration) {
			continue
		}
		settings := tl.ClipSettings[c.ID]
		if settings.Muted {
			continue
		}
		if settings.Volume <= 0 {
			continue
		}
		out = append(out, contributingClip{clip: c, settings: settings, asset: asset})
	}
	return out
}

func isFinitePositive(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}

// MixPlan is the built filter-complex graph plus the ordered input
// files ffmpeg needs alongside it.
type MixPlan struct {
	Inputs         []string
	FilterComplex  string
	MixLabel       string
}

// BuildMixPlan assembles the filter-complex graph described by spec.md
// §4.5.6: per contributing clip, an atrim/atempo/volume/afade/adelay
// chain labeled [aN], summed with amix=inputs=N:normalize=0. Returns
// ok=false when no clip qualifies, per spec.md's "mix step is skipped
// and the final output is video-only".
func BuildMixPlan(tl Timeline, assetLocalPaths map[string]string) (MixPlan, bool) {
	clips := contributingClips(tl)
	if len(clips) == 0 {
		return MixPlan{}, false
	}

	var inputs []string
	var fragments []string
	var labels []string
	for i, cc := range clips {
		path, ok := assetLocalPaths[cc.asset.ID]
		if !ok || path == "" {
			continue
		}
		inputs = append(inputs, path)
		idx := len(inputs) - 1
		label := fmt.Sprintf("a%d", i)
		fragments = append(fragments, buildClipFilter(idx, cc, label))
		labels = append(labels, "["+label+"]")
	}
	if len(inputs) == 0 {
		return MixPlan{}, false
	}

	mixLabel := "[mix]"
	fragments = append(fragments, fmt.Sprintf("%samix=inputs=%d:normalize=0%s", strings.Join(labels, ""), len(labels), mixLabel))

	return MixPlan{
		Inputs:        inputs,
		FilterComplex: strings.Join(fragments, ";"),
		MixLabel:      mixLabel,
	}, true
}

// buildClipFilter builds one clip's atrim/atempo/volume/afade/adelay
// chain (spec.md §4.5.6, steps 1-2).
func buildClipFilter(inputIdx int, cc contributingClip, label string) string {
	speed := cc.settings.Speed
	if speed <= 0 {
		speed = 1
	}

	steps := []string{
		fmt.Sprintf("[%d:a]atrim=start=%s:duration=%s", inputIdx, fmtSeconds(cc.clip.StartOffset), fmtSeconds(cc.clip.Duration*speed)),
		"asetpts=PTS-STARTPTS",
	}
	steps = append(steps, atempoChain(speed)...)

	if math.Abs(cc.settings.Volume-1) > 0.001 {
		steps = append(steps, fmt.Sprintf("volume=%s", fmtSeconds(cc.settings.Volume)))
	}

	if cc.settings.FadeEnabled {
		if cc.settings.FadeIn > 0 {
			steps = append(steps, fmt.Sprintf("afade=t=in:st=0:d=%s", fmtSeconds(cc.settings.FadeIn)))
		}
		if cc.settings.FadeOut > 0 {
			fadeOutStart := cc.clip.Duration - cc.settings.FadeOut
			if fadeOutStart < 0 {
				fadeOutStart = 0
			}
			steps = append(steps, fmt.Sprintf("afade=t=out:st=%s:d=%s", fmtSeconds(fadeOutStart), fmtSeconds(cc.settings.FadeOut)))
		}
	}

	startMs := int64(cc.clip.StartTime * 1000)
	steps = append(steps, fmt.Sprintf("adelay=%d|%d", startMs, startMs))

	return strings.Join(steps, ",") + fmt.Sprintf("[%s]", label)
}

// atempoChain realizes an arbitrary speed factor via ffmpeg's atempo
// filter, which only accepts factors in [0.5, 2.0]: recursively
// halve/double while outside that range, then apply one residual
// factor (spec.md §4.5.6, step 2).
func atempoChain(speed float64) []string {
	if speed <= 0 {
		speed = 1
	}
	var chain []string
	remaining := speed
	for remaining > 2.0 {
		chain = append(chain, "atempo=2.0")
		remaining /= 2.0
	}
	for remaining < 0.5 {
		chain = append(chain, "atempo=0.5")
		remaining /= 0.5
	}
	if math.Abs(remaining-1) > 0.0001 {
		chain = append(chain, fmt.Sprintf("atempo=%s", fmtSeconds(remaining)))
	}
	return chain
}

func fmtSeconds(f float64) string {
	return fmt.Sprintf("%.6f", f)
}
