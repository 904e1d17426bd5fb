package export

import "math"

// RenderMode is the two viewport strategies spec.md §4.5.2 defines.
type RenderMode string

const (
	ModeDeviceScale RenderMode = "device"
	ModeCSS         RenderMode = "css"
)

// PlannedViewport is the resolved browser-context size plus whatever
// the encoder needs to know to reconcile it with the requested output.
type PlannedViewport struct {
	Mode              RenderMode
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
}

// PlanViewport chooses device-scale vs css per spec.md §4.5.2:
// device-scale only applies when preview fits within output in both
// axes and the x/y scale factors agree to within the configured
// tolerance; css is the default otherwise, with the encoder applying a
// scale filter if the viewport differs from the output.
func PlanViewport(output Dimensions, preview *Dimensions, configuredMode RenderMode, toleranceFraction float64) PlannedViewport {
	if configuredMode == ModeDeviceScale && preview != nil &&
		preview.Width <= output.Width && preview.Height <= output.Height {
		scaleX := float64(output.Width) / float64(preview.Width)
		scaleY := float64(output.Height) / float64(preview.Height)
		if scalesAgree(scaleX, scaleY, toleranceFraction) {
			return PlannedViewport{
				Mode:              ModeDeviceScale,
				ViewportWidth:     preview.Width,
				ViewportHeight:    preview.Height,
				DeviceScaleFactor: scaleX,
			}
		}
	}
	return PlannedViewport{
		Mode:              ModeCSS,
		ViewportWidth:      output.Width,
		ViewportHeight:     output.Height,
		DeviceScaleFactor:  1,
	}
}

func scalesAgree(scaleX, scaleY, toleranceFraction float64) bool {
	if scaleX == 0 || scaleY == 0 {
		return false
	}
	diff := math.Abs(scaleX-scaleY) / math.Max(scaleX, scaleY)
	return diff <= toleranceFraction
}
