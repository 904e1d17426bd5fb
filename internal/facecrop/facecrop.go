// Package facecrop invokes the Python face-crop helper (spec.md §4.6)
// as a child process, an argv-level contract exactly like the teacher's
// treatment of its own external Mist binaries: spawn, wait, and surface
// a non-zero exit (or spawn failure) as a DependencyFailure carrying the
// tailed stderr.
package facecrop

import (
	"context"
	"time"

	"github.com/autoclip/worker/internal/procrunner"
)

// Mode selects the helper's crop strategy: "face" tracks the most
// prominent detected face, "center" falls back to a static center crop.
type Mode string

const (
	ModeFace   Mode = "face"
	ModeCenter Mode = "center"
)

// Runner invokes the face-crop helper script.
type Runner struct {
	ScriptPath     string
	PythonBin      string
	InvokeTimeout time.Duration
}

func New(scriptPath, pythonBin string, timeout time.Duration) *Runner {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &Runner{ScriptPath: scriptPath, PythonBin: pythonBin, InvokeTimeout: timeout}
}

// Crop runs the helper against inputPath, writing the cropped result to
// outputPath. argv is [scriptPath, inputPath, outputPath, mode] per
// spec.md §4.6's argv-level contract.
func (r *Runner) Crop(ctx context.Context, inputPath, outputPath string, mode Mode) error {
	argv := []string{r.ScriptPath, inputPath, outputPath, string(mode)}

	var err error
	if r.InvokeTimeout > 0 {
		_, err = procrunner.SpawnWithTimeout(ctx, "facecrop", r.PythonBin, argv, r.InvokeTimeout)
	} else {
		_, err = procrunner.Spawn(ctx, "facecrop", r.PythonBin, argv)
	}
	return err
}
