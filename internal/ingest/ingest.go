// Package ingest is the remote-download half of spec.md §6's ingest
// surface (`POST /youtube`): it invokes an external downloader binary
// as a child process, an argv-level contract exactly like
// internal/facecrop's treatment of its own Python helper — spawn, wait,
// surface a non-zero exit as a DependencyFailure carrying the tailed
// stderr.
package ingest

import (
	"context"
	"time"

	"github.com/autoclip/worker/internal/procrunner"
)

// Downloader invokes an external yt-dlp-compatible binary to fetch a
// remote URL to a local path.
type Downloader struct {
	BinPath       string
	InvokeTimeout time.Duration
}

func New(binPath string, timeout time.Duration) *Downloader {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &Downloader{BinPath: binPath, InvokeTimeout: timeout}
}

// Download fetches url to destPath, requesting a single progressive
// mp4-compatible format so the result is directly probeable/renderable
// without a client-side remux step.
func (d *Downloader) Download(ctx context.Context, url, destPath string) error {
	argv := []string{
		"-f", "best[ext=mp4]/best",
		"-o", destPath,
		"--no-playlist",
		url,
	}

	var err error
	if d.InvokeTimeout > 0 {
		_, err = procrunner.SpawnWithTimeout(ctx, "ingest", d.BinPath, argv, d.InvokeTimeout)
	} else {
		_, err = procrunner.Spawn(ctx, "ingest", d.BinPath, argv)
	}
	return err
}
