// Package session partitions scratch and object-store paths per
// spec.md §3's Session type: a short opaque id created on ingest,
// consumed by transcribe/render/preview/metadata, and destroyed by
// cleanup, with no consistency guaranteed across restarts. Grounded on
// the teacher's per-request scratch directories in transcode/transcode.go
// (os.MkdirTemp + deferred os.RemoveAll), generalized to a named type
// instead of an ad hoc local variable.
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/autoclip/worker/internal/apierr"
)

// Session partitions one caller's scratch directory and object-store
// key prefix from every other session's.
type Session struct {
	ID        string
	ScratchDir string
}

// New mints a fresh session id and its scratch directory under root.
func New(root string) (*Session, error) {
	return Open(root, uuid.NewString())
}

// Open rebuilds a Session for a caller-supplied id, e.g. an RPC handler
// given a sessionId from an earlier /upload response. No consistency
// with a prior process's scratch directory is assumed (spec.md §3: "no
// consistency across restarts") — callers that need the source video
// present re-download it by videoKey rather than trusting this
// directory to already be populated.
func Open(root, id string) (*Session, error) {
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierr.APIError{Msg: "failed to create session scratch directory", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	return &Session{ID: id, ScratchDir: dir}, nil
}

// ScratchPath joins parts onto the session's scratch directory.
func (s *Session) ScratchPath(parts ...string) string {
	return filepath.Join(append([]string{s.ScratchDir}, parts...)...)
}

// ObjectPrefix is the object-store key prefix this session's uploads
// and downloads live under, e.g. "sessions/<id>/".
func (s *Session) ObjectPrefix() string {
	return ObjectPrefixFor(s.ID)
}

// ObjectPrefixFor computes a session's object-store key prefix without
// requiring a live Session (and its scratch directory) to exist, for
// handlers like /cleanup that only need to address storage.
func ObjectPrefixFor(id string) string {
	return fmt.Sprintf("sessions/%s/", id)
}

// JobObjectPrefix partitions an export job's artifacts by job id
// instead of session id, per spec.md §3's "Object-store paths are
// partitioned by session or by export-job id" ownership rule.
func JobObjectPrefix(jobID string) string {
	return fmt.Sprintf("exports/%s/", jobID)
}

// Cleanup best-effort removes the session's scratch directory. Errors
// are swallowed (logged by the caller if it cares) since cleanup runs
// on every exit path, including after a failure that may have already
// left the directory partially torn down.
func (s *Session) Cleanup() {
	_ = os.RemoveAll(s.ScratchDir)
}
