package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_CreatesScratchDirectory(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	info, err := os.Stat(s.ScratchDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNew_UniqueAcrossCalls(t *testing.T) {
	root := t.TempDir()
	a, err := New(root)
	require.NoError(t, err)
	b, err := New(root)
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.NotEqual(t, a.ScratchDir, b.ScratchDir)
}

func TestScratchPath_JoinsUnderScratchDir(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	got := s.ScratchPath("audio", "segment_0001.mp3")
	require.Contains(t, got, s.ScratchDir)
	require.Contains(t, got, "segment_0001.mp3")
}

func TestCleanup_RemovesScratchDir(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	s.Cleanup()

	_, err = os.Stat(s.ScratchDir)
	require.True(t, os.IsNotExist(err))
}

func TestJobObjectPrefix(t *testing.T) {
	require.Equal(t, "exports/job-123/", JobObjectPrefix("job-123"))
}

func TestOpen_ReusesCallerSuppliedID(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "existing-session-id")
	require.NoError(t, err)
	require.Equal(t, "existing-session-id", s.ID)
	require.Equal(t, "sessions/existing-session-id/", s.ObjectPrefix())

	info, err := os.Stat(s.ScratchDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestObjectPrefixFor_MatchesSessionObjectPrefix(t *testing.T) {
	require.Equal(t, "sessions/abc/", ObjectPrefixFor("abc"))
}
