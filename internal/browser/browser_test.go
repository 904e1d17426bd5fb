package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPage_ClosedIsFalseUntilMarked(t *testing.T) {
	p := &Page{Ctx: context.Background(), cancel: func() {}}
	closed, reason := p.Closed()
	require.False(t, closed)
	require.Empty(t, reason)
}

func TestPage_MarkClosedIsStickyToFirstReason(t *testing.T) {
	p := &Page{Ctx: context.Background(), cancel: func() {}}
	p.markClosed("renderer crashed: oom")
	p.markClosed("page closed")

	closed, reason := p.Closed()
	require.True(t, closed)
	require.Equal(t, "renderer crashed: oom", reason)
}

func TestPage_CloseMarksClosed(t *testing.T) {
	canceled := false
	p := &Page{Ctx: context.Background(), cancel: func() { canceled = true }}
	p.Close()

	closed, _ := p.Closed()
	require.True(t, closed)
	require.True(t, canceled)
}

func TestManager_CloseIsSafeWithNoBrowserLaunched(t *testing.T) {
	m := NewManager()
	m.Close()
	m.Close()
}
