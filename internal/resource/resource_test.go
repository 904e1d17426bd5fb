package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoConcurrency_BoundedByMemory(t *testing.T) {
	p := Policy{TotalMemoryMB: 4096, NumCPU: 32}
	got := p.AutoConcurrency(0, 1024, 512, 0.5)
	require.Equal(t, 6, got) // (4096-1024)/512 = 6, cpu bound is 64
}

func TestAutoConcurrency_BoundedByCPU(t *testing.T) {
	p := Policy{TotalMemoryMB: 65536, NumCPU: 4}
	got := p.AutoConcurrency(0, 1024, 512, 1.0)
	require.Equal(t, 4, got)
}

func TestAutoConcurrency_CapWins(t *testing.T) {
	p := Policy{TotalMemoryMB: 65536, NumCPU: 64}
	got := p.AutoConcurrency(3, 1024, 512, 0.5)
	require.Equal(t, 3, got)
}

func TestAutoConcurrency_NeverBelowOne(t *testing.T) {
	p := Policy{TotalMemoryMB: 512, NumCPU: 1}
	got := p.AutoConcurrency(0, 1024, 512, 4.0)
	require.GreaterOrEqual(t, got, 1)
}

func TestThreadsPerJob(t *testing.T) {
	p := Policy{NumCPU: 8}
	require.Equal(t, 2, p.ThreadsPerJob(4))
	require.Equal(t, 1, p.ThreadsPerJob(16))
	require.Equal(t, 1, p.ThreadsPerJob(0))
}
