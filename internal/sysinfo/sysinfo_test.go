package sysinfo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemInfo(t *testing.T) {
	input := `MemTotal:        8388608 kB
MemFree:          524288 kB
MemAvailable:    2097152 kB
Buffers:          102400 kB
`
	var metrics Metrics
	require.NoError(t, parseMemInfo(strings.NewReader(input), &metrics))

	assert.InDelta(t, 8.0, metrics.MemoryTotalGB, 0.001)
	assert.InDelta(t, 2.0, metrics.MemoryFreeGB, 0.001)
	assert.InDelta(t, 6.0, metrics.MemoryUsedGB, 0.001)
}

func TestParseMemInfoWithoutTotal(t *testing.T) {
	var metrics Metrics
	assert.Error(t, parseMemInfo(strings.NewReader("garbage\n"), &metrics))
}

func TestParseDF(t *testing.T) {
	output := `Filesystem     1024-blocks     Used Available Capacity Mounted on
/dev/nvme0n1p1    10485760  7340032   3145728      70% /
`
	var metrics Metrics
	require.NoError(t, parseDF(output, &metrics))

	assert.InDelta(t, 7.0, metrics.DiskUsedGB, 0.001)
	assert.InDelta(t, 3.0, metrics.DiskAvailableGB, 0.001)
	assert.InDelta(t, 10.0, metrics.DiskTotalGB, 0.001)
	assert.InDelta(t, 70.0, metrics.DiskUsedPercent, 0.001)
}

func TestParseDFRejectsUnexpectedOutput(t *testing.T) {
	var metrics Metrics
	assert.Error(t, parseDF("Filesystem 1024-blocks Used Available Capacity Mounted on", &metrics))
	assert.Error(t, parseDF("header\n/dev/sda1 10 ten 5 50% /", &metrics))
}
