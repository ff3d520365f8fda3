package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weighworks/loadcell-dash/internal/protocol"
	"github.com/weighworks/loadcell-dash/internal/registry"
)

func testDevices() []registry.DeviceState {
	return []registry.DeviceState{
		{
			Address:             0x01,
			LastRawGrams:        123.456,
			LastCalibratedGrams: 120,
			ScaleFactor:         0.972,
			LastResolutionGrams: 0.1,
			SampleCount:         42,
			LastStatus:          protocol.StatusFlags{Overload: true},
		},
		{Address: 0x02, ScaleFactor: 1},
	}
}

func readOnlyCSV(t *testing.T, dir string) [][]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRecordWritesRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 50})
	defer l.Close()

	l.Record(testDevices())
	l.Close()

	rows := readOnlyCSV(t, dir)
	require.Len(t, rows, 3) // header plus one row per device
	assert.Equal(t, csvHeader, rows[0])

	assert.Equal(t, "0x01", rows[1][1])
	assert.Equal(t, "123.46", rows[1][2])
	assert.Equal(t, "120.00", rows[1][3])
	assert.Equal(t, "0.972000", rows[1][5])
	assert.Equal(t, "42", rows[1][7])
	assert.Equal(t, "1", rows[1][10]) // overload flag
	assert.Equal(t, "0", rows[1][8])

	assert.Equal(t, "0x02", rows[2][1])
}

// Samples arriving faster than the interval are dropped, not queued.
func TestRecordRateLimits(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 10_000})
	defer l.Close()

	l.Record(testDevices())
	l.Record(testDevices())
	l.Close()

	rows := readOnlyCSV(t, dir)
	assert.Len(t, rows, 3)
}

func TestDisabledLoggerWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: false, Path: dir})
	defer l.Close()

	l.Record(testDevices())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSetEnabled(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: false, Path: dir, IntervalMs: 50})
	defer l.Close()

	assert.False(t, l.IsEnabled())
	l.SetEnabled(true)
	assert.True(t, l.IsEnabled())

	l.Record(testDevices())
	l.Close()
	rows := readOnlyCSV(t, dir)
	assert.Len(t, rows, 3)
}

func TestEmptySnapshotIsNoop(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir})
	defer l.Close()

	l.Record(nil)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIntervalDefault(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, "100ms", l.interval.String())
}
