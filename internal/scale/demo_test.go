package scale

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weighworks/loadcell-dash/internal/protocol"
)

func TestBinaryWeightFrameRoundTrip(t *testing.T) {
	raw := binaryWeightFrame(0x01, 120.5)

	frames, consumed, skipped := protocol.Scan(raw)
	require.Len(t, frames, 1)
	assert.Equal(t, len(raw), consumed)
	assert.Equal(t, 0, skipped)

	var d protocol.WeightDecoder
	w := d.Decode(frames[0])
	assert.Equal(t, byte(0x01), frames[0].Address())
	assert.InDelta(t, 120.5, w.Grams, 0.01)
	assert.False(t, w.Negative)
}

func TestBinaryWeightFrameNegative(t *testing.T) {
	raw := binaryWeightFrame(0x01, -42)
	frames, _, _ := protocol.Scan(raw)
	require.Len(t, frames, 1)

	var d protocol.WeightDecoder
	w := d.Decode(frames[0])
	assert.True(t, w.Negative)
	assert.InDelta(t, -42, w.Grams, 0.01)
}

func TestBCDWeightFrameRoundTrip(t *testing.T) {
	raw := bcdWeightFrame(0x02, 2500)

	frames, consumed, skipped := protocol.Scan(raw)
	require.Len(t, frames, 1)
	assert.Equal(t, len(raw), consumed)
	assert.Equal(t, 0, skipped)

	var d protocol.WeightDecoder
	w := d.Decode(frames[0])
	assert.Equal(t, byte(0x02), frames[0].Address())
	assert.Equal(t, uint32(2500), w.RawMagnitude)
	assert.Equal(t, 1.0, w.ResolutionGrams)
	assert.Equal(t, 2500.0, w.Grams)
}

func TestBCDWeightFrameClamps(t *testing.T) {
	raw := bcdWeightFrame(0x02, 123456)
	frames, _, _ := protocol.Scan(raw)
	require.Len(t, frames, 1)

	var d protocol.WeightDecoder
	w := d.Decode(frames[0])
	assert.Equal(t, uint32(9999), w.RawMagnitude)
}

func TestDemoBusEmitsBothCells(t *testing.T) {
	bus := NewDemoBus(Config{})
	require.NoError(t, bus.Connect())
	defer bus.Close()

	ch := bus.Subscribe(64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Run(ctx)

	seen := map[byte]bool{}
	deadline := time.After(3 * time.Second)
	for !(seen[0x01] && seen[0x02]) {
		select {
		case ev := <-ch:
			if ev.Kind == protocol.EventWeight {
				seen[ev.Address] = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for both cells, saw %v", seen)
		}
	}
}

func TestDemoBusSendResetsCleanly(t *testing.T) {
	bus := NewDemoBus(Config{})
	require.NoError(t, bus.Connect())
	defer bus.Close()

	assert.NoError(t, bus.Send(protocol.WeightReadCommand()))
	assert.Zero(t, bus.Dropped())
}
