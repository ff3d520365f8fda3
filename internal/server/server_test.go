package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weighworks/loadcell-dash/internal/protocol"
	"github.com/weighworks/loadcell-dash/internal/registry"
)

// stubBus satisfies scale.Bus and records sent commands.
type stubBus struct {
	sent   [][]byte
	events chan protocol.Event
}

func newStubBus() *stubBus {
	return &stubBus{events: make(chan protocol.Event, 16)}
}

func (b *stubBus) Name() string            { return "stub" }
func (b *stubBus) Connect() error          { return nil }
func (b *stubBus) Close() error            { return nil }
func (b *stubBus) Run(ctx context.Context) {}
func (b *stubBus) Dropped() uint64         { return 0 }

func (b *stubBus) Send(cmd []byte) error {
	b.sent = append(b.sent, cmd)
	return nil
}

func (b *stubBus) Subscribe(buffer int) <-chan protocol.Event {
	return b.events
}

func newTestServer(t *testing.T) (*Server, *stubBus, *registry.Registry) {
	t.Helper()
	bus := newStubBus()
	reg := registry.New(nil)
	srv := New(DefaultConfig(), bus, reg, fstest.MapFS{})
	return srv, bus, reg
}

func record(reg *registry.Registry, addr byte, grams float64) {
	reg.Record(addr, protocol.DecodedWeight{Grams: grams, ResolutionGrams: 0.1})
}

func TestHandleDevices(t *testing.T) {
	srv, _, reg := newTestServer(t)
	record(reg, 0x02, 150)
	record(reg, 0x01, 75)

	rr := httptest.NewRecorder()
	srv.handleDevices(rr, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var views []DeviceView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, byte(0x01), views[0].Address)
	assert.Equal(t, 75.0, views[0].LastCalibratedGrams)
	assert.Equal(t, byte(0x02), views[1].Address)

	rr = httptest.NewRecorder()
	srv.handleDevices(rr, httptest.NewRequest(http.MethodPost, "/api/devices", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleZero(t *testing.T) {
	srv, bus, reg := newTestServer(t)
	record(reg, 0x01, 37.5)

	rr := httptest.NewRecorder()
	srv.handleZero(rr, httptest.NewRequest(http.MethodPost, "/api/zero?addr=0x01", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	d, ok := reg.Device(0x01)
	require.True(t, ok)
	assert.Equal(t, 37.5, d.ZeroOffsetGrams)
	assert.Empty(t, bus.sent)
}

func TestHandleZeroHardware(t *testing.T) {
	srv, bus, reg := newTestServer(t)
	record(reg, 0x01, 10)

	rr := httptest.NewRecorder()
	srv.handleZero(rr, httptest.NewRequest(http.MethodPost, "/api/zero?addr=1&hardware=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, bus.sent, 1)
	assert.Equal(t, protocol.ZeroSetCommand(), bus.sent[0])
}

func TestHandleZeroErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.handleZero(rr, httptest.NewRequest(http.MethodPost, "/api/zero?addr=9", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	srv.handleZero(rr, httptest.NewRequest(http.MethodPost, "/api/zero?addr=banana", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	srv.handleZero(rr, httptest.NewRequest(http.MethodGet, "/api/zero?addr=1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleCalibrate(t *testing.T) {
	srv, _, reg := newTestServer(t)
	record(reg, 0x01, 0)
	require.NoError(t, reg.Zero(0x01))
	record(reg, 0x01, 510)

	rr := httptest.NewRecorder()
	srv.handleCalibrate(rr, httptest.NewRequest(http.MethodPost, "/api/calibrate?addr=1&known=500", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	d, _ := reg.Device(0x01)
	assert.InDelta(t, 500.0/510, d.ScaleFactor, 1e-9)
}

func TestHandleCalibrateErrors(t *testing.T) {
	srv, _, reg := newTestServer(t)
	record(reg, 0x01, 0.01)

	rr := httptest.NewRecorder()
	srv.handleCalibrate(rr, httptest.NewRequest(http.MethodPost, "/api/calibrate?addr=1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Nothing on the platform: calibration conflict.
	rr = httptest.NewRecorder()
	srv.handleCalibrate(rr, httptest.NewRequest(http.MethodPost, "/api/calibrate?addr=1&known=500", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandleConfigRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.handleConfig(rr, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	bus, ok := got["bus"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "demo", bus["type"])
}

func TestEventLoopRecordsWeights(t *testing.T) {
	srv, bus, reg := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.eventLoop(ctx)

	w := protocol.DecodedWeight{Grams: 250, ResolutionGrams: 0.1}
	bus.events <- protocol.Event{Kind: protocol.EventWeight, Address: 0x04, Weight: &w}

	assert.Eventually(t, func() bool {
		d, ok := reg.Device(0x04)
		return ok && d.LastRawGrams == 250
	}, time.Second, 5*time.Millisecond)
}
