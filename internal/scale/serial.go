package scale

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/weighworks/loadcell-dash/internal/protocol"
)

const (
	defaultBaudRate = 115200
	defaultPollHz   = 20

	readChunkSize  = 256
	drainSilenceMs = 50                     // silence threshold for drain loop
	drainTimeout   = 500 * time.Millisecond // max time to spend draining
	readTimeout    = 100 * time.Millisecond
)

// SerialBus drives the transducer bus over a UART. One background
// goroutine reads bytes into the engine; a ticker broadcasts the weight
// query at the configured rate.
type SerialBus struct {
	portPath     string
	baudRate     int
	pollInterval time.Duration
	engine       *protocol.Engine

	mu        sync.Mutex
	port      serial.Port
	connected bool
}

// NewSerialBus creates a serial bus backend.
func NewSerialBus(cfg Config) *SerialBus {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.PollHz <= 0 {
		cfg.PollHz = defaultPollHz
	}
	return &SerialBus{
		portPath:     cfg.PortPath,
		baudRate:     cfg.BaudRate,
		pollInterval: time.Second / time.Duration(cfg.PollHz),
		engine:       protocol.NewEngine(cfg.HexUnitsPerGram),
	}
}

func (b *SerialBus) Name() string { return "Serial Bus" }

// Connect opens the port, clears boot garbage, and probes the bus with an
// ID query so attached transducers show up in the log before polling
// starts. The probe failing is not fatal; a cell may simply be powered
// off until later.
func (b *SerialBus) Connect() error {
	mode := &serial.Mode{
		BaudRate: b.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(b.portPath, mode)
	if err != nil {
		return fmt.Errorf("scale: failed to open %s: %w", b.portPath, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("scale: failed to set timeout: %w", err)
	}

	b.mu.Lock()
	b.port = port
	b.connected = true
	b.mu.Unlock()

	log.Printf("[scale] opened %s at %d baud", b.portPath, b.baudRate)

	b.drain("boot")
	if err := b.Send(protocol.IDReadCommand()); err != nil {
		log.Printf("[scale] id probe failed: %v", err)
	}
	return nil
}

func (b *SerialBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	if b.port != nil {
		err := b.port.Close()
		b.port = nil
		return err
	}
	return nil
}

// drain reads and discards pending port data until silence, so a new
// command starts from an empty response window.
func (b *SerialBus) drain(label string) {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()
	if port == nil {
		return
	}

	port.ResetInputBuffer()
	port.SetReadTimeout(drainSilenceMs * time.Millisecond)
	defer port.SetReadTimeout(readTimeout)

	total := 0
	deadline := time.Now().Add(drainTimeout)
	buf := make([]byte, readChunkSize)
	for time.Now().Before(deadline) {
		n, _ := port.Read(buf)
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		log.Printf("[scale] drain(%s) cleared %d bytes", label, total)
	}
}

// Send implements the flush-then-arm contract: stale receive bytes are
// drained and the engine buffer cleared before cmd goes out.
func (b *SerialBus) Send(cmd []byte) error {
	b.mu.Lock()
	port, connected := b.port, b.connected
	b.mu.Unlock()
	if !connected || port == nil {
		return fmt.Errorf("scale: not connected")
	}

	port.ResetInputBuffer()
	b.engine.Reset()
	if _, err := port.Write(cmd); err != nil {
		return fmt.Errorf("scale: write failed: %w", err)
	}
	return nil
}

// Run starts the reader and the broadcast poll loop. The reader feeds raw
// chunks to the engine on this goroutine's counterpart; scanning, decode,
// and registry updates all happen downstream on the single consumer of
// the event channel.
func (b *SerialBus) Run(ctx context.Context) {
	go b.readLoop(ctx)
	go b.pollLoop(ctx)
}

func (b *SerialBus) readLoop(ctx context.Context) {
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.mu.Lock()
		port, connected := b.port, b.connected
		b.mu.Unlock()
		if !connected || port == nil {
			return
		}

		n, err := port.Read(buf)
		if err != nil {
			log.Printf("[scale] read error: %v", err)
			return
		}
		if n == 0 {
			continue // read timeout, nothing pending
		}
		b.engine.Feed(buf[:n])
	}
}

func (b *SerialBus) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Send(protocol.WeightReadCommand()); err != nil {
				log.Printf("[scale] poll send failed: %v", err)
				return
			}
		}
	}
}

func (b *SerialBus) Subscribe(buffer int) <-chan protocol.Event {
	return b.engine.Subscribe(buffer)
}

func (b *SerialBus) Dropped() uint64 { return b.engine.Dropped() }
