// Package scale provides the bus adapters that move raw bytes between
// the half-duplex transducer bus and the protocol engine.
package scale

import (
	"context"

	"github.com/weighworks/loadcell-dash/internal/protocol"
)

// Bus is the interface all bus backends implement. SerialBus talks to
// real hardware; DemoBus simulates a two-transducer bus for development.
type Bus interface {
	// Name returns the human-readable name of this bus backend.
	Name() string
	// Connect opens the transport and verifies communication.
	Connect() error
	// Close cleanly shuts down the transport.
	Close() error

	// Run drives the read loop and the broadcast poll loop until ctx is
	// cancelled. Call after Connect.
	Run(ctx context.Context)

	// Send drains stale receive bytes, resets the engine buffer, then
	// transmits cmd. This is the flush-then-arm step that keeps a stale
	// response from being attributed to a new command.
	Send(cmd []byte) error

	// Subscribe returns a channel of decoded events from the bus.
	Subscribe(buffer int) <-chan protocol.Event

	// Dropped reports bytes discarded as line noise so far.
	Dropped() uint64
}

// Config holds connection configuration for a bus.
type Config struct {
	PortPath        string  `yaml:"port_path" json:"portPath"`
	BaudRate        int     `yaml:"baud_rate" json:"baudRate"`
	PollHz          int     `yaml:"poll_hz" json:"pollHz"`
	HexUnitsPerGram float64 `yaml:"hex_units_per_gram" json:"hexUnitsPerGram"`
}
