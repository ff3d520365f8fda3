package scale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/weighworks/loadcell-dash/internal/protocol"
)

func TestNewSerialBusDefaults(t *testing.T) {
	b := NewSerialBus(Config{PortPath: "/dev/ttyUSB0"})
	assert.Equal(t, defaultBaudRate, b.baudRate)
	assert.Equal(t, time.Second/defaultPollHz, b.pollInterval)

	b = NewSerialBus(Config{PortPath: "/dev/ttyUSB0", BaudRate: 9600, PollHz: 5})
	assert.Equal(t, 9600, b.baudRate)
	assert.Equal(t, 200*time.Millisecond, b.pollInterval)
}

func TestSerialBusSendNotConnected(t *testing.T) {
	b := NewSerialBus(Config{PortPath: "/dev/ttyUSB0"})
	err := b.Send(protocol.WeightReadCommand())
	assert.Error(t, err)
}
