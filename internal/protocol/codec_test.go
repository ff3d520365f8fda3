package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBytes(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x05, 0x02, 0x05, 0x0C}, WeightReadCommand())
	assert.Equal(t, []byte{0x00, 0x05, 0x05, 0x05, 0x0F}, IDReadCommand())
	assert.Equal(t, []byte{0x00, 0x05, 0x23, 0x05, 0x2D}, ParamReadCommand())
	assert.Equal(t, []byte{0x00, 0x63, 0x06, 0x03, 0x6C}, ZeroSetCommand())
}

func TestAddressChangeCommand(t *testing.T) {
	cmd, err := AddressChangeCommand(5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x63, 0x10, 0x05, 0x78}, cmd)

	for _, addr := range []byte{0, 11, 0xFF} {
		_, err := AddressChangeCommand(addr)
		assert.ErrorIs(t, err, ErrInvalidArgument, "address %d", addr)
	}
}

func TestParamWriteCommand(t *testing.T) {
	cmd, err := ParamWriteCommand(9, 3, 2, 5, 1)
	require.NoError(t, err)
	want := []byte{0x00, 0x63, 0x23, 0x09, 0x03, 0x02, 0x05, 0x01}
	want = append(want, Checksum(want))
	assert.Equal(t, want, cmd)

	cases := []struct {
		name                           string
		maxIdx, divIdx, zero, settling int
		kind                           int
	}{
		{"max weight index high", 20, 0, 0, 1, 0},
		{"division index high", 0, 15, 0, 1, 0},
		{"zero range high", 0, 0, 10, 1, 0},
		{"settling range low", 0, 0, 0, 0, 0},
		{"settling range high", 0, 0, 0, 11, 0},
		{"kind high", 0, 0, 0, 1, 4},
		{"negative", -1, 0, 0, 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParamWriteCommand(tc.maxIdx, tc.divIdx, tc.zero, tc.settling, tc.kind)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0x0F), Checksum([]byte{0x00, 0x05, 0x05, 0x05}))
	assert.Equal(t, byte(0x00), Checksum(nil))
	// Wraps modulo 256
	assert.Equal(t, byte(0xFE), Checksum([]byte{0xFF, 0xFF}))
}

// Every command ends with the checksum of everything before it.
func TestCommandsSelfChecksummed(t *testing.T) {
	addrChange, err := AddressChangeCommand(7)
	require.NoError(t, err)
	paramWrite, err := ParamWriteCommand(1, 2, 3, 4, 0)
	require.NoError(t, err)

	for _, cmd := range [][]byte{
		WeightReadCommand(), IDReadCommand(), ParamReadCommand(),
		ZeroSetCommand(), addrChange, paramWrite,
	} {
		assert.Equal(t, Checksum(cmd[:len(cmd)-1]), cmd[len(cmd)-1], "% X", cmd)
	}
}
