package protocol

import (
	"errors"
	"fmt"
)

// Function codes.
const (
	FuncRead   = 0x05 // read request / read response
	FuncStream = 0x06 // unsolicited continuous weight updates
	FuncWrite  = 0x63 // write request
)

// Register codes.
const (
	RegWeight  = 0x02
	RegID      = 0x05
	RegParam   = 0x23
	RegAddress = 0x10
	RegZeroSet = 0x06
)

const (
	// BroadcastAddr is the destination address for outbound read commands.
	// All transducers on the bus answer a broadcast query; responses carry
	// each device's own address in byte 0.
	BroadcastAddr = 0x00

	readArg    = 0x05 // fixed argument byte for all read commands
	zeroSetArg = 0x03 // fixed argument byte for the zero-set command

	// MinDeviceAddr and MaxDeviceAddr bound the assignable address range.
	MinDeviceAddr = 1
	MaxDeviceAddr = 10
)

// ResolutionTable maps a 4-bit division index to grams per raw unit.
var ResolutionTable = [15]float64{
	0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 50,
	100, 200, 500, 1000, 2000, 5000,
}

// MaxWeightTable maps a max-weight index to capacity in kilograms.
var MaxWeightTable = [20]float64{
	5, 10, 15, 20, 25, 30, 35, 40, 45, 50,
	55, 60, 65, 70, 75, 80, 85, 90, 95, 100,
}

// ScaleTypeNames maps a scale-kind index to its display name.
var ScaleTypeNames = [4]string{
	"quick measurement",
	"normal measurement",
	"crane measurement",
	"large crane measurement",
}

// ErrInvalidArgument is returned when a command argument is out of range.
// Nothing is transmitted in that case.
var ErrInvalidArgument = errors.New("protocol: argument out of range")

// Checksum is the unsigned sum of all bytes modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

func appendChecksum(cmd []byte) []byte {
	return append(cmd, Checksum(cmd))
}

// WeightReadCommand builds the broadcast weight query.
func WeightReadCommand() []byte {
	return appendChecksum([]byte{BroadcastAddr, FuncRead, RegWeight, readArg})
}

// IDReadCommand builds the broadcast identifier query.
func IDReadCommand() []byte {
	return appendChecksum([]byte{BroadcastAddr, FuncRead, RegID, readArg})
}

// ParamReadCommand builds the broadcast parameter query.
func ParamReadCommand() []byte {
	return appendChecksum([]byte{BroadcastAddr, FuncRead, RegParam, readArg})
}

// ZeroSetCommand builds the hardware tare command.
func ZeroSetCommand() []byte {
	return appendChecksum([]byte{BroadcastAddr, FuncWrite, RegZeroSet, zeroSetArg})
}

// AddressChangeCommand assigns a new bus address in 1..10 to the
// responding transducer.
func AddressChangeCommand(newAddr byte) ([]byte, error) {
	if newAddr < MinDeviceAddr || newAddr > MaxDeviceAddr {
		return nil, fmt.Errorf("%w: address %d not in %d..%d",
			ErrInvalidArgument, newAddr, MinDeviceAddr, MaxDeviceAddr)
	}
	return appendChecksum([]byte{BroadcastAddr, FuncWrite, RegAddress, newAddr}), nil
}

// ParamWriteCommand builds the parameter write command.
//
//	maxWeightIdx  index into MaxWeightTable (0..19)
//	divisionIdx   index into ResolutionTable (0..14)
//	zeroRange     zero tracking range (0..9)
//	settlingRange settling zero range (1..10)
//	kind          scale type (0..3)
func ParamWriteCommand(maxWeightIdx, divisionIdx, zeroRange, settlingRange, kind int) ([]byte, error) {
	switch {
	case maxWeightIdx < 0 || maxWeightIdx >= len(MaxWeightTable):
		return nil, fmt.Errorf("%w: max weight index %d", ErrInvalidArgument, maxWeightIdx)
	case divisionIdx < 0 || divisionIdx >= len(ResolutionTable):
		return nil, fmt.Errorf("%w: division index %d", ErrInvalidArgument, divisionIdx)
	case zeroRange < 0 || zeroRange > 9:
		return nil, fmt.Errorf("%w: zero range %d", ErrInvalidArgument, zeroRange)
	case settlingRange < 1 || settlingRange > 10:
		return nil, fmt.Errorf("%w: settling range %d", ErrInvalidArgument, settlingRange)
	case kind < 0 || kind >= len(ScaleTypeNames):
		return nil, fmt.Errorf("%w: scale kind %d", ErrInvalidArgument, kind)
	}
	return appendChecksum([]byte{
		BroadcastAddr, FuncWrite, RegParam,
		byte(maxWeightIdx), byte(divisionIdx),
		byte(zeroRange), byte(settlingRange), byte(kind),
	}), nil
}
