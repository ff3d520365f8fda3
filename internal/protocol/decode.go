package protocol

// DefaultHexUnitsPerGram converts the 9-byte format's 24-bit raw value to
// grams. Determined empirically against reference weights on a 0.1 g
// transducer; firmware revisions with a different internal scaling need a
// different divisor, so it is a decoder field rather than a constant in
// the decode path.
const DefaultHexUnitsPerGram = 565.4

// Status byte flags.
const (
	StatusZeroError         = 0x01
	StatusError             = 0x02
	StatusOverload          = 0x04
	StatusZeroAdjusted      = 0x08
	StatusCalibrationNeeded = 0x10
)

// DecodedWeight is one weight reading taken from a validated frame.
type DecodedWeight struct {
	Status          byte    `json:"status"`
	Division        byte    `json:"division"`
	ResolutionGrams float64 `json:"resolutionGrams"`
	RawMagnitude    uint32  `json:"rawMagnitude"`
	Negative        bool    `json:"negative"`
	Grams           float64 `json:"grams"`
}

// StatusFlags is the status byte broken into individual conditions.
type StatusFlags struct {
	ZeroError         bool `json:"zeroError"`
	Error             bool `json:"error"`
	Overload          bool `json:"overload"`
	ZeroAdjusted      bool `json:"zeroAdjusted"`
	CalibrationNeeded bool `json:"calibrationNeeded"`
}

// Flags expands the raw status byte.
func (w DecodedWeight) Flags() StatusFlags {
	return StatusFlags{
		ZeroError:         w.Status&StatusZeroError != 0,
		Error:             w.Status&StatusError != 0,
		Overload:          w.Status&StatusOverload != 0,
		ZeroAdjusted:      w.Status&StatusZeroAdjusted != 0,
		CalibrationNeeded: w.Status&StatusCalibrationNeeded != 0,
	}
}

// WeightDecoder decodes weight frames. The zero value uses
// DefaultHexUnitsPerGram for the 9-byte binary format.
type WeightDecoder struct {
	HexUnitsPerGram float64
}

// resolutionFor falls back to 1 g when the division index is outside the
// table rather than failing the frame.
func resolutionFor(division byte) float64 {
	if int(division) < len(ResolutionTable) {
		return ResolutionTable[division]
	}
	return 1
}

// Decode converts a validated weight frame into a reading. Decoding is
// total over the two known shapes; the frame was already checksum- and
// shape-checked by the scanner.
//
// 8-byte frames carry the magnitude as four BCD digits in bytes 6..7.
// 9-byte frames carry a big-endian 24-bit binary magnitude in bytes 5..7,
// scaled by the hex-units-per-gram divisor instead of the resolution
// table.
func (d WeightDecoder) Decode(f Frame) DecodedWeight {
	b := f.Bytes
	w := DecodedWeight{
		Status:   b[3],
		Division: b[4] & 0x0F,
		Negative: b[4]&0x80 != 0,
	}
	w.ResolutionGrams = resolutionFor(w.Division)

	if len(b) == weightFrameLong {
		w.RawMagnitude = uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
		div := d.HexUnitsPerGram
		if div == 0 {
			div = DefaultHexUnitsPerGram
		}
		w.Grams = float64(w.RawMagnitude) / div
	} else {
		w.RawMagnitude = uint32(b[6]>>4)*1000 + uint32(b[6]&0x0F)*100 +
			uint32(b[7]>>4)*10 + uint32(b[7]&0x0F)
		w.Grams = w.ResolutionGrams * float64(w.RawMagnitude)
	}

	if w.Negative {
		w.Grams = -w.Grams
	}
	return w
}

// DeviceID is the identifier response payload.
type DeviceID struct {
	Address byte    `json:"address"`
	ID      [4]byte `json:"id"`
}

// DecodeID extracts the four identifier bytes at offsets 7..10.
func DecodeID(f Frame) DeviceID {
	b := f.Bytes
	return DeviceID{
		Address: b[0],
		ID:      [4]byte{b[7], b[8], b[9], b[10]},
	}
}

// Parameters is the decoded parameter response.
type Parameters struct {
	Address         byte    `json:"address"`
	DivisionIndex   byte    `json:"divisionIndex"`
	KindIndex       byte    `json:"kindIndex"`
	KindName        string  `json:"kindName"`
	ZeroRange       byte    `json:"zeroRange"`
	SettlingRange   byte    `json:"settlingRange"`
	ResolutionGrams float64 `json:"resolutionGrams"`
	MaxWeightRaw    uint32  `json:"maxWeightRaw"`
	MaxWeightGrams  float64 `json:"maxWeightGrams"`
}

// DecodeParams unpacks the parameter frame: division and scale kind share
// byte 3 as nibbles, zero and settling ranges share byte 4, and the
// capacity is a 24-bit magnitude in bytes 5..7 scaled by the resolution
// table.
func DecodeParams(f Frame) Parameters {
	b := f.Bytes
	p := Parameters{
		Address:       b[0],
		DivisionIndex: b[3] >> 4,
		KindIndex:     b[3] & 0x0F,
		ZeroRange:     b[4] >> 4,
		SettlingRange: b[4] & 0x0F,
		MaxWeightRaw:  uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7]),
	}
	if int(p.DivisionIndex) < len(ResolutionTable) {
		p.ResolutionGrams = ResolutionTable[p.DivisionIndex]
		p.MaxWeightGrams = float64(p.MaxWeightRaw) * p.ResolutionGrams
	} else {
		p.ResolutionGrams = 1
		p.MaxWeightGrams = float64(p.MaxWeightRaw)
	}
	if int(p.KindIndex) < len(ScaleTypeNames) {
		p.KindName = ScaleTypeNames[p.KindIndex]
	} else {
		p.KindName = "unknown"
	}
	return p
}
