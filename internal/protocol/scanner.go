package protocol

// Frame lengths by response shape. Weight responses come in two
// incompatible encodings distinguished purely by length.
const (
	weightFrameShort = 8 // BCD weight, legacy firmware
	weightFrameLong  = 9 // 24-bit binary weight
	idFrameLen       = 11

	minFrameLen = 8
)

// Frame is a checksum-validated response slice extracted from the
// receive buffer. Bytes is an owned copy; the caller may compact the
// buffer it was scanned from.
type Frame struct {
	Bytes        []byte
	SourceOffset int
}

func (f Frame) Address() byte  { return f.Bytes[0] }
func (f Frame) Function() byte { return f.Bytes[1] }
func (f Frame) Register() byte { return f.Bytes[2] }

// Scan walks buf left to right and extracts every structurally plausible,
// checksum-valid frame. It returns the frames in stream order, the number
// of bytes consumed (the caller must drop that prefix before the next
// scan), and the number of bytes skipped as noise.
//
// A candidate start is any offset whose function/register pair matches a
// known response shape. Weight candidates are tried at 9 bytes first,
// then 8; a candidate that fails checksum at its shape's length is not a
// frame, and the scan advances by a single byte so that a corrupted or
// truncated frame cannot swallow the valid frames behind it. Fewer
// remaining bytes than a candidate's shape ends the scan: the tail may be
// the front of a frame split across transport reads.
func Scan(buf []byte) (frames []Frame, consumed, skipped int) {
	i := 0
	for len(buf)-i >= minFrameLen {
		n := matchFrame(buf[i:])
		if n == negFrameIncomplete {
			// Plausible start, not enough bytes yet. Leave the tail.
			return frames, i, skipped
		}
		if n == 0 {
			i++
			skipped++
			continue
		}
		f := Frame{Bytes: make([]byte, n), SourceOffset: i}
		copy(f.Bytes, buf[i:i+n])
		frames = append(frames, f)
		i += n
	}
	return frames, i, skipped
}

const negFrameIncomplete = -1

// matchFrame reports the length of the validated frame starting at b[0],
// 0 if b[0] is not a frame start, or negFrameIncomplete if the shape
// needs more bytes than are available.
func matchFrame(b []byte) int {
	fn, reg := b[1], b[2]
	switch {
	case reg == RegWeight && (fn == FuncRead || fn == FuncStream),
		reg == RegParam && fn == FuncRead:
		if len(b) >= weightFrameLong && checksumOK(b[:weightFrameLong]) {
			return weightFrameLong
		}
		if checksumOK(b[:weightFrameShort]) {
			return weightFrameShort
		}
	case reg == RegID && fn == FuncRead:
		if len(b) < idFrameLen {
			return negFrameIncomplete
		}
		if checksumOK(b[:idFrameLen]) {
			return idFrameLen
		}
	}
	return 0
}

func checksumOK(b []byte) bool {
	return b[len(b)-1] == Checksum(b[:len(b)-1])
}
