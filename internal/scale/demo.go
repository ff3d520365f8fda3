package scale

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/weighworks/loadcell-dash/internal/protocol"
)

// DemoBus simulates two transducers answering broadcast weight queries.
// It emits real wire frames, one cell speaking the 9-byte binary format
// and the other the legacy 8-byte BCD format, plus occasional line noise and
// mid-frame chunk splits, so the full scan/decode path runs exactly as it
// would against hardware.
type DemoBus struct {
	engine *protocol.Engine

	mu      sync.Mutex
	running bool
	t       float64 // virtual time accumulator
}

// NewDemoBus creates a simulated bus.
func NewDemoBus(cfg Config) *DemoBus {
	return &DemoBus{engine: protocol.NewEngine(cfg.HexUnitsPerGram)}
}

func (d *DemoBus) Name() string { return "Demo (Simulated)" }

func (d *DemoBus) Connect() error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	return nil
}

func (d *DemoBus) Close() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

func (d *DemoBus) Send(cmd []byte) error {
	d.engine.Reset()
	return nil
}

func (d *DemoBus) Subscribe(buffer int) <-chan protocol.Event {
	return d.engine.Subscribe(buffer)
}

func (d *DemoBus) Dropped() uint64 { return d.engine.Dropped() }

// Run emits one response pair per tick, 20 Hz.
func (d *DemoBus) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.mu.Lock()
				running := d.running
				d.t += 0.05
				t := d.t
				d.mu.Unlock()
				if !running {
					return
				}
				d.emit(t)
			}
		}
	}()
}

func (d *DemoBus) emit(t float64) {
	// Cell 0x01: slow load/unload cycle around 120 g, binary format.
	grams1 := 120 + 100*math.Sin(t*0.2) + rand.Float64()*0.5
	// Cell 0x02: a settled 2.5 kg load with jitter, BCD format.
	grams2 := 2500 + rand.Float64()*2

	stream := binaryWeightFrame(0x01, grams1)
	if rand.Float64() < 0.05 {
		stream = append(stream, byte(rand.Intn(256))) // line noise between responses
	}
	stream = append(stream, bcdWeightFrame(0x02, grams2)...)

	// Split at a random point so frames regularly straddle two reads.
	cut := rand.Intn(len(stream))
	d.engine.Feed(stream[:cut])
	d.engine.Feed(stream[cut:])
}

// binaryWeightFrame builds a 9-byte weight response in the 24-bit binary
// encoding.
func binaryWeightFrame(addr byte, grams float64) []byte {
	neg := grams < 0
	raw := uint32(math.Abs(grams) * protocol.DefaultHexUnitsPerGram)
	div := byte(0) // 0.1 g resolution
	if neg {
		div |= 0x80
	}
	f := []byte{addr, protocol.FuncRead, protocol.RegWeight, 0x00, div,
		byte(raw >> 16), byte(raw >> 8), byte(raw)}
	return append(f, protocol.Checksum(f))
}

// bcdWeightFrame builds an 8-byte weight response in the legacy BCD
// encoding at 1 g resolution. In this format byte 7 is both the checksum
// and the low BCD digit pair, so byte 5 is chosen to make the sum land on
// the digit value.
func bcdWeightFrame(addr byte, grams float64) []byte {
	neg := grams < 0
	raw := int(math.Abs(grams)) // 1 g per unit
	if raw > 9999 {
		raw = 9999
	}
	div := byte(3) // 1 g resolution
	if neg {
		div |= 0x80
	}
	hi := byte(raw/1000)<<4 | byte(raw/100%10)
	lo := byte(raw/10%10)<<4 | byte(raw%10)
	f := []byte{addr, protocol.FuncRead, protocol.RegWeight, 0x00, div, 0x00, hi}
	f[5] = lo - protocol.Checksum(f)
	return append(f, lo)
}
