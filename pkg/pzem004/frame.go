package pzem004

import "fmt"

// FrameSize is the length of every request and response frame.
const FrameSize = 7

// Command is one of the fixed request templates understood by the meter.
type Command struct {
	name  string
	frame [FrameSize]byte
}

var (
	SetAddress            = Command{name: "set_address", frame: [FrameSize]byte{0xB4, 0xC0, 0xA8, 0x01, 0x01, 0x00, 0x1E}}
	ReadVoltage           = Command{name: "read_voltage", frame: [FrameSize]byte{0xB0, 0xC0, 0xA8, 0x01, 0x01, 0x00, 0x1A}}
	ReadCurrent           = Command{name: "read_current", frame: [FrameSize]byte{0xB1, 0xC0, 0xA8, 0x01, 0x01, 0x00, 0x1B}}
	ReadPower             = Command{name: "read_power", frame: [FrameSize]byte{0xB2, 0xC0, 0xA8, 0x01, 0x01, 0x00, 0x1C}}
	ReadAccumulatedEnergy = Command{name: "read_accumulated_energy", frame: [FrameSize]byte{0xB3, 0xC0, 0xA8, 0x01, 0x01, 0x00, 0x1D}}
)

var Commands = []Command{SetAddress, ReadVoltage, ReadCurrent, ReadPower, ReadAccumulatedEnergy}

func (c Command) Name() string {
	return c.name
}

func (c Command) Opcode() byte {
	return c.frame[0]
}

func (c Command) String() string {
	return fmt.Sprintf("%s(0x%02X)", c.name, c.Opcode())
}

// Encode returns the wire bytes for the command. The slice is a copy.
func Encode(c Command) []byte {
	out := make([]byte, FrameSize)
	copy(out, c.frame[:])
	return out
}

// ResponseFrame is a response whose checksum has been verified.
type ResponseFrame [FrameSize]byte

func (f ResponseFrame) Opcode() byte {
	return f[0]
}

// Data returns bytes 1..5.
func (f ResponseFrame) Data() [5]byte {
	var d [5]byte
	copy(d[:], f[1:6])
	return d
}

func (f ResponseFrame) Checksum() byte {
	return f[FrameSize-1]
}

// Voltage in volts: data[1] + data[2]/10.
func (f ResponseFrame) Voltage() float64 {
	d := f.Data()
	return float64(d[1]) + float64(d[2])/10.0
}

// Current in amps: data[1] + data[2]/100.
func (f ResponseFrame) Current() float64 {
	d := f.Data()
	return float64(d[1]) + float64(d[2])/100.0
}

// Power in watts: data[0]*256 + data[1].
func (f ResponseFrame) Power() uint32 {
	d := f.Data()
	return uint32(d[0])<<8 | uint32(d[1])
}

// AccumulatedEnergy in Wh: data[0]*65536 + data[1]*256 + data[2].
func (f ResponseFrame) AccumulatedEnergy() uint32 {
	d := f.Data()
	return uint32(d[0])<<16 | uint32(d[1])<<8 | uint32(d[2])
}

// Checksum is the sum of the given bytes modulo 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Decode validates a 7 byte response. Bytes past the seventh are ignored.
func Decode(b []byte) (ResponseFrame, error) {
	var f ResponseFrame
	if len(b) < FrameSize {
		return f, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, len(b), FrameSize)
	}
	copy(f[:], b[:FrameSize])
	if sum := Checksum(f[:FrameSize-1]); sum != f.Checksum() {
		return ResponseFrame{}, fmt.Errorf("%w: computed 0x%02X, frame carries 0x%02X", ErrChecksumMismatch, sum, f.Checksum())
	}
	return f, nil
}

// NewResponseFrame builds a well formed response for the given payload.
func NewResponseFrame(opcode byte, data [5]byte) ResponseFrame {
	var f ResponseFrame
	f[0] = opcode
	copy(f[1:6], data[:])
	f[6] = Checksum(f[:6])
	return f
}
