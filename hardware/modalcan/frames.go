package modalcan

import (
	"math"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/intermode/modal-mecanum/kinematics"
)

// constants from the motor controller data sheet.
const (
	idMotorFr uint32 = 0x22A
	idMotorFl uint32 = 0x22B
	idMotorRr uint32 = 0x22C
	idMotorRl uint32 = 0x22D

	idFeedbackFr uint32 = 0x24A
	idFeedbackFl uint32 = 0x24B
	idFeedbackRr uint32 = 0x24C
	idFeedbackRl uint32 = 0x24D

	idBatteryState uint32 = 0x251
	idLight        uint32 = 0x260

	numBitsPerByte = 8

	// limits of the 12 bit speed and current fields
	MaxWireRPM     = 2047
	minWireRPM     = -2048
	maxWireCurrent = 0xFFF
)

const (
	mecanumStateDisable = "disable"
	mecanumStateEnable  = "enable"

	mecanumModeSpeed = "speed"

	hazards    = "hazards"
	headLights = "head-lights"
)

var (
	mecanumStates = map[string]byte{
		mecanumStateDisable: 0x00,
		mecanumStateEnable:  0x01,
	}
	mecanumModes = map[string]byte{
		mecanumModeSpeed: 0x00,
	}
	lightBits = map[string]byte{
		hazards:    0x4,
		headLights: 0x8,
	}

	// indexed like kinematics.WheelPowers
	motorIDs    = [kinematics.NumWheels]uint32{idMotorFl, idMotorFr, idMotorRl, idMotorRr}
	feedbackIDs = [kinematics.NumWheels]uint32{idFeedbackFl, idFeedbackFr, idFeedbackRl, idFeedbackRr}
)

type mecanumCommand struct {
	state   byte
	mode    byte
	rpm     int16
	current int16
	encoder int32
}

/*
 * Convert a mecanum command to an extended CAN frame for one motor controller.
 *
 * byte 0: state (low nibble), mode (high nibble)
 * byte 1 and low nibble of byte 2: rpm, 12 bit two's complement, saturated
 * high nibble of byte 2 and byte 3: current limit, saturated
 * byte 4-7: encoder target, little endian
 */
func (cmd *mecanumCommand) toFrame(logger logging.Logger, canID uint32) canbus.Frame {
	frame := canbus.Frame{
		ID:   canID,
		Data: make([]byte, 0, 8),
		Kind: canbus.EFF,
	}
	rpm := clampInt16(cmd.rpm, minWireRPM, MaxWireRPM)
	current := clampInt16(cmd.current, 0, maxWireCurrent)
	frame.Data = append(frame.Data, (cmd.state&0x0F)|((cmd.mode&0x0F)<<4))
	frame.Data = append(frame.Data, byte(rpm&0xFF))
	frame.Data = append(frame.Data, byte((rpm>>8)&0x0F)|byte((current&0x0F)<<4))
	frame.Data = append(frame.Data, byte((current>>4)&0xFF))
	frame.Data = append(frame.Data, byte(cmd.encoder&0xFF))
	frame.Data = append(frame.Data, byte((cmd.encoder>>8)&0xFF))
	frame.Data = append(frame.Data, byte((cmd.encoder>>16)&0xFF))
	frame.Data = append(frame.Data, byte((cmd.encoder>>24)&0xFF))

	logger.Debugw("frame", "id", canID, "data", frame.Data)

	return frame
}

func clampInt16(v, lo, hi int16) int16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// wheelRPM converts a wheel power to a speed the rpm field can carry.
func wheelRPM(power, maxRPM float64) int16 {
	rpm := math.Round(power * maxRPM)
	if math.IsNaN(rpm) {
		return 0
	}
	return int16(math.Max(minWireRPM, math.Min(MaxWireRPM, rpm)))
}

type lightCommand struct {
	Hazards    bool
	HeadLights bool
}

func (cmd *lightCommand) toFrame() canbus.Frame {
	frame := canbus.Frame{
		ID:   idLight,
		Data: make([]byte, 0, 8),
		Kind: canbus.SFF,
	}

	var cmdByte byte
	if cmd.Hazards {
		cmdByte |= lightBits[hazards]
	}
	if cmd.HeadLights {
		cmdByte |= lightBits[headLights]
	}

	frame.Data = append(frame.Data, cmdByte)
	return frame
}

// canSignal locates a little endian signal of up to 32 bits in a CAN payload.
type canSignal struct {
	scalar float64
	offset float64
	start  uint8 // start bit
	length uint8 // length in bits
	signed bool
}

var (
	signalFeedbackPosition = canSignal{scalar: 1, start: 0, length: 32, signed: true}
	signalFeedbackRPM      = canSignal{scalar: 1, start: 32, length: 16, signed: true}
	signalStateOfCharge    = canSignal{scalar: 0.1, start: 0, length: 16}
)

// raw extracts the signal bits, sign extended when the signal is signed.
func (s canSignal) raw(data []byte) (int64, error) {
	if s.length == 0 || s.length > 32 {
		return 0, errors.Errorf("unsupported signal length %d", s.length)
	}
	lsb := int(s.start)
	msb := lsb + int(s.length) - 1
	if msb/numBitsPerByte >= len(data) {
		return 0, errors.Errorf("payload of %d bytes too short for bits %d..%d", len(data), lsb, msb)
	}

	var word uint64
	for i := lsb / numBitsPerByte; i <= msb/numBitsPerByte; i++ {
		word |= uint64(data[i]) << ((i - lsb/numBitsPerByte) * numBitsPerByte)
	}
	v := (word >> (lsb % numBitsPerByte)) & (1<<s.length - 1)

	if s.signed && v&(1<<(s.length-1)) != 0 {
		return int64(v) - 1<<s.length, nil
	}
	return int64(v), nil
}

// decode returns the scaled signal value.
func (s canSignal) decode(data []byte) (float64, error) {
	v, err := s.raw(data)
	if err != nil {
		return 0, err
	}
	return float64(v)*s.scalar + s.offset, nil
}
