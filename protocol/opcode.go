// Package protocol implements the OpenVPN-wire-compatible packet codec
// (opcode/key-id packing, header and body parsing), the 128-bit replay
// window, and the per-direction counter-nonced packet cipher built on
// top of package crypto.
package protocol

import "fmt"

// Opcode is the 5-bit packet type tag packed into the high bits of byte 0.
type Opcode uint8

const (
	SoftResetV1       Opcode = 3
	ControlV1         Opcode = 4
	AckV1             Opcode = 5
	DataV1            Opcode = 6
	HardResetClientV2 Opcode = 7
	HardResetServerV2 Opcode = 8
	DataV2            Opcode = 9
	HardResetClientV3 Opcode = 10
	ControlWkcV1      Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case SoftResetV1:
		return "SoftResetV1"
	case ControlV1:
		return "ControlV1"
	case AckV1:
		return "AckV1"
	case DataV1:
		return "DataV1"
	case HardResetClientV2:
		return "HardResetClientV2"
	case HardResetServerV2:
		return "HardResetServerV2"
	case DataV2:
		return "DataV2"
	case HardResetClientV3:
		return "HardResetClientV3"
	case ControlWkcV1:
		return "ControlWkcV1"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(o))
	}
}

// IsData reports whether o is a data-channel opcode.
func (o Opcode) IsData() bool { return o == DataV1 || o == DataV2 }

// IsControl reports whether o is a control-channel opcode (including
// hard/soft reset and ack, which ride the control channel's framing).
func (o Opcode) IsControl() bool { return !o.IsData() }

func isKnownOpcode(o Opcode) bool {
	switch o {
	case SoftResetV1, ControlV1, AckV1, DataV1, HardResetClientV2,
		HardResetServerV2, DataV2, HardResetClientV3, ControlWkcV1:
		return true
	default:
		return false
	}
}

// PackOpcodeKeyID packs a 5-bit opcode and 3-bit key-id into one byte:
// opcode<<3 | key_id.
func PackOpcodeKeyID(opcode Opcode, keyID uint8) byte {
	return byte(opcode)<<3 | (keyID & 0x07)
}

// UnpackOpcodeKeyID splits byte 0 into its opcode and key-id.
func UnpackOpcodeKeyID(b byte) (Opcode, uint8) {
	return Opcode(b >> 3), b & 0x07
}
