package packets

import (
	"fmt"
	"strconv"
)

const (
	commandLen = 8
	// MaxCutdownSeconds bounds the burn time of a cutdown command.
	MaxCutdownSeconds = 10
)

// Command is an uplinked cutdown or parameter change.
type Command struct {
	Type        PacketType
	Destination uint8
	Passcode    string
	// Arg1 is the burn time for cutdowns and the parameter for param changes.
	Arg1 uint8
	Arg2 uint8
}

func EncodeCutdown(seconds int, passcode string, dest Destination) []byte {
	return encodeCommand(TypeCutdown, dest, passcode, clampByte(seconds, MaxCutdownSeconds), 0)
}

func EncodeParamChange(param, value int, passcode string, dest Destination) []byte {
	return encodeCommand(TypeParamChange, dest, passcode, clampByte(param, 255), clampByte(value, 255))
}

func encodeCommand(t PacketType, dest Destination, passcode string, arg1, arg2 uint8) []byte {
	// A short passcode is space padded; the payload will most likely reject it.
	pass := []byte(passcode + "   ")
	return []byte{byte(t), 0, dest.Byte(), pass[0], pass[1], pass[2], arg1, arg2}
}

func DecodeCommand(b []byte) (Command, error) {
	if err := expectType(b, TypeCutdown, TypeParamChange); err != nil {
		return Command{}, fmt.Errorf("command: %w", err)
	}
	if err := expectLen("command", b, commandLen); err != nil {
		return Command{}, err
	}
	return Command{
		Type:        PacketType(b[0]),
		Destination: b[2],
		Passcode:    string(b[3:6]),
		Arg1:        b[6],
		Arg2:        b[7],
	}, nil
}

// CommandAck is sent by a payload once it has executed a command.
type CommandAck struct {
	Flags     Flags
	PayloadID uint8
	RSSI      int
	SNR       float64
	Command   PacketType
	Arg1      uint8
	Arg2      uint8
}

// Name is the human name of the acknowledged command.
func (a CommandAck) Name() string {
	switch a.Command {
	case TypeCutdown:
		return "Cutdown"
	case TypeParamChange:
		return "Param Change"
	default:
		return "Unknown Command"
	}
}

func (a CommandAck) Argument() string {
	switch a.Command {
	case TypeCutdown:
		return strconv.Itoa(int(a.Arg1)) + " Seconds."
	case TypeParamChange:
		return strconv.Itoa(int(a.Arg1)) + " " + strconv.Itoa(int(a.Arg2))
	default:
		return ""
	}
}

func DecodeCommandAck(b []byte) (CommandAck, error) {
	if err := expectType(b, TypeCommandAck); err != nil {
		return CommandAck{}, fmt.Errorf("command ack: %w", err)
	}
	if err := expectLen("command ack", b, commandLen); err != nil {
		return CommandAck{}, err
	}
	return CommandAck{
		Flags:     ParseFlags(b[1]),
		PayloadID: b[2],
		RSSI:      int(b[3]) - rssiOffset,
		SNR:       float64(int8(b[4])) / 4.0,
		Command:   PacketType(b[5]),
		Arg1:      b[6],
		Arg2:      b[7],
	}, nil
}

// EncodeCommandAck builds the frame a payload sends after executing cmd.
// rssi is in dBm and snr in dB.
func EncodeCommandAck(payloadID uint8, rssi int, snr float64, cmd Command) []byte {
	return []byte{
		byte(TypeCommandAck),
		0,
		payloadID,
		clampByte(rssi+rssiOffset, 255),
		byte(int8(max(-128, min(127, int(snr*4))))),
		byte(cmd.Type),
		cmd.Arg1,
		cmd.Arg2,
	}
}

func clampByte(v, hi int) uint8 {
	return uint8(max(0, min(hi, v)))
}
