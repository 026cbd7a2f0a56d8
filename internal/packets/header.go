package packets

import "fmt"

// DecodeType returns the frame type from byte 0.
func DecodeType(b []byte) (PacketType, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("type: %w", ErrTruncated)
	}
	return PacketType(b[0]), nil
}

// DecodeFlags returns the flags from byte 1.
func DecodeFlags(b []byte) (Flags, error) {
	if len(b) < 2 {
		return Flags{}, fmt.Errorf("flags: %w", ErrTruncated)
	}
	return ParseFlags(b[1]), nil
}

// DecodeDestination returns the payload or destination id from byte 2.
func DecodeDestination(b []byte) (Destination, error) {
	if len(b) < 3 {
		return Destination{}, fmt.Errorf("destination: %w", ErrTruncated)
	}
	return DestinationFromByte(b[2]), nil
}

func expectType(b []byte, want ...PacketType) error {
	t, err := DecodeType(b)
	if err != nil {
		return err
	}
	for _, w := range want {
		if t == w {
			return nil
		}
	}
	return fmt.Errorf("%w: got %s", ErrWrongType, t)
}

func expectLen(what string, b []byte, want int) error {
	if len(b) != want {
		return fmt.Errorf("%s: %w: got %d bytes, want %d", what, ErrBadLength, len(b), want)
	}
	return nil
}
