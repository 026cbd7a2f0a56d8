package packets

import (
	"fmt"
	"strings"
)

const (
	textSourceLen     = 8
	TextMessageMaxLen = 32
	textHeaderLen     = 3 + textSourceLen
)

type TextMessage struct {
	Flags       Flags
	Destination uint8
	Source      string
	Message     string
}

// EncodeTextMessage truncates source to 8 and message to 32 bytes. The
// source is zero padded.
func EncodeTextMessage(source, message string, dest Destination) []byte {
	src := []byte(source)
	if len(src) > textSourceLen {
		src = src[:textSourceLen]
	}
	msg := []byte(message)
	if len(msg) > TextMessageMaxLen {
		msg = msg[:TextMessageMaxLen]
	}
	b := make([]byte, textHeaderLen, textHeaderLen+len(msg))
	b[0] = byte(TypeTextMessage)
	b[2] = dest.Byte()
	copy(b[3:], src)
	return append(b, msg...)
}

func DecodeTextMessage(b []byte) (TextMessage, error) {
	if err := expectType(b, TypeTextMessage); err != nil {
		return TextMessage{}, fmt.Errorf("text message: %w", err)
	}
	if len(b) < textHeaderLen {
		return TextMessage{}, fmt.Errorf("text message: %w: got %d bytes", ErrTruncated, len(b))
	}
	return TextMessage{
		Flags:       ParseFlags(b[1]),
		Destination: b[2],
		Source:      strings.TrimRight(string(b[3:textHeaderLen]), " \t\r\n\x00"),
		Message:     strings.TrimRight(string(b[textHeaderLen:]), "\n\x00"),
	}, nil
}
