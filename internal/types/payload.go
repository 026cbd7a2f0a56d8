package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is a radio frame. On the bus it is a JSON array of integers, not
// base64.
type Payload []byte

func (p Payload) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(p)*4)
	out = append(out, '[')
	for i, b := range p {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(b), 10)
	}
	return append(out, ']'), nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("payload must be an array of bytes: %w", err)
	}
	out := make(Payload, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("payload byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*p = out
	return nil
}
