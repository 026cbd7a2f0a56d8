package packets

import "fmt"

const ssdvLen = 255

// SSDVInfo summarises an SSDV image packet header.
type SSDVInfo struct {
	FEC      bool
	ImageID  uint8
	PacketID uint16
	Width    int
	Height   int
}

func DecodeSSDVInfo(b []byte) (SSDVInfo, error) {
	if err := expectType(b, TypeSSDVFEC, TypeSSDVNoFEC); err != nil {
		return SSDVInfo{}, fmt.Errorf("ssdv: %w", err)
	}
	if err := expectLen("ssdv", b, ssdvLen); err != nil {
		return SSDVInfo{}, err
	}
	return SSDVInfo{
		FEC:      PacketType(b[0]) == TypeSSDVFEC,
		ImageID:  b[5],
		PacketID: uint16(b[6])<<8 | uint16(b[7]),
		Width:    int(b[8]) * 16,
		Height:   int(b[9]) * 16,
	}, nil
}
