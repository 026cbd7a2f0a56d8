package packets

import "errors"

var (
	ErrTruncated = errors.New("packet truncated")
	ErrBadLength = errors.New("invalid packet length")
	ErrWrongType = errors.New("unexpected packet type")
)
