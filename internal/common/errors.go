package common

import (
	"errors"
	"fmt"
)

var (
	ErrPayloadTooLarge = errors.New("d1: payload too large")
	ErrShortFrame      = errors.New("d1: frame shorter than header")
	ErrCorruptFrame    = errors.New("d1: corrupt frame")

	ErrSizeMismatch     = fmt.Errorf("%w: size mismatch", ErrCorruptFrame)
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrCorruptFrame)

	ErrProtocol        = errors.New("d2: protocol error")
	ErrTooManyChildren = errors.New("d2: node has too many children")
)
