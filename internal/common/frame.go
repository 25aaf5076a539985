package common

import (
	"encoding/binary"
	"fmt"
)

// Frame is one decoded D1 datagram.
type Frame struct {
	Flag     HeaderFlag
	Size     uint16
	Checksum uint16
	Data     []byte
}

// Encode prepends the D1 header to data.
func Encode(flag HeaderFlag, data []byte) ([]byte, error) {
	if HeaderSize+len(data) > PacketSize {
		return nil, fmt.Errorf("%w: %d bytes, at most %d fit", ErrPayloadTooLarge, len(data), MaxDataSize)
	}

	arr := make([]byte, HeaderSize+len(data))
	binary.BigEndian.PutUint16(arr[0:2], uint16(flag))
	binary.BigEndian.PutUint16(arr[2:4], uint16(len(arr)))
	binary.BigEndian.PutUint16(arr[4:6], Checksum(data))
	copy(arr[HeaderSize:], data)

	return arr, nil
}

// NewAck builds the header-only datagram acknowledging sequence bit seq.
func NewAck(seq uint8) []byte {
	arr, _ := Encode(Ack.WithSeq(seq), nil)
	return arr
}

// Decode validates bytes against its own header. Data aliases bytes.
func Decode(bytes []byte) (Frame, error) {
	if len(bytes) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(bytes))
	}

	frame := Frame{
		Flag:     HeaderFlag(binary.BigEndian.Uint16(bytes[0:2])),
		Size:     binary.BigEndian.Uint16(bytes[2:4]),
		Checksum: binary.BigEndian.Uint16(bytes[4:6]),
	}

	if int(frame.Size) != len(bytes) {
		return Frame{}, fmt.Errorf("%w: header says %d, received %d", ErrSizeMismatch, frame.Size, len(bytes))
	}

	frame.Data = bytes[HeaderSize:]
	if sum := Checksum(frame.Data); sum != frame.Checksum {
		return Frame{}, fmt.Errorf("%w: header says %#04x, computed %#04x", ErrChecksumMismatch, frame.Checksum, sum)
	}

	return frame, nil
}
