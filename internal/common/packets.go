package common

import (
	"encoding/binary"
	"fmt"
)

const (
	RequestSize      = 2 + 4
	ResponseSizeSize = 2 + 2
)

type RequestPacket struct {
	ID uint32
}

type ResponseSizePacket struct {
	Size uint16
}

// NetNode references its children by id. Only the first NumChildren
// entries of ChildIDs are meaningful.
type NetNode struct {
	ID          uint32
	Value       uint32
	NumChildren uint32
	ChildIDs    [MaxChildren]uint32
}

func NewNetNode(id uint32, value uint32, children ...uint32) (NetNode, error) {
	if len(children) > MaxChildren {
		return NetNode{}, fmt.Errorf("%w: node %d has %d, at most %d fit", ErrTooManyChildren, id, len(children), MaxChildren)
	}
	node := NetNode{
		ID:          id,
		Value:       value,
		NumChildren: uint32(len(children)),
	}
	copy(node.ChildIDs[:], children)
	return node, nil
}

func (node *NetNode) Children() []uint32 {
	return node.ChildIDs[:node.NumChildren]
}

func (pck *RequestPacket) ToBytes() []byte {
	arr := make([]byte, RequestSize)
	binary.BigEndian.PutUint16(arr[0:2], uint16(Request))
	binary.BigEndian.PutUint32(arr[2:6], pck.ID)
	return arr
}

func (pck *ResponseSizePacket) ToBytes() []byte {
	arr := make([]byte, ResponseSizeSize)
	binary.BigEndian.PutUint16(arr[0:2], uint16(ResponseSize))
	binary.BigEndian.PutUint16(arr[2:4], pck.Size)
	return arr
}

// GetPacketType reads the type field every D2 control payload starts with.
func GetPacketType(bytes []byte) (PacketType, error) {
	if len(bytes) < 2 {
		return 0, fmt.Errorf("%w: payload of %d bytes has no type", ErrProtocol, len(bytes))
	}
	return PacketType(binary.BigEndian.Uint16(bytes[0:2])), nil
}

func RequestFromBytes(bytes []byte) (RequestPacket, error) {
	if err := expectPacket(bytes, Request, RequestSize); err != nil {
		return RequestPacket{}, err
	}
	return RequestPacket{ID: binary.BigEndian.Uint32(bytes[2:6])}, nil
}

func ResponseSizeFromBytes(bytes []byte) (ResponseSizePacket, error) {
	if err := expectPacket(bytes, ResponseSize, ResponseSizeSize); err != nil {
		return ResponseSizePacket{}, err
	}
	return ResponseSizePacket{Size: binary.BigEndian.Uint16(bytes[2:4])}, nil
}

func expectPacket(bytes []byte, want PacketType, size int) error {
	got, err := GetPacketType(bytes)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected packet type %d, got %d", ErrProtocol, want, got)
	}
	if len(bytes) < size {
		return fmt.Errorf("%w: packet type %d needs %d bytes, got %d", ErrProtocol, want, size, len(bytes))
	}
	return nil
}

// AppendNode appends the wire record for node to arr.
func AppendNode(arr []byte, node *NetNode) []byte {
	arr = binary.BigEndian.AppendUint32(arr, node.ID)
	arr = binary.BigEndian.AppendUint32(arr, node.Value)
	arr = binary.BigEndian.AppendUint32(arr, node.NumChildren)
	for _, child := range node.ChildIDs {
		arr = binary.BigEndian.AppendUint32(arr, child)
	}
	return arr
}

// NodeFromBytes reads one record from the first NodeSize bytes.
func NodeFromBytes(bytes []byte) (NetNode, error) {
	if len(bytes) < NodeSize {
		return NetNode{}, fmt.Errorf("%w: node record needs %d bytes, got %d", ErrProtocol, NodeSize, len(bytes))
	}
	node := NetNode{
		ID:          binary.BigEndian.Uint32(bytes[0:4]),
		Value:       binary.BigEndian.Uint32(bytes[4:8]),
		NumChildren: binary.BigEndian.Uint32(bytes[8:12]),
	}
	if node.NumChildren > MaxChildren {
		return NetNode{}, fmt.Errorf("%w: node %d claims %d", ErrTooManyChildren, node.ID, node.NumChildren)
	}
	for i := range node.ChildIDs {
		offset := 12 + 4*i
		node.ChildIDs[i] = binary.BigEndian.Uint32(bytes[offset : offset+4])
	}
	return node, nil
}
