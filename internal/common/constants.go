package common

// PacketSize is the largest datagram, header included, that D1 puts on the wire.
const PacketSize = 1024

const HeaderSize int = 2 + 2 + 2

const MaxDataSize = PacketSize - HeaderSize

// HeaderFlag is the D1 flags field. The low bits tell DATA from ACK, the
// next bit carries the sequence number of the frame.
type HeaderFlag uint16

const (
	Data HeaderFlag = 1 << iota
	Ack
	Seq
)

func (flag HeaderFlag) IsData() bool {
	return flag&Data != 0
}

func (flag HeaderFlag) IsAck() bool {
	return flag&Ack != 0
}

// SeqBit returns 0 or 1.
func (flag HeaderFlag) SeqBit() uint8 {
	if flag&Seq != 0 {
		return 1
	}
	return 0
}

// WithSeq sets the sequence bit of flag to bit (0 or 1).
func (flag HeaderFlag) WithSeq(bit uint8) HeaderFlag {
	if bit&1 == 1 {
		return flag | Seq
	}
	return flag &^ Seq
}

// PacketType is the leading field of every D2 payload.
type PacketType uint16

const (
	Request      PacketType = 1
	ResponseSize PacketType = 2
)

const (
	MaxChildren = 5
	NodeSize    = 4 + 4 + 4 + MaxChildren*4

	// MaxNodesPerBatch is how many NetNode records fit in one DATA frame.
	MaxNodesPerBatch = MaxDataSize / NodeSize
)
