package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/d2lookup/internal/common"
)

func (p *Peer) retryPolicy() backoff.BackOff {
	if p.options.MaxRetries <= 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(
		backoff.NewConstantBackOff(p.options.RetransmitDelay),
		uint64(p.options.MaxRetries),
	)
}

// Send transmits data as one DATA frame and blocks until the remote
// acknowledges it, retransmitting the same frame on every timeout or wrong
// answer until MaxRetries is spent.
func (p *Peer) Send(data []byte) error {
	if p.state != Idle {
		return ErrBusy
	}
	if p.remote == nil {
		return fmt.Errorf("%w: peer has no remote address", ErrSocket)
	}

	bytes, err := common.Encode(common.Data.WithSeq(p.sendSeq), data)
	if err != nil {
		return err
	}

	p.state = AwaitingAck
	defer func() {
		p.state = Idle
	}()

	retries := p.retryPolicy()
	buf := make([]byte, common.PacketSize)

	for attempt := 0; ; attempt++ {
		if err := p.write(bytes, p.remote); err != nil {
			return err
		}

		acked, err := p.awaitAck(buf)
		if err != nil {
			return err
		}
		if acked {
			p.sendSeq ^= 1
			return nil
		}

		delay := retries.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("%w: seq %d gave up after %d retransmissions", ErrNoAcknowledgment, p.sendSeq, attempt)
		}

		p.log.WithFields(log.Fields{
			"Seq":     p.sendSeq,
			"Attempt": attempt + 1,
		}).Warn("Failed to receive correct ACK, resending data")

		if delay > 0 {
			time.Sleep(delay)
		}
	}
}

// awaitAck reads a single datagram. Anything other than an ACK for the
// current send bit counts as a miss.
func (p *Peer) awaitAck(buf []byte) (bool, error) {
	bytes, addr, err := p.read(buf, p.options.AckTimeout)
	if err != nil {
		return false, err
	}
	if bytes == nil {
		p.log.WithField("Timeout", p.options.AckTimeout).Debug("Timed out waiting for ACK")
		return false, nil
	}

	if !p.fromRemote(addr) {
		p.log.WithField("From", addr.String()).Warn("Dropping datagram from unknown address")
		return false, nil
	}

	frame, err := common.Decode(bytes)
	if err != nil {
		p.log.WithError(err).Warn("Received invalid Packet")
		return false, nil
	}

	if frame.Flag.IsData() {
		return false, p.hold(frame, addr)
	}

	isAck := frame.Flag.IsAck()
	seqMatches := frame.Flag.SeqBit() == p.sendSeq
	if !isAck || !seqMatches {
		p.log.WithFields(log.Fields{
			"Expected": p.sendSeq,
			"Received": frame.Flag.SeqBit(),
			"Flag":     frame.Flag,
		}).Warn("Received wrong Acknowledge")
		return false, nil
	}

	return true, nil
}

// hold keeps a DATA frame that overtook the ACK we are waiting for, so the
// next Receive can deliver it. Only one frame is ever held.
func (p *Peer) hold(frame common.Frame, addr net.Addr) error {
	seq := frame.Flag.SeqBit()
	if seq == p.recvSeq {
		if p.holding {
			p.log.WithField("Seq", seq).Debug("Already holding a frame, dropping DATA without ACK")
			return nil
		}
		p.held = append([]byte(nil), frame.Data...)
		p.holding = true
		p.recvSeq ^= 1
	}
	return p.write(common.NewAck(seq), addr)
}

// release hands the held frame to buf. The frame was already acknowledged,
// so a buffer that is too small leaves it held for the next Receive.
func (p *Peer) release(buf []byte) (int, error) {
	if len(p.held) > len(buf) {
		return 0, fmt.Errorf("%w: %d bytes into %d", ErrBufferTooSmall, len(p.held), len(buf))
	}
	n := copy(buf, p.held)
	p.held = nil
	p.holding = false
	return n, nil
}

// Receive blocks for one datagram and returns the number of payload bytes
// copied into buf. Zero bytes and a nil error mean the datagram was
// administrative: an ACK, a duplicate, or a stranger.
//
// buf should hold common.MaxDataSize bytes. A DATA frame that does not fit
// is not acknowledged; a held frame that does not fit stays held.
func (p *Peer) Receive(buf []byte) (int, error) {
	if p.holding {
		return p.release(buf)
	}

	packet := make([]byte, common.PacketSize)
	bytes, addr, err := p.read(packet, p.options.ReceiveTimeout)
	if err != nil {
		return 0, err
	}
	if bytes == nil {
		return 0, fmt.Errorf("%w: after %v", ErrTimeout, p.options.ReceiveTimeout)
	}

	return p.Handle(bytes, addr, buf)
}

// Handle runs the receive side of D1 on a datagram the caller already read
// from the socket: validate, acknowledge DATA, drop duplicates.
func (p *Peer) Handle(datagram []byte, from net.Addr, buf []byte) (int, error) {
	if !p.fromRemote(from) {
		p.log.WithField("From", from.String()).Warn("Dropping datagram from unknown address")
		return 0, nil
	}

	frame, err := common.Decode(datagram)
	if err != nil {
		p.log.WithError(err).Warn("Received invalid Packet")
		return 0, err
	}

	if !frame.Flag.IsData() {
		p.log.WithField("Seq", frame.Flag.SeqBit()).Debug("Received stray ACK")
		return 0, nil
	}

	if len(frame.Data) > len(buf) {
		return 0, fmt.Errorf("%w: %d bytes into %d", ErrBufferTooSmall, len(frame.Data), len(buf))
	}

	p.adopt(from)

	seq := frame.Flag.SeqBit()
	if err := p.write(common.NewAck(seq), from); err != nil {
		return 0, err
	}

	if seq != p.recvSeq {
		p.log.WithFields(log.Fields{
			"Expected": p.recvSeq,
			"Received": seq,
		}).Debug("Received duplicate DATA, re-acknowledged")
		return 0, nil
	}

	p.recvSeq ^= 1
	return copy(buf, frame.Data), nil
}
