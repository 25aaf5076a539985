// Package peer implements D1, a stop-and-wait reliable transport on top of
// UDP. A Peer alternates a single sequence bit per direction and never has
// more than one unacknowledged DATA frame in flight.
package peer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrResolution       = errors.New("d1: could not resolve server")
	ErrSocket           = errors.New("d1: socket error")
	ErrNoAcknowledgment = errors.New("d1: no acknowledgment")
	ErrBusy             = errors.New("d1: send already awaiting acknowledgment")
	ErrBufferTooSmall   = errors.New("d1: buffer too small for payload")
	ErrTimeout          = errors.New("d1: receive timed out")
)

type State uint8

const (
	Idle State = iota
	AwaitingAck
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case AwaitingAck:
		return "AWAITING_ACK"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

type Peer struct {
	conn   net.PacketConn
	owned  bool
	remote net.Addr

	sendSeq uint8
	recvSeq uint8
	state   State

	// held is a DATA frame that arrived while awaiting an ACK.
	held    []byte
	holding bool

	options *Options
	log     *log.Entry
}

// Dial resolves serverName and opens a socket that only this Peer uses.
func Dial(serverName string, serverPort uint16, opts ...func(*Options)) (*Peer, error) {
	address := net.JoinHostPort(serverName, strconv.Itoa(int(serverPort)))
	udpAddr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResolution, address, err)
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSocket, err)
	}

	p := New(conn, udpAddr, opts...)
	p.owned = true
	return p, nil
}

// New layers a Peer on conn without taking ownership of it. A nil remote is
// learned from the first datagram handed to the Peer.
func New(conn net.PacketConn, remote net.Addr, opts ...func(*Options)) *Peer {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	p := &Peer{
		conn:    conn,
		remote:  remote,
		options: options,
	}
	p.log = log.WithField("Peer", uuid.NewString())
	if remote != nil {
		p.log = p.log.WithField("Remote", remote.String())
	}
	return p
}

// Close releases the socket if the Peer owns it.
func (p *Peer) Close() error {
	if !p.owned || p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSocket, err)
	}
	return nil
}

func (p *Peer) Remote() net.Addr {
	return p.remote
}

// Seq is the sequence bit the next Send will carry.
func (p *Peer) Seq() uint8 {
	return p.sendSeq
}

func (p *Peer) State() State {
	return p.state
}

func (p *Peer) write(bytes []byte, to net.Addr) error {
	if p.conn == nil {
		return fmt.Errorf("%w: peer is closed", ErrSocket)
	}
	if _, err := p.conn.WriteTo(bytes, to); err != nil {
		return fmt.Errorf("%w: %w", ErrSocket, err)
	}
	return nil
}

// read returns (nil, nil, nil) when the deadline passes.
func (p *Peer) read(buf []byte, timeout time.Duration) ([]byte, net.Addr, error) {
	if p.conn == nil {
		return nil, nil, fmt.Errorf("%w: peer is closed", ErrSocket)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSocket, err)
	}

	n, addr, err := p.conn.ReadFrom(buf)
	if err != nil {
		var e net.Error
		if errors.As(err, &e) && e.Timeout() {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrSocket, err)
	}
	return buf[:n], addr, nil
}

func (p *Peer) fromRemote(addr net.Addr) bool {
	if p.remote == nil {
		return true
	}
	return addr.String() == p.remote.String()
}

func (p *Peer) adopt(addr net.Addr) {
	if p.remote != nil {
		return
	}
	p.remote = addr
	p.log = p.log.WithField("Remote", addr.String())
}
