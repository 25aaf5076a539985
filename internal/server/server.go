package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/kelindar/bitmap"
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/d2lookup/internal/common"
	"github.com/Pablu23/d2lookup/internal/peer"
)

type info struct {
	peer *peer.Peer
	time time.Time
}

type Server struct {
	nodes    []common.NetNode
	byID     map[uint32]int
	sessions map[string]*info
	mu       sync.Mutex
	options  *Options
}

func New(nodes []common.NetNode, opts ...func(*Options)) (*Server, error) {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.BatchSize < 1 || options.BatchSize > common.MaxNodesPerBatch {
		return nil, fmt.Errorf("batch size %d outside 1..%d", options.BatchSize, common.MaxNodesPerBatch)
	}

	if options.SessionTimeout <= 0 {
		return nil, fmt.Errorf("session timeout %v must be positive", options.SessionTimeout)
	}

	byID := make(map[uint32]int, len(nodes))
	for i, node := range nodes {
		if _, ok := byID[node.ID]; ok {
			return nil, fmt.Errorf("duplicate node id %d", node.ID)
		}
		byID[node.ID] = i
	}

	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})

	return &Server{
		nodes:    append([]common.NetNode(nil), nodes...),
		byID:     byID,
		sessions: make(map[string]*info),
		options:  options,
	}, nil
}

// Subtree collects the nodes reachable from id, breadth first. Children
// missing from the dataset are skipped; an unknown id yields nothing.
func (server *Server) Subtree(id uint32) []common.NetNode {
	root, ok := server.byID[id]
	if !ok {
		return nil
	}

	// Marks dataset positions, not node ids, so the set stays as small as
	// the dataset whatever the ids are.
	var visited bitmap.Bitmap
	visited.Set(uint32(root))
	queue := []int{root}
	var out []common.NetNode

	for len(queue) > 0 {
		node := server.nodes[queue[0]]
		queue = queue[1:]
		out = append(out, node)

		for _, child := range node.Children() {
			i, ok := server.byID[child]
			if !ok || visited.Contains(uint32(i)) {
				continue
			}
			visited.Set(uint32(i))
			queue = append(queue, i)
		}
	}

	return out
}

func (server *Server) session(conn net.PacketConn, addr net.Addr) *info {
	server.mu.Lock()
	defer server.mu.Unlock()

	key := addr.String()
	session, ok := server.sessions[key]
	if !ok {
		session = &info{
			peer: peer.New(conn, addr, func(o *peer.Options) {
				o.AckTimeout = server.options.AckTimeout
				o.MaxRetries = server.options.MaxRetries
			}),
		}
		server.sessions[key] = session
		log.WithField("Remote", key).Info("Started Session")
	}
	session.time = time.Now()
	return session
}

func (server *Server) closeSession(addr net.Addr) {
	server.mu.Lock()
	delete(server.sessions, addr.String())
	server.mu.Unlock()
	log.WithField("Remote", addr.String()).Info("Closing Session")
}

func (server *Server) handlePacket(addr net.Addr, session *info, data []byte) {
	flag, err := common.GetPacketType(data)
	if err != nil {
		log.WithError(err).Warn("Received invalid Packet")
		return
	}

	switch flag {
	case common.Request:
		request, err := common.RequestFromBytes(data)
		if err != nil {
			log.WithError(err).Warn("Received invalid Request")
			return
		}
		if err := server.sendSubtree(session.peer, request.ID); err != nil {
			log.WithError(err).WithField("ID", request.ID).Error("Could not send subtree")
			// The sequence bits can no longer be trusted.
			server.closeSession(addr)
		}
	default:
		log.WithField("Packet Type", flag).Error("Unexpected Packet Type")
	}
}

func (server *Server) sendSubtree(p *peer.Peer, id uint32) error {
	nodes := server.Subtree(id)
	if len(nodes) > 0xffff {
		return fmt.Errorf("%w: subtree of %d nodes does not fit the size field", common.ErrProtocol, len(nodes))
	}

	size := common.ResponseSizePacket{Size: uint16(len(nodes))}
	if err := p.Send(size.ToBytes()); err != nil {
		return err
	}

	buf := make([]byte, 0, server.options.BatchSize*common.NodeSize)
	for start := 0; start < len(nodes); start += server.options.BatchSize {
		end := min(start+server.options.BatchSize, len(nodes))

		buf = buf[:0]
		for i := start; i < end; i++ {
			buf = common.AppendNode(buf, &nodes[i])
		}
		if err := p.Send(buf); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"ID":    id,
		"Nodes": len(nodes),
	}).Info("Sent subtree")
	return nil
}

func (server *Server) startTimeout(interruptChan chan bool) {
	running := true
	for running {
		select {
		case c := <-interruptChan:
			if c {
				running = false
			}
		case <-time.After(server.options.SessionTimeout):
			server.cleanup()
		}
	}
}

func (server *Server) cleanup() {
	server.mu.Lock()

	for key, info := range server.sessions {
		if time.Now().After(info.time.Add(server.options.SessionTimeout)) {
			delete(server.sessions, key)
			log.WithField("Remote", key).Info("Closed session")
		}
	}

	server.mu.Unlock()
}

func handleShutdown(conn net.PacketConn) (stop func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	done := make(chan struct{})
	go func() {
		select {
		case <-c:
			log.Info("Server is shutting down")
			if err := conn.Close(); err != nil {
				log.WithError(err).Error("Could not close UDP socket")
			}
		case <-done:
		}
	}()

	return func() {
		signal.Stop(c)
		close(done)
	}
}

// Serve answers requests on conn until conn is closed. Exchanges are
// handled one at a time.
func (server *Server) Serve(conn net.PacketConn) error {
	c := make(chan bool, 1)
	go server.startTimeout(c)
	defer func() {
		c <- true
	}()

	for {
		// A session's Send leaves its own deadline on the shared socket.
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		var buf [common.PacketSize]byte
		n, addr, err := conn.ReadFrom(buf[:])
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			log.WithError(err).Error("Could not retrieve UDP Packet")
			continue
		}

		session := server.session(conn, addr)
		data := make([]byte, common.MaxDataSize)
		r, err := session.peer.Handle(buf[:n], addr, data)
		if err != nil {
			continue
		}
		if r == 0 {
			continue
		}

		server.handlePacket(addr, session, data[:r])
	}
}

func (server *Server) ListenAndServe() error {
	address := fmt.Sprintf("%v:%v", server.options.Address, server.options.Port)
	conn, err := net.ListenPacket("udp4", address)
	if err != nil {
		return fmt.Errorf("%w: listen on %v: %w", peer.ErrSocket, address, err)
	}
	defer func(conn net.PacketConn) {
		err := conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.WithError(err).Error("Could not close UDP socket")
		}
	}(conn)

	log.Infof("Starting server on %v", conn.LocalAddr())

	stop := handleShutdown(conn)
	defer stop()

	return server.Serve(conn)
}
