package client

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Pablu23/d2lookup/internal/common"
	"github.com/Pablu23/d2lookup/internal/peer"
	"github.com/Pablu23/d2lookup/internal/server"
)

func listen(t *testing.T) (net.PacketConn, uint16) {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return conn, uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func open(t *testing.T, port uint16) *Client {
	t.Helper()
	c, err := Open("127.0.0.1", port, func(o *peer.Options) {
		o.AckTimeout = 200 * time.Millisecond
		o.ReceiveTimeout = 2 * time.Second
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		c.Close()
	})
	return c
}

// step is one action of a scripted server after it has read the request.
type step func(p *peer.Peer, conn net.PacketConn) error

func send(payload []byte) step {
	return func(p *peer.Peer, _ net.PacketConn) error {
		return p.Send(payload)
	}
}

// corrupt writes payload as the next DATA frame with one byte flipped, so
// its checksum no longer matches.
func corrupt(payload []byte) step {
	return func(p *peer.Peer, conn net.PacketConn) error {
		bytes, err := common.Encode(common.Data.WithSeq(p.Seq()), payload)
		if err != nil {
			return err
		}
		bytes[len(bytes)-1] ^= 0xff
		_, err = conn.WriteTo(bytes, p.Remote())
		return err
	}
}

// scriptedServer answers exactly one request by running steps in order.
func scriptedServer(t *testing.T, conn net.PacketConn, wantID uint32, steps ...step) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		errc <- func() error {
			p := peer.New(conn, nil, func(o *peer.Options) {
				o.AckTimeout = 200 * time.Millisecond
				o.ReceiveTimeout = 2 * time.Second
			})

			buf := make([]byte, common.MaxDataSize)
			n, err := p.Receive(buf)
			if err != nil {
				return err
			}
			request, err := common.RequestFromBytes(buf[:n])
			if err != nil {
				return err
			}
			if request.ID != wantID {
				return fmt.Errorf("requested %d, want %d", request.ID, wantID)
			}

			for _, do := range steps {
				if err := do(p, conn); err != nil {
					return err
				}
			}
			return nil
		}()
	}()
	return errc
}

func encodeNode(t *testing.T, id, value uint32, children ...uint32) []byte {
	t.Helper()
	node, err := common.NewNetNode(id, value, children...)
	if err != nil {
		t.Fatal(err)
	}
	return common.AppendNode(nil, &node)
}

func TestFetchTreeTwoBatches(t *testing.T) {
	conn, port := listen(t)
	size := common.ResponseSizePacket{Size: 2}
	errc := scriptedServer(t, conn, 7,
		send(size.ToBytes()),
		send(encodeNode(t, 7, 70, 8)),
		send(encodeNode(t, 8, 80)),
	)

	c := open(t, port)
	store, err := c.FetchTree(7)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	if store.Len() != 2 {
		t.Fatalf("count = %d, want 2", store.Len())
	}
	var got []uint32
	for node := range store.All() {
		got = append(got, node.ID)
	}
	if !cmp.Equal(got, []uint32{7, 8}) {
		t.Errorf("order = %v, want [7 8]", got)
	}
}

func TestFetchTreeDropsCorruptFrames(t *testing.T) {
	size := common.ResponseSizePacket{Size: 2}
	first := encodeNode(t, 7, 70, 8)
	second := encodeNode(t, 8, 80)

	for _, tc := range []struct {
		name  string
		steps []step
	}{
		{"size", []step{corrupt(size.ToBytes()), send(size.ToBytes()), send(first), send(second)}},
		{"batch", []step{send(size.ToBytes()), send(first), corrupt(second), send(second)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conn, port := listen(t)
			errc := scriptedServer(t, conn, 7, tc.steps...)

			store, err := open(t, port).FetchTree(7)
			if err != nil {
				t.Fatal(err)
			}
			if err := <-errc; err != nil {
				t.Fatal(err)
			}

			var got []uint32
			for node := range store.All() {
				got = append(got, node.ID)
			}
			if !cmp.Equal(got, []uint32{7, 8}) {
				t.Errorf("order = %v, want [7 8]", got)
			}
		})
	}
}

func TestFetchTreeEmpty(t *testing.T) {
	conn, port := listen(t)
	size := common.ResponseSizePacket{Size: 0}
	errc := scriptedServer(t, conn, 3, send(size.ToBytes()))

	store, err := open(t, port).FetchTree(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if store.Len() != 0 || store.Cap() != 0 {
		t.Errorf("store = %d/%d, want empty", store.Len(), store.Cap())
	}
}

func TestReceiveSizeProtocolError(t *testing.T) {
	conn, port := listen(t)
	wrong := common.RequestPacket{ID: 1}
	errc := scriptedServer(t, conn, 5, send(wrong.ToBytes()))

	c := open(t, port)
	if err := c.RequestSubtree(5); err != nil {
		t.Fatal(err)
	}
	_, err := c.ReceiveSize()
	if !errors.Is(err, common.ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}

func TestFetchTreeCapacityError(t *testing.T) {
	conn, port := listen(t)
	size := common.ResponseSizePacket{Size: 1}
	errc := scriptedServer(t, conn, 1,
		send(size.ToBytes()),
		send(append(encodeNode(t, 1, 1), encodeNode(t, 2, 2)...)),
	)

	_, err := open(t, port).FetchTree(1)
	if err == nil {
		t.Fatal("expected overflowing batch to fail")
	}
	<-errc
}

func TestFetchTreeFromServer(t *testing.T) {
	nodes, err := server.ParseDataset(`
[[node]]
id = 7
value = 700
children = [8, 9]

[[node]]
id = 8
value = 800

[[node]]
id = 9
value = 900
children = [10]

[[node]]
id = 10
value = 1000
`)
	if err != nil {
		t.Fatal(err)
	}

	srv, err := server.New(nodes, func(o *server.Options) {
		o.BatchSize = 1
		o.AckTimeout = 200 * time.Millisecond
	})
	if err != nil {
		t.Fatal(err)
	}

	conn, port := listen(t)
	go srv.Serve(conn)

	c := open(t, port)
	for _, tc := range []struct {
		id   uint32
		want []uint32
	}{
		{7, []uint32{7, 8, 9, 10}},
		{9, []uint32{9, 10}},
		{11, nil},
	} {
		store, err := c.FetchTree(tc.id)
		if err != nil {
			t.Fatalf("fetch %d: %v", tc.id, err)
		}

		var got []uint32
		for node, children := range store.All() {
			got = append(got, node.ID)
			if want, ok := store.Lookup(node.ID); !ok || !cmp.Equal(children, want.Children()) {
				t.Errorf("children of %d = %v", node.ID, children)
			}
		}
		if !cmp.Equal(got, tc.want) {
			t.Errorf("fetch %d = %v, want %v", tc.id, got, tc.want)
		}
		if len(store.Unresolved()) != 0 {
			t.Errorf("fetch %d left unresolved children %v", tc.id, store.Unresolved())
		}
	}
}

func TestOpenResolutionError(t *testing.T) {
	_, err := Open("no-such-host.invalid", 2311)
	if !errors.Is(err, peer.ErrResolution) {
		t.Fatalf("got %v, want ErrResolution", err)
	}
}
