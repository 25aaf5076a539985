package client

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/d2lookup/internal/common"
	"github.com/Pablu23/d2lookup/internal/peer"
	"github.com/Pablu23/d2lookup/internal/tree"
)

type Client struct {
	peer *peer.Peer
	log  *log.Entry
}

func Open(serverName string, serverPort uint16, opts ...func(*peer.Options)) (*Client, error) {
	p, err := peer.Dial(serverName, serverPort, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		peer: p,
		log: log.WithFields(log.Fields{
			"Server": serverName,
			"Port":   serverPort,
		}),
	}, nil
}

func (c *Client) Close() error {
	return c.peer.Close()
}

func (c *Client) RequestSubtree(id uint32) error {
	request := common.RequestPacket{ID: id}
	if err := c.peer.Send(request.ToBytes()); err != nil {
		return fmt.Errorf("send request for %d: %w", id, err)
	}
	c.log.WithField("ID", id).Debug("Request acknowledged")
	return nil
}

// ReceiveSize waits for the Response-Size packet, skipping ACK-only and
// duplicate frames that may still be in flight from the request. A corrupt
// frame is dropped; the server resends it since it was never acknowledged.
func (c *Client) ReceiveSize() (int, error) {
	buf := make([]byte, common.MaxDataSize)
	for {
		n, err := c.peer.Receive(buf)
		if errors.Is(err, common.ErrCorruptFrame) {
			c.log.WithError(err).Warn("Dropping corrupt frame, waiting for resend")
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			continue
		}

		resp, err := common.ResponseSizeFromBytes(buf[:n])
		if err != nil {
			return 0, err
		}
		return int(resp.Size), nil
	}
}

// ReceiveNodeBatch receives one frame into buf. Zero means the frame was
// administrative and carried no nodes.
func (c *Client) ReceiveNodeBatch(buf []byte) (int, error) {
	return c.peer.Receive(buf)
}

// FetchTree runs the whole exchange for the subtree rooted at id.
func (c *Client) FetchTree(id uint32) (*tree.Store, error) {
	if err := c.RequestSubtree(id); err != nil {
		return nil, err
	}

	size, err := c.ReceiveSize()
	if err != nil {
		return nil, fmt.Errorf("receive response size: %w", err)
	}
	c.log.WithFields(log.Fields{
		"ID":    id,
		"Nodes": size,
	}).Info("Receiving subtree")

	store := tree.New(size)
	buf := make([]byte, common.MaxDataSize)
	for !store.Full() {
		n, err := c.ReceiveNodeBatch(buf)
		if errors.Is(err, common.ErrCorruptFrame) {
			c.log.WithError(err).Warn("Dropping corrupt frame, waiting for resend")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("receive nodes (%d of %d): %w", store.Len(), size, err)
		}
		if n == 0 {
			continue
		}

		if _, err := store.Append(buf[:n]); err != nil {
			return nil, err
		}
	}

	return store, nil
}
