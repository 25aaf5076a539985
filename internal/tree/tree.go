// Package tree holds the nodes of a fetched subtree in the order they
// arrived.
package tree

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/Pablu23/d2lookup/internal/common"
)

var (
	ErrCapacity       = errors.New("tree: store is full")
	ErrMalformedBatch = errors.New("tree: malformed node batch")
)

// Store is a fixed-capacity array of nodes. It never grows.
type Store struct {
	nodes []common.NetNode
	index map[uint32]int
}

func New(capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{
		nodes: make([]common.NetNode, 0, capacity),
		index: make(map[uint32]int, capacity),
	}
}

func (s *Store) Len() int {
	return len(s.nodes)
}

func (s *Store) Cap() int {
	return cap(s.nodes)
}

func (s *Store) Full() bool {
	return len(s.nodes) == cap(s.nodes)
}

// Append decodes every record in bytes and stores them after the current
// nodes. Nothing is stored unless the whole batch is valid and fits.
// It returns the next free index.
func (s *Store) Append(bytes []byte) (int, error) {
	if len(bytes)%common.NodeSize != 0 {
		return len(s.nodes), fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedBatch, len(bytes), common.NodeSize)
	}

	count := len(bytes) / common.NodeSize
	if len(s.nodes)+count > cap(s.nodes) {
		return len(s.nodes), fmt.Errorf("%w: %d nodes stored, %d more do not fit in %d", ErrCapacity, len(s.nodes), count, cap(s.nodes))
	}

	batch := make([]common.NetNode, 0, count)
	for offset := 0; offset < len(bytes); offset += common.NodeSize {
		node, err := common.NodeFromBytes(bytes[offset : offset+common.NodeSize])
		if err != nil {
			return len(s.nodes), fmt.Errorf("%w: record %d: %w", ErrMalformedBatch, offset/common.NodeSize, err)
		}
		batch = append(batch, node)
	}

	for _, node := range batch {
		if _, ok := s.index[node.ID]; !ok {
			s.index[node.ID] = len(s.nodes)
		}
		s.nodes = append(s.nodes, node)
	}
	return len(s.nodes), nil
}

// Node returns the i-th stored node.
func (s *Store) Node(i int) (common.NetNode, bool) {
	if i < 0 || i >= len(s.nodes) {
		return common.NetNode{}, false
	}
	return s.nodes[i], true
}

// Lookup finds the first stored node with the given id.
func (s *Store) Lookup(id uint32) (common.NetNode, bool) {
	i, ok := s.index[id]
	if !ok {
		return common.NetNode{}, false
	}
	return s.nodes[i], true
}

// All yields every node with its child ids, in insertion order. The
// sequence can be ranged over any number of times.
func (s *Store) All() iter.Seq2[common.NetNode, []uint32] {
	return func(yield func(common.NetNode, []uint32) bool) {
		for i := range s.nodes {
			node := s.nodes[i]
			children := make([]uint32, node.NumChildren)
			copy(children, node.Children())
			if !yield(node, children) {
				return
			}
		}
	}
}

// Unresolved lists, in ascending order, the child ids referenced by stored
// nodes that are not stored themselves.
func (s *Store) Unresolved() []uint32 {
	seen := make(map[uint32]struct{})
	var missing []uint32
	for i := range s.nodes {
		for _, child := range s.nodes[i].Children() {
			if _, ok := s.index[child]; ok {
				continue
			}
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			missing = append(missing, child)
		}
	}

	slices.Sort(missing)
	return missing
}
