package server

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/Pablu23/d2lookup/internal/common"
)

type datasetFile struct {
	Nodes []datasetNode `toml:"node"`
}

type datasetNode struct {
	ID       uint32   `toml:"id"`
	Value    uint32   `toml:"value"`
	Children []uint32 `toml:"children"`
}

// LoadDataset reads the tree a server hands out from a TOML file of
// [[node]] tables.
func LoadDataset(path string) ([]common.NetNode, error) {
	var raw datasetFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	return raw.toNodes()
}

func ParseDataset(data string) ([]common.NetNode, error) {
	var raw datasetFile
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	return raw.toNodes()
}

func (raw *datasetFile) toNodes() ([]common.NetNode, error) {
	nodes := make([]common.NetNode, 0, len(raw.Nodes))
	for _, n := range raw.Nodes {
		node, err := common.NewNetNode(n.ID, n.Value, n.Children...)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
