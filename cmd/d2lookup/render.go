package main

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/Pablu23/d2lookup/internal/tree"
)

func renderTree(w io.Writer, root uint32, store *tree.Store) error {
	top := pterm.TreeNode{
		Text: fmt.Sprintf("subtree %d (%d nodes)", root, store.Len()),
	}

	for node, children := range store.All() {
		entry := pterm.TreeNode{
			Text: fmt.Sprintf("id %d value %d children %d", node.ID, node.Value, node.NumChildren),
		}
		for _, child := range children {
			entry.Children = append(entry.Children, pterm.TreeNode{
				Text: fmt.Sprintf("-- id %d", child),
			})
		}
		top.Children = append(top.Children, entry)
	}

	out, err := pterm.DefaultTree.WithRoot(top).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}
