package main

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/jacentio/mpath/tree"
)

// renderTree draws the cached nodes of t below its root, or below a "."
// pseudo-root for a forest.
func renderTree(t *tree.Tree, paths bool) (string, error) {
	rootLabel := "."
	if root := t.Root(); root.Persisted() {
		rootLabel = nodeLabel(root, paths)
	}
	out := treeprint.NewWithRoot(rootLabel)

	// branches[d] is the branch holding nodes at walk depth d
	branches := []treeprint.Tree{out}
	err := t.Walk(func(n *tree.Node, depth int) error {
		if depth >= len(branches) {
			return fmt.Errorf("node %d: walk skipped a level", n.ID)
		}
		branch := branches[depth].AddBranch(nodeLabel(n, paths))
		branches = append(branches[:depth+1], branch)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func nodeLabel(n *tree.Node, paths bool) string {
	label := fmt.Sprintf("#%d %s", n.ID, n.Attr("name"))
	if paths {
		label += fmt.Sprintf(" [%s]", n.Path)
	}
	return label
}
