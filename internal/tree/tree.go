package tree

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPath = errors.New("invalid index path")
	ErrDetached    = errors.New("node is not reachable from root")
)

// Node is one element of a structural tree. Children are owned by their
// parent; the parent link is a non-owning back reference maintained by the
// owner through SetParent.
type Node interface {
	Parent() Node
	Children() []Node
	SetParent(parent Node)
}

// Base carries the parent link and is embedded by every tree element.
type Base struct {
	parent Node
}

func (b *Base) Parent() Node {
	return b.parent
}

func (b *Base) SetParent(parent Node) {
	b.parent = parent
}

// Adopt points the parent link of every child at parent.
func Adopt(parent Node, children ...Node) {
	for _, child := range children {
		if child == nil {
			continue
		}
		child.SetParent(parent)
	}
}

// Root follows parent links up to the topmost node.
func Root(n Node) Node {
	for n != nil && n.Parent() != nil {
		n = n.Parent()
	}
	return n
}

// TraverseBackIndex reconstructs the child-index path from the root of n down
// to n. The root itself has an empty path.
func TraverseBackIndex(n Node) ([]int, error) {
	return PathFrom(Root(n), n)
}

// PathFrom returns the child-index path leading from root to n.
func PathFrom(root, n Node) ([]int, error) {
	if root == nil || n == nil {
		return nil, ErrDetached
	}
	var reversed []int
	current := n
	for current != root {
		parent := current.Parent()
		if parent == nil {
			return nil, ErrDetached
		}
		idx := indexOf(parent.Children(), current)
		if idx < 0 {
			return nil, fmt.Errorf("%w: parent does not list child", ErrDetached)
		}
		reversed = append(reversed, idx)
		current = parent
	}
	path := make([]int, len(reversed))
	for i := range reversed {
		path[i] = reversed[len(reversed)-1-i]
	}
	return path, nil
}

// TargetWithIndex navigates from root along path.
func TargetWithIndex(root Node, path []int) (Node, error) {
	if root == nil {
		return nil, ErrInvalidPath
	}
	current := root
	for depth, idx := range path {
		children := current.Children()
		if idx < 0 || idx >= len(children) {
			return nil, fmt.Errorf("%w: index %d at depth %d (children=%d)", ErrInvalidPath, idx, depth, len(children))
		}
		current = children[idx]
	}
	return current, nil
}

// Walk visits root and all its descendants depth-first in child order. The
// path handed to fn is owned by the walker and must be copied if retained.
func Walk(root Node, fn func(n Node, path []int) error) error {
	if root == nil {
		return nil
	}
	return walk(root, nil, fn)
}

func walk(n Node, path []int, fn func(Node, []int) error) error {
	if err := fn(n, path); err != nil {
		return err
	}
	for i, child := range n.Children() {
		if err := walk(child, append(path, i), fn); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of nodes in the subtree rooted at n.
func Count(n Node) int {
	total := 0
	_ = Walk(n, func(Node, []int) error {
		total++
		return nil
	})
	return total
}

// ClonePath returns an independent copy of path.
func ClonePath(path []int) []int {
	if path == nil {
		return nil
	}
	return append([]int(nil), path...)
}

// HasPrefix reports whether path starts with prefix.
func HasPrefix(path, prefix []int) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func indexOf(children []Node, n Node) int {
	for i, child := range children {
		if child == n {
			return i
		}
	}
	return -1
}
