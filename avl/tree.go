// Package avl provides the ordered index the heap uses to find the smallest
// free run that can satisfy a request.
package avl

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Node is an entry of a Tree. Node pointers are only stable until the next Erase
// on the tree, which may move a neighbor's key and value into the erased slot.
type Node[K constraints.Ordered, V any] struct {
	key   K
	value V

	parent *Node[K, V]
	left   *Node[K, V]
	right  *Node[K, V]

	// height(right) - height(left)
	balance int8
}

func (n *Node[K, V]) Key() K              { return n.key }
func (n *Node[K, V]) Value() V            { return n.value }
func (n *Node[K, V]) SetValue(value V)    { n.value = value }
func (n *Node[K, V]) BalanceFactor() int  { return int(n.balance) }
func (n *Node[K, V]) Parent() *Node[K, V] { return n.parent }
func (n *Node[K, V]) Left() *Node[K, V]   { return n.left }
func (n *Node[K, V]) Right() *Node[K, V]  { return n.right }

// Predecessor returns the node with the next smaller key, or nil
func (n *Node[K, V]) Predecessor() *Node[K, V] {
	if n.left != nil {
		return n.left.rightmost()
	}

	current := n
	for current.parent != nil && current.parent.left == current {
		current = current.parent
	}
	return current.parent
}

// Successor returns the node with the next larger key, or nil
func (n *Node[K, V]) Successor() *Node[K, V] {
	if n.right != nil {
		return n.right.leftmost()
	}

	current := n
	for current.parent != nil && current.parent.right == current {
		current = current.parent
	}
	return current.parent
}

func (n *Node[K, V]) leftmost() *Node[K, V] {
	for n.left != nil {
		n = n.left
	}
	return n
}

func (n *Node[K, V]) rightmost() *Node[K, V] {
	for n.right != nil {
		n = n.right
	}
	return n
}

// Tree is a height-balanced binary search tree with unique keys. It is not
// synchronized.
type Tree[K constraints.Ordered, V any] struct {
	root *Node[K, V]
	size int

	// most recently matched node
	cache *Node[K, V]
}

func (t *Tree[K, V]) Size() int         { return t.size }
func (t *Tree[K, V]) Root() *Node[K, V] { return t.root }

// Min returns the node with the smallest key, or nil if the tree is empty
func (t *Tree[K, V]) Min() *Node[K, V] {
	if t.root == nil {
		return nil
	}
	return t.root.leftmost()
}

// Max returns the node with the largest key, or nil if the tree is empty
func (t *Tree[K, V]) Max() *Node[K, V] {
	if t.root == nil {
		return nil
	}
	return t.root.rightmost()
}

// Find returns the node with exactly the given key, or nil
func (t *Tree[K, V]) Find(key K) *Node[K, V] {
	if t.cache != nil && t.cache.key == key {
		return t.cache
	}

	current := t.root
	for current != nil {
		if key < current.key {
			current = current.left
		} else if key > current.key {
			current = current.right
		} else {
			t.cache = current
			return current
		}
	}

	return nil
}

// FindEqualOrSuccessor returns the node with the smallest key that is not less
// than key, or nil if every key is smaller
func (t *Tree[K, V]) FindEqualOrSuccessor(key K) *Node[K, V] {
	if t.cache != nil && t.cache.key == key {
		return t.cache
	}

	var best *Node[K, V]
	current := t.root
	for current != nil {
		if key < current.key {
			best = current
			current = current.left
		} else if key > current.key {
			current = current.right
		} else {
			best = current
			break
		}
	}

	if best != nil {
		t.cache = best
	}
	return best
}

// Insert adds key with the given value. It returns false and leaves the tree
// untouched if key is already present.
func (t *Tree[K, V]) Insert(key K, value V) bool {
	var parent *Node[K, V]
	link := &t.root

	for *link != nil {
		parent = *link
		if key < parent.key {
			link = &parent.left
		} else if key > parent.key {
			link = &parent.right
		} else {
			return false
		}
	}

	node := &Node[K, V]{
		key:    key,
		value:  value,
		parent: parent,
	}
	*link = node
	t.size++
	t.cache = node

	t.retraceInsert(node)
	return true
}

func (t *Tree[K, V]) retraceInsert(child *Node[K, V]) {
	for child.parent != nil {
		parent := child.parent
		if parent.left == child {
			parent.balance--
		} else {
			parent.balance++
		}

		switch parent.balance {
		case 0:
			return
		case -2, 2:
			t.rebalance(parent)
			return
		}

		child = parent
	}
}

// Erase removes key from the tree. It returns false if key was not present.
func (t *Tree[K, V]) Erase(key K) bool {
	node := t.Find(key)
	if node == nil {
		return false
	}
	t.cache = nil

	// Relocate a neighbor with at most one child into the erased slot and unlink
	// that neighbor instead
	target := node
	if node.left != nil {
		target = node.left.rightmost()
	} else if node.right != nil {
		target = node.right.leftmost()
	}
	if target != node {
		node.key = target.key
		node.value = target.value
	}

	child := target.left
	if child == nil {
		child = target.right
	}

	parent := target.parent
	if child != nil {
		child.parent = parent
	}
	t.size--

	if parent == nil {
		t.root = child
		return true
	}

	leftShrank := parent.left == target
	if leftShrank {
		parent.left = child
	} else {
		parent.right = child
	}
	target.parent = nil

	t.retraceErase(parent, leftShrank)
	return true
}

func (t *Tree[K, V]) retraceErase(node *Node[K, V], leftShrank bool) {
	for node != nil {
		if leftShrank {
			node.balance++
		} else {
			node.balance--
		}

		subtree := node
		switch node.balance {
		case -1, 1:
			// Height is unchanged
			return
		case -2, 2:
			subtree = t.rebalance(node)
			if subtree.balance != 0 {
				return
			}
		}

		parent := subtree.parent
		if parent == nil {
			return
		}
		leftShrank = parent.left == subtree
		node = parent
	}
}

// rebalance restores the balance of a node whose factor reached +-2 and returns
// the new root of its subtree
func (t *Tree[K, V]) rebalance(node *Node[K, V]) *Node[K, V] {
	if node.balance > 0 {
		if node.right.balance < 0 {
			t.rotateRight(node.right)
		}
		return t.rotateLeft(node)
	}

	if node.left.balance > 0 {
		t.rotateLeft(node.left)
	}
	return t.rotateRight(node)
}

func (t *Tree[K, V]) replaceChild(parent, old, replacement *Node[K, V]) {
	replacement.parent = parent
	if parent == nil {
		t.root = replacement
	} else if parent.left == old {
		parent.left = replacement
	} else {
		parent.right = replacement
	}
}

func (t *Tree[K, V]) rotateLeft(node *Node[K, V]) *Node[K, V] {
	pivot := node.right

	node.right = pivot.left
	if pivot.left != nil {
		pivot.left.parent = node
	}
	t.replaceChild(node.parent, node, pivot)
	pivot.left = node
	node.parent = pivot

	node.balance = node.balance - 1 - maxInt8(pivot.balance, 0)
	pivot.balance = pivot.balance - 1 + minInt8(node.balance, 0)
	return pivot
}

func (t *Tree[K, V]) rotateRight(node *Node[K, V]) *Node[K, V] {
	pivot := node.left

	node.left = pivot.right
	if pivot.right != nil {
		pivot.right.parent = node
	}
	t.replaceChild(node.parent, node, pivot)
	pivot.right = node
	node.parent = pivot

	node.balance = node.balance + 1 - minInt8(pivot.balance, 0)
	pivot.balance = pivot.balance + 1 + maxInt8(node.balance, 0)
	return pivot
}

func minInt8(a, b int8) int8 {
	if a < b {
		return a
	}
	return b
}

func maxInt8(a, b int8) int8 {
	if a > b {
		return a
	}
	return b
}

func (t *Tree[K, V]) IterateInorder(visit func(node *Node[K, V])) {
	inorder(t.root, visit)
}

func (t *Tree[K, V]) IteratePreorder(visit func(node *Node[K, V])) {
	preorder(t.root, visit)
}

func (t *Tree[K, V]) IteratePostorder(visit func(node *Node[K, V])) {
	postorder(t.root, visit)
}

func inorder[K constraints.Ordered, V any](node *Node[K, V], visit func(node *Node[K, V])) {
	if node == nil {
		return
	}
	inorder(node.left, visit)
	visit(node)
	inorder(node.right, visit)
}

func preorder[K constraints.Ordered, V any](node *Node[K, V], visit func(node *Node[K, V])) {
	if node == nil {
		return
	}
	visit(node)
	preorder(node.left, visit)
	preorder(node.right, visit)
}

func postorder[K constraints.Ordered, V any](node *Node[K, V], visit func(node *Node[K, V])) {
	if node == nil {
		return
	}
	postorder(node.left, visit)
	postorder(node.right, visit)
	visit(node)
}

// Clear drops every node, handing each to visit (if not nil) in post-order first
func (t *Tree[K, V]) Clear(visit func(node *Node[K, V])) {
	if visit != nil {
		postorder(t.root, visit)
	}

	t.root = nil
	t.size = 0
	t.cache = nil
}

// Validate walks the whole tree and checks ordering, parent links, balance
// factors and the node count
func (t *Tree[K, V]) Validate() error {
	if t.root != nil && t.root.parent != nil {
		return errors.New("the root node has a parent")
	}

	count := 0
	_, err := t.validateNode(t.root, nil, nil, &count)
	if err != nil {
		return err
	}

	if count != t.size {
		return errors.Errorf("the tree reports %d nodes, but %d were found", t.size, count)
	}

	if t.cache != nil && t.Find(t.cache.key) != t.cache {
		return errors.Errorf("the cached node with key %v is not in the tree", t.cache.key)
	}

	return nil
}

func (t *Tree[K, V]) validateNode(node *Node[K, V], lower, upper *K, count *int) (int, error) {
	if node == nil {
		return 0, nil
	}
	*count++

	if lower != nil && node.key <= *lower {
		return 0, errors.Errorf("node with key %v is out of order: it must be greater than %v", node.key, *lower)
	}
	if upper != nil && node.key >= *upper {
		return 0, errors.Errorf("node with key %v is out of order: it must be less than %v", node.key, *upper)
	}
	if node.left != nil && node.left.parent != node {
		return 0, errors.Errorf("the left child of the node with key %v has a broken parent link", node.key)
	}
	if node.right != nil && node.right.parent != node {
		return 0, errors.Errorf("the right child of the node with key %v has a broken parent link", node.key)
	}

	leftHeight, err := t.validateNode(node.left, lower, &node.key, count)
	if err != nil {
		return 0, err
	}
	rightHeight, err := t.validateNode(node.right, &node.key, upper, count)
	if err != nil {
		return 0, err
	}

	diff := rightHeight - leftHeight
	if diff < -1 || diff > 1 {
		return 0, errors.Errorf("node with key %v is unbalanced: left height %d, right height %d", node.key, leftHeight, rightHeight)
	}
	if diff != int(node.balance) {
		return 0, errors.Errorf("node with key %v has balance factor %d, but its real balance is %d", node.key, node.balance, diff)
	}

	if leftHeight > rightHeight {
		return leftHeight + 1, nil
	}
	return rightHeight + 1, nil
}
