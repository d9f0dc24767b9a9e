package cache

// lruNode is a node in a doubly-linked LRU list.
type lruNode[K comparable, V any] struct {
	key   K
	value V
	prev  *lruNode[K, V]
	next  *lruNode[K, V]
}

// lruList is a doubly-linked list ordered by recency. The head is the most
// recently used node. Not safe for concurrent use.
type lruList[K comparable, V any] struct {
	head *lruNode[K, V]
	tail *lruNode[K, V]
	len  int
}

// Len returns the number of nodes in the list.
func (l *lruList[K, V]) Len() int {
	return l.len
}

// PushFront inserts a new node at the front.
func (l *lruList[K, V]) PushFront(key K, value V) *lruNode[K, V] {
	node := &lruNode[K, V]{key: key, value: value}
	l.linkFront(node)
	return node
}

// MoveToFront marks node as most recently used.
func (l *lruList[K, V]) MoveToFront(node *lruNode[K, V]) {
	if node == l.head {
		return
	}
	l.unlink(node)
	l.linkFront(node)
}

// Remove unlinks node.
func (l *lruList[K, V]) Remove(node *lruNode[K, V]) {
	l.unlink(node)
}

// Back returns the least recently used node, or nil.
func (l *lruList[K, V]) Back() *lruNode[K, V] {
	return l.tail
}

func (l *lruList[K, V]) linkFront(node *lruNode[K, V]) {
	node.prev = nil
	node.next = l.head
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
	l.len++
}

func (l *lruList[K, V]) unlink(node *lruNode[K, V]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	l.len--
}
