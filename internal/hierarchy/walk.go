package hierarchy

import "github.com/odyssey-erp/odyssey-construction/internal/lineitem"

// Walk visits rows depth first: each top-level row in document order, followed by its
// children. Rows whose parent is missing are treated as top level. Rows caught in a cycle
// are skipped.
func (t *Tree) Walk(fn func(item *lineitem.LineItem, level int)) {
	children := make(map[string][]*lineitem.LineItem)
	var roots []*lineitem.LineItem
	for _, it := range t.items {
		if _, ok := t.index[it.ParentID]; it.ParentID == "" || !ok {
			roots = append(roots, it)
			continue
		}
		children[it.ParentID] = append(children[it.ParentID], it)
	}
	visited := make(map[string]struct{}, len(t.items))
	var visit func(it *lineitem.LineItem, level int)
	visit = func(it *lineitem.LineItem, level int) {
		if _, seen := visited[it.ID]; seen {
			return
		}
		visited[it.ID] = struct{}{}
		fn(it, level)
		for _, child := range children[it.ID] {
			visit(child, level+1)
		}
	}
	for _, root := range roots {
		visit(root, 0)
	}
}

// Node pairs a row with its depth.
type Node struct {
	Item  lineitem.LineItem
	Level int
}

// Flatten returns rows in Walk order with their depth.
func (t *Tree) Flatten() []Node {
	out := make([]Node, 0, len(t.items))
	t.Walk(func(it *lineitem.LineItem, level int) {
		out = append(out, Node{Item: *it, Level: level})
	})
	return out
}
