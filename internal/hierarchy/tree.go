// Package hierarchy arranges BOQ rows into sections and enforces the group/parent rules.
package hierarchy

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
)

// Tree indexes an ordered row list by ID. Mutations go straight to the rows it was built
// from.
type Tree struct {
	items  []*lineitem.LineItem
	index  map[string]*lineitem.LineItem
	levels bool
}

// New builds a tree. Rows need unique, non-empty IDs.
func New(items []*lineitem.LineItem) (*Tree, error) {
	t := &Tree{items: items, index: make(map[string]*lineitem.LineItem, len(items))}
	for i, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("hierarchy: row %d has no id", i)
		}
		if _, dup := t.index[it.ID]; dup {
			return nil, fmt.Errorf("hierarchy: duplicate id %s", it.ID)
		}
		t.index[it.ID] = it
	}
	return t, nil
}

// FromSlice builds a tree over the elements of rows, so edits land in the slice.
func FromSlice(rows []lineitem.LineItem) (*Tree, error) {
	ptrs := make([]*lineitem.LineItem, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	return New(ptrs)
}

// EnforceLevels makes parent assignments and Validate apply CheckLevel to the WBS level
// of each row.
func (t *Tree) EnforceLevels() {
	t.levels = true
}

// Get looks a row up by ID.
func (t *Tree) Get(id string) (*lineitem.LineItem, bool) {
	it, ok := t.index[id]
	return it, ok
}

// Len returns the number of rows.
func (t *Tree) Len() int {
	return len(t.items)
}

// SetParent nests itemID under parentID. The parent must exist and be a group, and the
// move must not create a cycle. A nested row stops being a group, so a group that still
// holds rows cannot be nested.
func (t *Tree) SetParent(itemID, parentID string) error {
	item, ok := t.index[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err := t.checkParent(itemID, parentID); err != nil {
		return err
	}
	item.ParentID = parentID
	item.IsGroup = false
	return nil
}

func (t *Tree) checkParent(itemID, parentID string) error {
	if parentID == itemID {
		return &CycleError{ItemID: itemID, ParentID: parentID}
	}
	parent, ok := t.index[parentID]
	if !ok {
		return &InvalidParentError{ItemID: itemID, ParentID: parentID, Reason: "parent does not exist"}
	}
	if !parent.IsGroup {
		return &InvalidParentError{ItemID: itemID, ParentID: parentID, Reason: "parent must be a group item"}
	}
	if item, ok := t.index[itemID]; ok && t.levels {
		if err := CheckLevel(itemID, parentID, parent.Level, item.Level); err != nil {
			return err
		}
	}
	if t.reaches(parentID, itemID) {
		return &CycleError{ItemID: itemID, ParentID: parentID}
	}
	if item, ok := t.index[itemID]; ok && item.IsGroup && t.hasChildren(itemID) {
		return &InvalidParentError{ItemID: itemID, ParentID: parentID, Reason: "group still has child items"}
	}
	return nil
}

func (t *Tree) hasChildren(id string) bool {
	for _, it := range t.items {
		if it.ParentID == id {
			return true
		}
	}
	return false
}

// reaches follows parent links from start and reports whether target is met. A loop that
// does not pass through target also counts, since the chain never ends.
func (t *Tree) reaches(start, target string) bool {
	visited := make(map[string]struct{})
	for cur := start; cur != ""; {
		if cur == target {
			return true
		}
		if _, seen := visited[cur]; seen {
			return true
		}
		visited[cur] = struct{}{}
		node, ok := t.index[cur]
		if !ok {
			return false
		}
		cur = node.ParentID
	}
	return false
}

// SetGroup flags or unflags a row as a group. A group is never nested, so flagging clears
// the parent.
func (t *Tree) SetGroup(itemID string, group bool) error {
	item, ok := t.index[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	item.IsGroup = group
	if group {
		item.ParentID = ""
	}
	return nil
}

// Indent nests every selected row under parentID. All rows are checked before any is
// changed; the first failure is returned as a BatchError and the tree is left as it was.
func (t *Tree) Indent(selection []string, parentID string) error {
	selected := make(map[string]struct{}, len(selection))
	for _, id := range selection {
		selected[id] = struct{}{}
	}
	for i, id := range selection {
		if _, ok := t.index[id]; !ok {
			return &BatchError{Index: i, ItemID: id, Err: ErrItemNotFound}
		}
		if _, self := selected[parentID]; self && parentID != id {
			return &BatchError{Index: i, ItemID: id, Err: &InvalidParentError{
				ItemID: id, ParentID: parentID, Reason: "parent is part of the selection",
			}}
		}
		if err := t.checkParent(id, parentID); err != nil {
			return &BatchError{Index: i, ItemID: id, Err: err}
		}
	}
	for _, id := range selection {
		item := t.index[id]
		item.ParentID = parentID
		item.IsGroup = false
	}
	return nil
}

// Outdent moves every selected row back to the top level.
func (t *Tree) Outdent(selection []string) error {
	for i, id := range selection {
		if _, ok := t.index[id]; !ok {
			return &BatchError{Index: i, ItemID: id, Err: ErrItemNotFound}
		}
	}
	for _, id := range selection {
		t.index[id].ParentID = ""
	}
	return nil
}

// AddSection appends a top-level group row.
func (t *Tree) AddSection(id, code, name string) (*lineitem.LineItem, error) {
	if _, dup := t.index[id]; dup || id == "" {
		return nil, fmt.Errorf("hierarchy: invalid section id %q", id)
	}
	section := &lineitem.LineItem{
		ID:       id,
		Code:     code,
		Name:     name,
		Kind:     lineitem.KindSection,
		IsGroup:  true,
		Quantity: lineitem.Float(1),
		Unit:     "ls",
		Rate:     lineitem.Float(0),
	}
	t.items = append(t.items, section)
	t.index[id] = section
	return section, nil
}

// Items returns the rows in document order.
func (t *Tree) Items() []*lineitem.LineItem {
	return t.items
}

// ClearHierarchy flattens the document when hierarchical items are switched off.
func (t *Tree) ClearHierarchy() {
	for _, it := range t.items {
		it.ParentID = ""
		it.IsGroup = false
	}
}

// Validate checks the whole tree: every parent exists and is a group, groups are not
// nested and no row is its own ancestor.
func (t *Tree) Validate() error {
	for _, it := range t.items {
		if it.ParentID == "" {
			continue
		}
		if it.IsGroup {
			return &InvalidParentError{ItemID: it.ID, ParentID: it.ParentID, Reason: "a group item cannot be nested"}
		}
		if err := t.checkParent(it.ID, it.ParentID); err != nil {
			return err
		}
	}
	return nil
}

// CheckLevel enforces WBS-style levels: the parent must sit at a lower level than the child.
func CheckLevel(itemID, parentID string, parentLevel, level int) error {
	if parentLevel >= level {
		return &InvalidParentError{ItemID: itemID, ParentID: parentID, Reason: "parent level must be lower than current level"}
	}
	return nil
}
