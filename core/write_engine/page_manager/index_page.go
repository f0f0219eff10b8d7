package pagemanager

import (
	"fmt"
	"slices"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
)

const (
	// MaxLevelLength bounds the number of skip-list levels of a node.
	MaxLevelLength = 32
	// MaxIndexKeyLength is the largest encoded key an index node may hold.
	MaxIndexKeyLength = 512
	// IndexNodeFixedSize: index u16, slot u8, levels u8, data block position.
	IndexNodeFixedSize = 2 + 1 + 1 + PositionSize
	// IndexReservedBytes is the free space an index page must keep to stay on
	// its index's free-index-page list.
	IndexReservedBytes = 100
)

// IndexNode is one skip-list entry.
type IndexNode struct {
	Position  Position
	Slot      uint8
	Key       indexkey.Key
	DataBlock Position
	Prev      []Position
	Next      []Position

	// Page is the page that owns the node; it is not persisted.
	Page *IndexPage
}

// NewIndexNode returns an unlinked node with the given number of levels.
func NewIndexNode(levels int) *IndexNode {
	n := &IndexNode{
		Position:  EmptyPosition,
		DataBlock: EmptyPosition,
		Prev:      make([]Position, levels),
		Next:      make([]Position, levels),
	}
	for i := range levels {
		n.Prev[i] = EmptyPosition
		n.Next[i] = EmptyPosition
	}
	return n
}

func (n *IndexNode) Levels() int { return len(n.Next) }

// Length is the number of page bytes the node occupies.
func (n *IndexNode) Length() int {
	return IndexNodeFixedSize + n.Key.EncodedLen() + 2*PositionSize*len(n.Next)
}

// IndexPage stores the nodes of a single index.
type IndexPage struct {
	BasePage
	Nodes map[uint16]*IndexNode
}

func NewIndexPage(id PageID) *IndexPage {
	return &IndexPage{
		BasePage: newBasePage(id, PageTypeIndex),
		Nodes:    make(map[uint16]*IndexNode),
	}
}

func (p *IndexPage) AddNode(n *IndexNode) {
	var idx uint16
	for {
		if _, used := p.Nodes[idx]; !used {
			break
		}
		idx++
	}
	n.Position = Position{PageID: p.PageID, Index: idx}
	n.Page = p
	p.Nodes[idx] = n
	p.UpdateItemCount()
}

func (p *IndexPage) DeleteNode(idx uint16) {
	delete(p.Nodes, idx)
	p.UpdateItemCount()
}

func (p *IndexPage) GetNode(idx uint16) (*IndexNode, error) {
	n, ok := p.Nodes[idx]
	if !ok {
		return nil, fmt.Errorf("%w: no index node %d on page %d", ErrInvalidPageData, idx, p.PageID)
	}
	return n, nil
}

func (p *IndexPage) UpdateItemCount() {
	used := 0
	for _, n := range p.Nodes {
		used += n.Length()
	}
	p.ItemCount = uint16(len(p.Nodes))
	p.FreeBytes = freeBytes(used)
}

func (p *IndexPage) writeContent(w *pageWriter) error {
	idx := make([]uint16, 0, len(p.Nodes))
	for i := range p.Nodes {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	for _, i := range idx {
		n := p.Nodes[i]
		w.u16(i)
		w.u8(n.Slot)
		w.u8(byte(n.Levels()))
		w.position(n.DataBlock)
		w.key(n.Key)
		for l := range n.Levels() {
			w.position(n.Prev[l])
			w.position(n.Next[l])
		}
	}
	return nil
}

func (p *IndexPage) readContent(r *pageReader) error {
	for c := 0; c < int(p.ItemCount) && r.err == nil; c++ {
		idx := r.u16()
		slot := r.u8()
		levels := int(r.u8())
		if levels == 0 || levels > MaxLevelLength {
			return fmt.Errorf("node %d has %d levels", idx, levels)
		}
		n := NewIndexNode(levels)
		n.Position = Position{PageID: p.PageID, Index: idx}
		n.Slot = slot
		n.Page = p
		n.DataBlock = r.position()
		n.Key = r.key()
		for l := range levels {
			n.Prev[l] = r.position()
			n.Next[l] = r.position()
		}
		p.Nodes[idx] = n
	}
	return nil
}
