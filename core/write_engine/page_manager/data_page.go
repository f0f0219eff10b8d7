package pagemanager

import (
	"fmt"
	"slices"
)

const (
	// DataBlockFixedSize is the per-block overhead: index u16, extend page
	// u32 and data length u16.
	DataBlockFixedSize = 2 + 4 + 2
	// DataReservedBytes is the free space a data page must keep to stay on
	// its collection's free-data-page list.
	DataReservedBytes = PageAvailableBytes / 2
)

// DataBlock holds one serialized document. When the document does not fit in
// the page, Data is empty and ExtendPageID points to the overflow chain.
type DataBlock struct {
	Position     Position
	ExtendPageID PageID
	Data         []byte

	// Page is the page that owns the block; it is not persisted.
	Page *DataPage
}

func NewDataBlock() *DataBlock {
	return &DataBlock{Position: EmptyPosition, ExtendPageID: NoPage}
}

func (b *DataBlock) Length() int { return DataBlockFixedSize + len(b.Data) }

// DataPage stores data blocks of a single collection.
type DataPage struct {
	BasePage
	DataBlocks map[uint16]*DataBlock
}

func NewDataPage(id PageID) *DataPage {
	return &DataPage{
		BasePage:   newBasePage(id, PageTypeData),
		DataBlocks: make(map[uint16]*DataBlock),
	}
}

// AddBlock assigns the lowest free slot index to b and stores it.
func (p *DataPage) AddBlock(b *DataBlock) {
	var idx uint16
	for {
		if _, used := p.DataBlocks[idx]; !used {
			break
		}
		idx++
	}
	b.Position = Position{PageID: p.PageID, Index: idx}
	b.Page = p
	p.DataBlocks[idx] = b
	p.UpdateItemCount()
}

func (p *DataPage) DeleteBlock(idx uint16) {
	delete(p.DataBlocks, idx)
	p.UpdateItemCount()
}

func (p *DataPage) GetBlock(idx uint16) (*DataBlock, error) {
	b, ok := p.DataBlocks[idx]
	if !ok {
		return nil, fmt.Errorf("%w: no data block %d on page %d", ErrInvalidPageData, idx, p.PageID)
	}
	return b, nil
}

func (p *DataPage) UpdateItemCount() {
	used := 0
	for _, b := range p.DataBlocks {
		used += b.Length()
	}
	p.ItemCount = uint16(len(p.DataBlocks))
	p.FreeBytes = freeBytes(used)
}

func (p *DataPage) sortedIndexes() []uint16 {
	idx := make([]uint16, 0, len(p.DataBlocks))
	for i := range p.DataBlocks {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	return idx
}

func (p *DataPage) writeContent(w *pageWriter) error {
	for _, i := range p.sortedIndexes() {
		b := p.DataBlocks[i]
		w.u16(i)
		w.pageID(b.ExtendPageID)
		w.u16(uint16(len(b.Data)))
		w.bytes(b.Data)
	}
	return nil
}

func (p *DataPage) readContent(r *pageReader) error {
	for n := 0; n < int(p.ItemCount) && r.err == nil; n++ {
		b := &DataBlock{Page: p}
		idx := r.u16()
		b.Position = Position{PageID: p.PageID, Index: idx}
		b.ExtendPageID = r.pageID()
		b.Data = r.bytes(int(r.u16()))
		p.DataBlocks[idx] = b
	}
	return nil
}
