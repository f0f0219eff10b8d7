package datastore

import (
	"fmt"

	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	"github.com/sushant-115/gojolite/core/write_engine/pager"
)

// PageIO is the direct disk access used by the stream APIs, which bypass the
// page cache.
type PageIO interface {
	ReadPage(pageID pagemanager.PageID) (pagemanager.Page, error)
	WritePage(page pagemanager.Page) error
}

// Store keeps serialized documents in data blocks. Documents that do not fit
// in a data page spill into a chain of extend pages.
type Store struct {
	pager  *pager.Pager
	disk   PageIO
	logger *zap.Logger
}

func New(p *pager.Pager, disk PageIO, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pager: p, disk: disk, logger: logger.Named("data_store")}
}

// Insert stores data as a new block of col and bumps its document count.
func (s *Store) Insert(col *pagemanager.CollectionPage, data []byte) (*pagemanager.DataBlock, error) {
	extend := len(data) > pagemanager.PageAvailableBytes-pagemanager.DataBlockFixedSize
	size := pagemanager.DataBlockFixedSize
	if !extend {
		size += len(data)
	}

	dataPage, err := pager.GetFreePage[*pagemanager.DataPage](s.pager, col.FreeDataPageID, size)
	if err != nil {
		return nil, err
	}

	block := pagemanager.NewDataBlock()
	if extend {
		first, err := pager.NewPage[*pagemanager.ExtendPage](s.pager, nil)
		if err != nil {
			return nil, err
		}
		block.ExtendPageID = first.PageID
		if err := s.StoreExtendData(first, data); err != nil {
			return nil, err
		}
	} else {
		block.Data = data
	}

	dataPage.AddBlock(block)
	s.pager.SetDirty(dataPage)

	if err := s.updateFreeList(col, dataPage); err != nil {
		return nil, err
	}
	col.DocumentCount++
	s.pager.SetDirty(col)
	return block, nil
}

// Update replaces the content of the block at pos. The block keeps its
// position, so index nodes pointing at it stay valid.
func (s *Store) Update(col *pagemanager.CollectionPage, pos pagemanager.Position, data []byte) (*pagemanager.DataBlock, error) {
	dataPage, block, err := s.getBlock(pos)
	if err != nil {
		return nil, err
	}

	extend := int(dataPage.FreeBytes)+len(block.Data)-len(data) < 0
	if extend {
		if block.ExtendPageID.IsValid() {
			first, err := pager.GetTypedPage[*pagemanager.ExtendPage](s.pager, block.ExtendPageID)
			if err != nil {
				return nil, err
			}
			if err := s.StoreExtendData(first, data); err != nil {
				return nil, err
			}
		} else {
			first, err := pager.NewPage[*pagemanager.ExtendPage](s.pager, nil)
			if err != nil {
				return nil, err
			}
			block.ExtendPageID = first.PageID
			if err := s.StoreExtendData(first, data); err != nil {
				return nil, err
			}
		}
		block.Data = nil
	} else {
		block.Data = data
		if block.ExtendPageID.IsValid() {
			if err := s.pager.DeletePage(block.ExtendPageID, true); err != nil {
				return nil, err
			}
			block.ExtendPageID = pagemanager.NoPage
		}
	}

	dataPage.UpdateItemCount()
	s.pager.SetDirty(dataPage)
	if err := s.updateFreeList(col, dataPage); err != nil {
		return nil, err
	}
	return block, nil
}

// Read returns the block at pos. With readExtendData the overflow chain is
// loaded into the returned block's Data.
func (s *Store) Read(pos pagemanager.Position, readExtendData bool) (*pagemanager.DataBlock, error) {
	_, block, err := s.getBlock(pos)
	if err != nil {
		return nil, err
	}
	if readExtendData && block.ExtendPageID.IsValid() {
		data, err := s.ReadExtendData(block.ExtendPageID)
		if err != nil {
			return nil, err
		}
		return &pagemanager.DataBlock{
			Position:     block.Position,
			ExtendPageID: block.ExtendPageID,
			Data:         data,
			Page:         block.Page,
		}, nil
	}
	return block, nil
}

// Delete removes the block at pos together with its overflow chain. A data
// page left empty goes back to the empty page list.
func (s *Store) Delete(col *pagemanager.CollectionPage, pos pagemanager.Position) (*pagemanager.DataBlock, error) {
	dataPage, block, err := s.getBlock(pos)
	if err != nil {
		return nil, err
	}
	if block.ExtendPageID.IsValid() {
		if err := s.pager.DeletePage(block.ExtendPageID, true); err != nil {
			return nil, err
		}
	}

	dataPage.DeleteBlock(pos.Index)
	s.pager.SetDirty(dataPage)

	if len(dataPage.DataBlocks) == 0 {
		if err := s.pager.AddOrRemoveToFreeList(false, dataPage, col, &col.FreeDataPageID); err != nil {
			return nil, err
		}
		if err := s.pager.DeletePage(dataPage.PageID, false); err != nil {
			return nil, err
		}
	} else if err := s.updateFreeList(col, dataPage); err != nil {
		return nil, err
	}

	if col.DocumentCount > 0 {
		col.DocumentCount--
	}
	s.pager.SetDirty(col)
	return block, nil
}

// StoreExtendData writes data across the chain starting at first, growing it
// with new pages as needed and deleting pages the data no longer needs.
func (s *Store) StoreExtendData(first *pagemanager.ExtendPage, data []byte) error {
	page := first
	offset := 0
	for {
		offset += page.SetData(data[offset:])
		s.pager.SetDirty(page)
		if offset >= len(data) {
			break
		}
		if page.NextPageID.IsValid() {
			next, err := pager.GetTypedPage[*pagemanager.ExtendPage](s.pager, page.NextPageID)
			if err != nil {
				return err
			}
			page = next
			continue
		}
		next, err := pager.NewPage[*pagemanager.ExtendPage](s.pager, page)
		if err != nil {
			return err
		}
		page = next
	}

	if page.NextPageID.IsValid() {
		if err := s.pager.DeletePage(page.NextPageID, true); err != nil {
			return err
		}
		page.NextPageID = pagemanager.NoPage
		s.pager.SetDirty(page)
	}
	return nil
}

// ReadExtendData concatenates the chain starting at extendPageID.
func (s *Store) ReadExtendData(extendPageID pagemanager.PageID) ([]byte, error) {
	pages, err := pager.GetSeqPages[*pagemanager.ExtendPage](s.pager, extendPageID)
	if err != nil {
		return nil, err
	}
	size := 0
	for _, p := range pages {
		size += len(p.Data)
	}
	out := make([]byte, 0, size)
	for _, p := range pages {
		out = append(out, p.Data...)
	}
	return out, nil
}

// updateFreeList keeps dataPage on col's free-data-page list while it has
// more than DataReservedBytes free.
func (s *Store) updateFreeList(col *pagemanager.CollectionPage, dataPage *pagemanager.DataPage) error {
	return s.pager.AddOrRemoveToFreeList(dataPage.FreeBytes > pagemanager.DataReservedBytes, dataPage, col, &col.FreeDataPageID)
}

func (s *Store) getBlock(pos pagemanager.Position) (*pagemanager.DataPage, *pagemanager.DataBlock, error) {
	if pos.IsEmpty() {
		return nil, nil, fmt.Errorf("%w: empty data block position", flushmanager.ErrInvalidPageData)
	}
	dataPage, err := pager.GetTypedPage[*pagemanager.DataPage](s.pager, pos.PageID)
	if err != nil {
		return nil, nil, err
	}
	block, err := dataPage.GetBlock(pos.Index)
	if err != nil {
		return nil, nil, err
	}
	return dataPage, block, nil
}
