package collection

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/indexing/skiplist"
	flushmanager "github.com/sushant-115/gojolite/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
	"github.com/sushant-115/gojolite/core/write_engine/pager"
)

const (
	// MaxCollections is the number of collection pages the master chain may
	// hold.
	MaxCollections = 256

	// PrimaryKeyField is the field of index slot 0.
	PrimaryKeyField = "_id"
)

var namePattern = regexp.MustCompile(`^[\w-]{1,30}$`)

// ValidName reports whether name can be used as a collection name.
func ValidName(name string) bool { return namePattern.MatchString(name) }

// Directory manages the chain of collection pages that starts at the
// header's FirstCollectionPageID.
type Directory struct {
	pager   *pager.Pager
	indexer *skiplist.Indexer
	logger  *zap.Logger
}

func NewDirectory(p *pager.Pager, indexer *skiplist.Indexer, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{pager: p, indexer: indexer, logger: logger.Named("collections")}
}

// GetAll returns every collection page in chain order.
func (d *Directory) GetAll() ([]*pagemanager.CollectionPage, error) {
	return pager.GetSeqPages[*pagemanager.CollectionPage](d.pager, d.pager.Header().FirstCollectionPageID)
}

// Get finds a collection by name, ignoring case. It returns nil when the
// collection does not exist.
func (d *Directory) Get(name string) (*pagemanager.CollectionPage, error) {
	cols, err := d.GetAll()
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		if strings.EqualFold(col.CollectionName, name) {
			return col, nil
		}
	}
	return nil, nil
}

// Add creates a collection with its primary key index on _id.
func (d *Directory) Add(name string) (*pagemanager.CollectionPage, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", flushmanager.ErrInvalidCollectionName, name)
	}
	cols, err := d.GetAll()
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		if strings.EqualFold(col.CollectionName, name) {
			return nil, fmt.Errorf("%w: %q", flushmanager.ErrCollectionAlreadyExists, name)
		}
	}
	if len(cols) >= MaxCollections {
		return nil, fmt.Errorf("%w: limit is %d", flushmanager.ErrCollectionLimitExceeded, MaxCollections)
	}

	var last pagemanager.Page
	if len(cols) > 0 {
		last = cols[len(cols)-1]
	}
	col, err := pager.NewPage[*pagemanager.CollectionPage](d.pager, last)
	if err != nil {
		return nil, err
	}
	col.CollectionName = name
	if last == nil {
		header := d.pager.Header()
		header.FirstCollectionPageID = col.PageID
		d.pager.SetDirty(header)
	}

	if _, err := d.indexer.CreateIndex(col, PrimaryKeyField, pagemanager.IndexOptions{Unique: true}); err != nil {
		return nil, err
	}
	d.logger.Debug("collection added", zap.String("collection", name), zap.Uint32("page_id", uint32(col.PageID)))
	return col, nil
}

// Drop deletes col with all of its index pages, data pages and extend chains.
func (d *Directory) Drop(col *pagemanager.CollectionPage) error {
	var pageIDs []pagemanager.PageID
	var extendIDs []pagemanager.PageID
	dataPages := make(map[pagemanager.PageID]struct{})

	nodes, err := d.indexer.FindAll(col.PK())
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if _, seen := dataPages[node.DataBlock.PageID]; seen {
			continue
		}
		dataPages[node.DataBlock.PageID] = struct{}{}
		pageIDs = append(pageIDs, node.DataBlock.PageID)

		page, err := pager.GetTypedPage[*pagemanager.DataPage](d.pager, node.DataBlock.PageID)
		if err != nil {
			return err
		}
		for _, block := range page.DataBlocks {
			if block.ExtendPageID.IsValid() {
				extendIDs = append(extendIDs, block.ExtendPageID)
			}
		}
	}

	for _, index := range col.GetIndexes(true) {
		ids, err := d.indexer.IndexPageIDs(index)
		if err != nil {
			return err
		}
		pageIDs = append(pageIDs, ids...)
	}

	for _, id := range extendIDs {
		if err := d.pager.DeletePage(id, true); err != nil {
			return err
		}
	}
	for _, id := range pageIDs {
		if err := d.pager.DeletePage(id, false); err != nil {
			return err
		}
	}

	if err := d.unlink(col); err != nil {
		return err
	}
	d.logger.Debug("collection dropped", zap.String("collection", col.CollectionName),
		zap.Int("pages", len(pageIDs)), zap.Int("extend_chains", len(extendIDs)))
	return d.pager.DeletePage(col.PageID, false)
}

// unlink removes col from the master chain.
func (d *Directory) unlink(col *pagemanager.CollectionPage) error {
	header := d.pager.Header()
	if col.PrevPageID.IsValid() {
		prev, err := pager.GetTypedPage[*pagemanager.CollectionPage](d.pager, col.PrevPageID)
		if err != nil {
			return err
		}
		prev.NextPageID = col.NextPageID
		d.pager.SetDirty(prev)
	} else {
		header.FirstCollectionPageID = col.NextPageID
		d.pager.SetDirty(header)
	}
	if col.NextPageID.IsValid() {
		next, err := pager.GetTypedPage[*pagemanager.CollectionPage](d.pager, col.NextPageID)
		if err != nil {
			return err
		}
		next.PrevPageID = col.PrevPageID
		d.pager.SetDirty(next)
	}
	return nil
}

// Rename changes the name of col. Changing only the case of the name is
// allowed.
func (d *Directory) Rename(col *pagemanager.CollectionPage, newName string) error {
	if !ValidName(newName) {
		return fmt.Errorf("%w: %q", flushmanager.ErrInvalidCollectionName, newName)
	}
	existing, err := d.Get(newName)
	if err != nil {
		return err
	}
	if existing != nil && existing.PageID != col.PageID {
		return fmt.Errorf("%w: %q", flushmanager.ErrCollectionAlreadyExists, newName)
	}
	d.logger.Debug("collection renamed", zap.String("from", col.CollectionName), zap.String("to", newName))
	col.CollectionName = newName
	d.pager.SetDirty(col)
	return nil
}
