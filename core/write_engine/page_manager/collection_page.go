package pagemanager

const (
	// MaxIndexes is the number of index slots of a collection. Slot 0 is the
	// unique primary key on "_id".
	MaxIndexes = 16

	MaxCollectionNameLength = 30
	MaxFieldNameLength      = 64
)

// IndexOptions control key normalization and uniqueness of an index.
type IndexOptions struct {
	Unique            bool
	IgnoreCase        bool
	TrimWhitespace    bool
	EmptyStringToNull bool
	RemoveAccents     bool
}

const (
	optUnique byte = 1 << iota
	optIgnoreCase
	optTrimWhitespace
	optEmptyStringToNull
	optRemoveAccents
)

func (o IndexOptions) flags() byte {
	var f byte
	if o.Unique {
		f |= optUnique
	}
	if o.IgnoreCase {
		f |= optIgnoreCase
	}
	if o.TrimWhitespace {
		f |= optTrimWhitespace
	}
	if o.EmptyStringToNull {
		f |= optEmptyStringToNull
	}
	if o.RemoveAccents {
		f |= optRemoveAccents
	}
	return f
}

func indexOptionsFromFlags(f byte) IndexOptions {
	return IndexOptions{
		Unique:            f&optUnique != 0,
		IgnoreCase:        f&optIgnoreCase != 0,
		TrimWhitespace:    f&optTrimWhitespace != 0,
		EmptyStringToNull: f&optEmptyStringToNull != 0,
		RemoveAccents:     f&optRemoveAccents != 0,
	}
}

// CollectionIndex is one index slot of a collection page.
type CollectionIndex struct {
	Slot            uint8
	Field           string
	Options         IndexOptions
	HeadNode        Position
	FreeIndexPageID PageID

	// Page is the collection page owning the slot; it is not persisted.
	Page *CollectionPage
}

// IsEmpty reports whether the slot is unused.
func (i *CollectionIndex) IsEmpty() bool { return i.Field == "" }

func (i *CollectionIndex) Clear() {
	i.Field = ""
	i.Options = IndexOptions{}
	i.HeadNode = EmptyPosition
	i.FreeIndexPageID = NoPage
}

// CollectionPage describes one collection and its indexes. Collection pages
// form the master chain that starts at HeaderPage.FirstCollectionPageID.
type CollectionPage struct {
	BasePage
	CollectionName string
	DocumentCount  uint64
	FreeDataPageID PageID
	Indexes        [MaxIndexes]CollectionIndex
}

func NewCollectionPage(id PageID) *CollectionPage {
	c := &CollectionPage{
		BasePage:       newBasePage(id, PageTypeCollection),
		FreeDataPageID: NoPage,
	}
	for i := range c.Indexes {
		c.Indexes[i].Slot = uint8(i)
		c.Indexes[i].Page = c
		c.Indexes[i].Clear()
	}
	return c
}

// PK returns the primary key index.
func (c *CollectionPage) PK() *CollectionIndex { return &c.Indexes[0] }

// GetIndex returns the index on field, or nil.
func (c *CollectionPage) GetIndex(field string) *CollectionIndex {
	for i := range c.Indexes {
		if !c.Indexes[i].IsEmpty() && c.Indexes[i].Field == field {
			return &c.Indexes[i]
		}
	}
	return nil
}

// GetFreeIndex returns the first unused slot, or nil when all are taken.
func (c *CollectionPage) GetFreeIndex() *CollectionIndex {
	for i := range c.Indexes {
		if c.Indexes[i].IsEmpty() {
			return &c.Indexes[i]
		}
	}
	return nil
}

// GetIndexes lists the used slots in slot order.
func (c *CollectionPage) GetIndexes(includePK bool) []*CollectionIndex {
	var out []*CollectionIndex
	for i := range c.Indexes {
		if c.Indexes[i].IsEmpty() || (i == 0 && !includePK) {
			continue
		}
		out = append(out, &c.Indexes[i])
	}
	return out
}

func (c *CollectionPage) UpdateItemCount() {
	c.ItemCount = 0
	c.FreeBytes = 0
}

func (c *CollectionPage) writeContent(w *pageWriter) error {
	w.str(c.CollectionName, MaxCollectionNameLength)
	w.u64(c.DocumentCount)
	w.pageID(c.FreeDataPageID)
	for i := range c.Indexes {
		idx := &c.Indexes[i]
		w.str(idx.Field, MaxFieldNameLength)
		w.u8(idx.Options.flags())
		w.position(idx.HeadNode)
		w.pageID(idx.FreeIndexPageID)
	}
	return nil
}

func (c *CollectionPage) readContent(r *pageReader) error {
	c.CollectionName = r.str()
	c.DocumentCount = r.u64()
	c.FreeDataPageID = r.pageID()
	for i := range c.Indexes {
		idx := &c.Indexes[i]
		idx.Slot = uint8(i)
		idx.Page = c
		idx.Field = r.str()
		idx.Options = indexOptionsFromFlags(r.u8())
		idx.HeadNode = r.position()
		idx.FreeIndexPageID = r.pageID()
	}
	return nil
}
