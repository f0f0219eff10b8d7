package pagemanager

import (
	"errors"
	"fmt"
	"math"
)

// --- Page Management ---

const (
	PageSize           = 4096
	PageHeaderSize     = 25
	PageAvailableBytes = PageSize - PageHeaderSize
)

// PageID represents a unique identifier for a page on disk. The page lives at
// byte offset PageID*PageSize.
type PageID uint32

const (
	// NoPage is the "none" sentinel for page links.
	NoPage PageID = math.MaxUint32
	// HeaderPageID is always the first page of the file.
	HeaderPageID PageID = 0
)

func (id PageID) IsValid() bool { return id != NoPage }

func (id PageID) Offset() int64 { return int64(id) * PageSize }

func (id PageID) String() string {
	if !id.IsValid() {
		return "none"
	}
	return fmt.Sprintf("%d", uint32(id))
}

type PageType byte

const (
	PageTypeEmpty PageType = iota
	PageTypeHeader
	PageTypeCollection
	PageTypeIndex
	PageTypeData
	PageTypeExtend
)

func (t PageType) String() string {
	switch t {
	case PageTypeEmpty:
		return "Empty"
	case PageTypeHeader:
		return "Header"
	case PageTypeCollection:
		return "Collection"
	case PageTypeIndex:
		return "Index"
	case PageTypeData:
		return "Data"
	case PageTypeExtend:
		return "Extend"
	}
	return fmt.Sprintf("PageType(%d)", byte(t))
}

var (
	ErrSerialization    = errors.New("error during page serialization")
	ErrDeserialization  = errors.New("error during page deserialization")
	ErrInvalidPageData  = errors.New("invalid page data")
	ErrPageTypeMismatch = errors.New("page has a different type than requested")
)

// BasePage is the fixed header shared by every page type.
type BasePage struct {
	PageID     PageID
	PageType   PageType
	PrevPageID PageID
	NextPageID PageID
	ItemCount  uint16
	FreeBytes  uint16

	// IsDirty is never persisted.
	IsDirty bool
}

func newBasePage(id PageID, t PageType) BasePage {
	return BasePage{
		PageID:     id,
		PageType:   t,
		PrevPageID: NoPage,
		NextPageID: NoPage,
		FreeBytes:  PageAvailableBytes,
	}
}

func (b *BasePage) Base() *BasePage { return b }

// Page is implemented by every typed page of this package.
type Page interface {
	Base() *BasePage
	// UpdateItemCount recomputes ItemCount and FreeBytes from the content.
	UpdateItemCount()
	readContent(r *pageReader) error
	writeContent(w *pageWriter) error
}

func freeBytes(used int) uint16 {
	if used >= PageAvailableBytes {
		return 0
	}
	return uint16(PageAvailableBytes - used)
}

// Position addresses a data block or an index node inside a page.
type Position struct {
	PageID PageID
	Index  uint16
}

// PositionSize is the persisted size of a Position.
const PositionSize = 6

// EmptyPosition points nowhere.
var EmptyPosition = Position{PageID: NoPage}

func (p Position) IsEmpty() bool { return !p.PageID.IsValid() }

func (p Position) String() string {
	if p.IsEmpty() {
		return "(empty)"
	}
	return fmt.Sprintf("%d:%d", uint32(p.PageID), p.Index)
}

// Create builds an empty page of type T with the given id.
func Create[T Page](id PageID) T {
	var zero T
	var p Page
	switch any(zero).(type) {
	case *EmptyPage:
		p = NewEmptyPage(id)
	case *HeaderPage:
		p = NewHeaderPage()
	case *CollectionPage:
		p = NewCollectionPage(id)
	case *IndexPage:
		p = NewIndexPage(id)
	case *DataPage:
		p = NewDataPage(id)
	case *ExtendPage:
		p = NewExtendPage(id)
	default:
		panic(fmt.Sprintf("pagemanager: unsupported page type %T", zero))
	}
	return p.(T)
}

func newPageOfType(t PageType, id PageID) (Page, error) {
	switch t {
	case PageTypeEmpty:
		return NewEmptyPage(id), nil
	case PageTypeHeader:
		return NewHeaderPage(), nil
	case PageTypeCollection:
		return NewCollectionPage(id), nil
	case PageTypeIndex:
		return NewIndexPage(id), nil
	case PageTypeData:
		return NewDataPage(id), nil
	case PageTypeExtend:
		return NewExtendPage(id), nil
	}
	return nil, fmt.Errorf("%w: unknown page type %d on page %d", ErrInvalidPageData, byte(t), id)
}

// As converts p to the concrete page type T.
func As[T Page](p Page) (T, error) {
	t, ok := p.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: page %d is %s, want %T", ErrPageTypeMismatch, p.Base().PageID, p.Base().PageType, zero)
	}
	return t, nil
}
