package pagemanager

import "fmt"

const (
	// HeaderMagic marks a gojolite data file ("GJLT").
	HeaderMagic uint32 = 0x544C4A47
	FileVersion byte   = 1

	MaxCollationNameLength = 64
)

// HeaderPage is page 0. It owns the allocation state of the whole file.
type HeaderPage struct {
	BasePage

	Magic       uint32
	FileVersion byte
	// ChangeID is bumped on every committed write transaction and wraps
	// around; readers compare it to detect changes made by another process.
	ChangeID              uint16
	FreeEmptyPageID       PageID
	LastPageID            PageID
	FirstCollectionPageID PageID
	UserVersion           uint16
	Collation             string
}

func NewHeaderPage() *HeaderPage {
	return &HeaderPage{
		BasePage:              newBasePage(HeaderPageID, PageTypeHeader),
		Magic:                 HeaderMagic,
		FileVersion:           FileVersion,
		FreeEmptyPageID:       NoPage,
		LastPageID:            HeaderPageID,
		FirstCollectionPageID: NoPage,
	}
}

func (h *HeaderPage) UpdateItemCount() {
	h.ItemCount = 0
	h.FreeBytes = 0
}

func (h *HeaderPage) writeContent(w *pageWriter) error {
	w.u32(h.Magic)
	w.u8(h.FileVersion)
	w.u16(h.ChangeID)
	w.pageID(h.FreeEmptyPageID)
	w.pageID(h.LastPageID)
	w.pageID(h.FirstCollectionPageID)
	w.u16(h.UserVersion)
	w.str(h.Collation, MaxCollationNameLength)
	return nil
}

func (h *HeaderPage) readContent(r *pageReader) error {
	h.Magic = r.u32()
	h.FileVersion = r.u8()
	if r.err == nil && h.Magic != HeaderMagic {
		return fmt.Errorf("bad magic %#x", h.Magic)
	}
	if r.err == nil && h.FileVersion != FileVersion {
		return fmt.Errorf("unsupported file version %d", h.FileVersion)
	}
	h.ChangeID = r.u16()
	h.FreeEmptyPageID = r.pageID()
	h.LastPageID = r.pageID()
	h.FirstCollectionPageID = r.pageID()
	h.UserVersion = r.u16()
	h.Collation = r.str()
	return nil
}
