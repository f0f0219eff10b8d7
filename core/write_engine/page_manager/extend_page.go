package pagemanager

import "bytes"

// ExtendPage stores overflow bytes of a data block. Pages of one block are
// chained through PrevPageID/NextPageID.
type ExtendPage struct {
	BasePage
	Data []byte
}

func NewExtendPage(id PageID) *ExtendPage {
	return &ExtendPage{BasePage: newBasePage(id, PageTypeExtend)}
}

// SetData copies at most PageAvailableBytes of data into the page and
// returns the number of bytes taken.
func (p *ExtendPage) SetData(data []byte) int {
	n := min(len(data), PageAvailableBytes)
	p.Data = bytes.Clone(data[:n])
	p.UpdateItemCount()
	return n
}

func (p *ExtendPage) UpdateItemCount() {
	p.ItemCount = uint16(len(p.Data))
	p.FreeBytes = freeBytes(len(p.Data))
}

func (p *ExtendPage) writeContent(w *pageWriter) error {
	w.bytes(p.Data)
	return nil
}

func (p *ExtendPage) readContent(r *pageReader) error {
	p.Data = r.bytes(int(p.ItemCount))
	return nil
}
