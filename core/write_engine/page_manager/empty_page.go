package pagemanager

// EmptyPage is a recycled page waiting on the header's empty-page list.
type EmptyPage struct {
	BasePage
}

func NewEmptyPage(id PageID) *EmptyPage {
	return &EmptyPage{BasePage: newBasePage(id, PageTypeEmpty)}
}

func (p *EmptyPage) UpdateItemCount() {
	p.ItemCount = 0
	p.FreeBytes = PageAvailableBytes
}

func (p *EmptyPage) writeContent(*pageWriter) error { return nil }
func (p *EmptyPage) readContent(*pageReader) error  { return nil }
