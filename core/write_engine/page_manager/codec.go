package pagemanager

import (
	"encoding/binary"
	"fmt"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
)

// --- Page (de)serialization ---
//
// Header layout (little endian):
//   0  PageID      u32
//   4  PageType    u8
//   5  PrevPageID  u32
//   9  NextPageID  u32
//   13 ItemCount   u16
//   15 FreeBytes   u16
//   17..25 reserved

// Encode serializes p into a PageSize buffer.
func Encode(p Page) ([]byte, error) {
	buf := make([]byte, PageSize)
	if err := EncodeInto(p, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeInto serializes p into buf, which must be PageSize bytes long.
func EncodeInto(p Page, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("%w: buffer is %d bytes", ErrSerialization, len(buf))
	}
	clear(buf)
	p.UpdateItemCount()
	b := p.Base()
	binary.LittleEndian.PutUint32(buf[0:], uint32(b.PageID))
	buf[4] = byte(b.PageType)
	binary.LittleEndian.PutUint32(buf[5:], uint32(b.PrevPageID))
	binary.LittleEndian.PutUint32(buf[9:], uint32(b.NextPageID))
	binary.LittleEndian.PutUint16(buf[13:], b.ItemCount)
	binary.LittleEndian.PutUint16(buf[15:], b.FreeBytes)

	if b.PageType == PageTypeEmpty {
		return nil
	}
	w := &pageWriter{buf: buf[PageHeaderSize:]}
	if err := p.writeContent(w); err != nil {
		return fmt.Errorf("%w: page %d (%s): %v", ErrSerialization, b.PageID, b.PageType, err)
	}
	if w.err != nil {
		return fmt.Errorf("%w: page %d (%s): %v", ErrSerialization, b.PageID, b.PageType, w.err)
	}
	return nil
}

// DecodeHeader reads the fixed page header from buf.
func DecodeHeader(buf []byte) (BasePage, error) {
	if len(buf) < PageHeaderSize {
		return BasePage{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrDeserialization, PageHeaderSize, len(buf))
	}
	return BasePage{
		PageID:     PageID(binary.LittleEndian.Uint32(buf[0:])),
		PageType:   PageType(buf[4]),
		PrevPageID: PageID(binary.LittleEndian.Uint32(buf[5:])),
		NextPageID: PageID(binary.LittleEndian.Uint32(buf[9:])),
		ItemCount:  binary.LittleEndian.Uint16(buf[13:]),
		FreeBytes:  binary.LittleEndian.Uint16(buf[15:]),
	}, nil
}

// Decode deserializes a full page image. Content is only parsed for
// non-empty page types.
func Decode(buf []byte) (Page, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("%w: page image is %d bytes", ErrDeserialization, len(buf))
	}
	hdr, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	p, err := newPageOfType(hdr.PageType, hdr.PageID)
	if err != nil {
		return nil, err
	}
	*p.Base() = hdr
	if hdr.PageType == PageTypeEmpty {
		return p, nil
	}
	r := &pageReader{buf: buf[PageHeaderSize:]}
	if err := p.readContent(r); err != nil {
		return nil, fmt.Errorf("%w: page %d (%s): %v", ErrDeserialization, hdr.PageID, hdr.PageType, err)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: page %d (%s): %v", ErrDeserialization, hdr.PageID, hdr.PageType, r.err)
	}
	return p, nil
}

type pageWriter struct {
	buf []byte
	pos int
	err error
}

func (w *pageWriter) reserve(n int) []byte {
	if w.err != nil {
		return nil
	}
	if w.pos+n > len(w.buf) {
		w.err = fmt.Errorf("content overflow: need %d bytes at offset %d of %d", n, w.pos, len(w.buf))
		return nil
	}
	b := w.buf[w.pos : w.pos+n]
	w.pos += n
	return b
}

func (w *pageWriter) u8(v byte) {
	if b := w.reserve(1); b != nil {
		b[0] = v
	}
}

func (w *pageWriter) u16(v uint16) {
	if b := w.reserve(2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (w *pageWriter) u32(v uint32) {
	if b := w.reserve(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (w *pageWriter) u64(v uint64) {
	if b := w.reserve(8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (w *pageWriter) bytes(v []byte) {
	if b := w.reserve(len(v)); b != nil {
		copy(b, v)
	}
}

// str writes a length-prefixed string of at most limit bytes.
func (w *pageWriter) str(s string, limit int) {
	if len(s) > limit {
		w.err = fmt.Errorf("string %q longer than %d bytes", s, limit)
		return
	}
	w.u8(byte(len(s)))
	w.bytes([]byte(s))
}

func (w *pageWriter) pageID(id PageID) { w.u32(uint32(id)) }

func (w *pageWriter) position(p Position) {
	w.pageID(p.PageID)
	w.u16(p.Index)
}

func (w *pageWriter) key(k indexkey.Key) {
	if b := w.reserve(k.EncodedLen()); b != nil {
		k.AppendBinary(b[:0])
	}
}

type pageReader struct {
	buf []byte
	pos int
	err error
}

func (r *pageReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("content truncated: need %d bytes at offset %d of %d", n, r.pos, len(r.buf))
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *pageReader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *pageReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *pageReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *pageReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *pageReader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *pageReader) str() string {
	n := int(r.u8())
	return string(r.take(n))
}

func (r *pageReader) pageID() PageID { return PageID(r.u32()) }

func (r *pageReader) position() Position {
	id := r.pageID()
	return Position{PageID: id, Index: r.u16()}
}

func (r *pageReader) key() indexkey.Key {
	if r.err != nil {
		return indexkey.Key{}
	}
	k, n, err := indexkey.Decode(r.buf[r.pos:])
	if err != nil {
		r.err = err
		return indexkey.Key{}
	}
	r.pos += n
	return k
}
