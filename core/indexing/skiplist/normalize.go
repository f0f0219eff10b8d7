package skiplist

import (
	"strings"

	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// Normalize applies the string options of an index to key. Non-string keys
// are returned unchanged.
func Normalize(opts pagemanager.IndexOptions, key indexkey.Key) indexkey.Key {
	if key.Type() != indexkey.TypeString {
		return key
	}
	s := key.Str()
	if opts.TrimWhitespace {
		s = strings.TrimSpace(s)
	}
	if opts.EmptyStringToNull && s == "" {
		return indexkey.Null()
	}
	if opts.RemoveAccents {
		s = indexkey.RemoveAccents(s)
	}
	if opts.IgnoreCase {
		s = strings.ToLower(s)
	}
	if s == key.Str() {
		return key
	}
	return indexkey.String(s)
}
