package indexkey

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Collation compares string keys. The name is persisted in the header page so
// a file is always reopened with the ordering its indexes were built with.
type Collation interface {
	Name() string
	CompareString(a, b string) int
}

type ordinalCollation struct{}

func (ordinalCollation) Name() string { return "" }

func (ordinalCollation) CompareString(a, b string) int { return strings.Compare(a, b) }

// Ordinal compares strings byte by byte.
func Ordinal() Collation { return ordinalCollation{} }

type textCollation struct {
	name     string
	collator *collate.Collator
}

func (c *textCollation) Name() string { return c.name }

func (c *textCollation) CompareString(a, b string) int {
	return c.collator.CompareString(a, b)
}

var collationOptions = map[string]collate.Option{
	"ignorecase":       collate.IgnoreCase,
	"ignorediacritics": collate.IgnoreDiacritics,
	"ignorewidth":      collate.IgnoreWidth,
	"numeric":          collate.Numeric,
	"loose":            collate.Loose,
}

// NewCollation parses names such as "en", "en/IgnoreCase" or
// "pt-BR/IgnoreCase,IgnoreDiacritics". An empty name or "ordinal" selects
// byte-wise comparison.
func NewCollation(name string) (Collation, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "ordinal") {
		return Ordinal(), nil
	}
	tagPart, optPart, _ := strings.Cut(name, "/")
	tag, err := language.Parse(tagPart)
	if err != nil {
		return nil, fmt.Errorf("invalid collation %q: %w", name, err)
	}
	var opts []collate.Option
	if optPart != "" {
		for _, o := range strings.Split(optPart, ",") {
			opt, ok := collationOptions[strings.ToLower(strings.TrimSpace(o))]
			if !ok {
				return nil, fmt.Errorf("invalid collation %q: unknown option %q", name, o)
			}
			opts = append(opts, opt)
		}
	}
	// collate.Collator keeps scratch buffers and is not safe for concurrent
	// use; the engine serializes all access.
	return &textCollation{name: name, collator: collate.New(tag, opts...)}, nil
}

// RemoveAccents strips combining marks after canonical decomposition, so
// "Émile" becomes "Emile".
func RemoveAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
