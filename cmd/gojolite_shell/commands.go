package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/sushant-115/gojolite/core/engine"
	"github.com/sushant-115/gojolite/core/indexing/indexkey"
	"github.com/sushant-115/gojolite/core/indexing/skiplist"
	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

var errExit = errors.New("exit")

type shell struct {
	db  *engine.Engine
	out io.Writer
}

const helpText = `Commands:
  insert <collection> <json>             insert a document (extended JSON)
  update <collection> <json>             replace the document with the same _id
  delete <collection> <id>               delete by _id (id is a JSON value)
  get <collection> <id>                  find by _id
  find <collection> <field> [op value]   op: eq gt gte lt lte startswith (default: all)
  count <collection>
  ensureindex <collection> <field> [unique] [ignorecase] [trim] [removeaccents]
  dropindex <collection> <field>
  indexes <collection>
  collections
  dropcollection <collection>
  rename <collection> <new name>
  begin | commit | rollback
  upload <id> <path>                     store a file as a stream
  download <id> <path>                   write a stream to a file
  streams                                list streams
  rmstream <id>
  backup <path> [bytes per second]
  help
  exit | quit`

// exec runs one command line.
func (s *shell) exec(ctx context.Context, line string) error {
	cmd, rest := nextToken(line)
	switch strings.ToLower(cmd) {
	case "insert":
		col, doc := nextToken(rest)
		raw, err := parseDocument(doc)
		if err != nil {
			return err
		}
		id, err := s.db.Insert(ctx, col, raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "inserted %s\n", id)
	case "update":
		col, doc := nextToken(rest)
		raw, err := parseDocument(doc)
		if err != nil {
			return err
		}
		found, err := s.db.Update(ctx, col, raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "updated: %t\n", found)
	case "delete":
		col, idText := nextToken(rest)
		id, err := parseValue(idText)
		if err != nil {
			return err
		}
		found, err := s.db.Delete(ctx, col, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "deleted: %t\n", found)
	case "get":
		col, idText := nextToken(rest)
		id, err := parseValue(idText)
		if err != nil {
			return err
		}
		doc, err := s.db.FindByID(col, id)
		if err != nil {
			return err
		}
		return s.printDocs([]bson.Raw{doc})
	case "find":
		return s.find(rest)
	case "count":
		n, err := s.db.Count(strings.TrimSpace(rest))
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, n)
	case "ensureindex":
		args := strings.Fields(rest)
		if len(args) < 2 {
			return errors.New("ensureindex requires <collection> <field>")
		}
		var opts pagemanager.IndexOptions
		for _, o := range args[2:] {
			switch strings.ToLower(o) {
			case "unique":
				opts.Unique = true
			case "ignorecase":
				opts.IgnoreCase = true
			case "trim":
				opts.TrimWhitespace = true
			case "removeaccents":
				opts.RemoveAccents = true
			default:
				return fmt.Errorf("unknown index option %q", o)
			}
		}
		created, err := s.db.EnsureIndex(ctx, args[0], args[1], opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "created: %t\n", created)
	case "dropindex":
		col, field := nextToken(rest)
		dropped, err := s.db.DropIndex(ctx, col, strings.TrimSpace(field))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "dropped: %t\n", dropped)
	case "indexes":
		indexes, err := s.db.GetIndexes(strings.TrimSpace(rest))
		if err != nil {
			return err
		}
		for _, ix := range indexes {
			fmt.Fprintf(s.out, "%d %s unique=%t\n", ix.Slot, ix.Field, ix.Options.Unique)
		}
	case "collections":
		names, err := s.db.GetCollectionNames()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(s.out, n)
		}
	case "dropcollection":
		dropped, err := s.db.DropCollection(ctx, strings.TrimSpace(rest))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "dropped: %t\n", dropped)
	case "rename":
		col, newName := nextToken(rest)
		renamed, err := s.db.RenameCollection(ctx, col, strings.TrimSpace(newName))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "renamed: %t\n", renamed)
	case "begin":
		return s.db.BeginTrans(ctx)
	case "commit":
		return s.db.Commit(ctx)
	case "rollback":
		return s.db.Rollback(ctx)
	case "upload":
		return s.upload(ctx, rest)
	case "download":
		return s.download(rest)
	case "streams":
		streams, err := s.db.ListStreams()
		if err != nil {
			return err
		}
		for _, st := range streams {
			fmt.Fprintf(s.out, "%s\t%s\t%d\t%s\n", st.ID, st.Filename, st.Length, st.UploadDate.Format("2006-01-02 15:04:05"))
		}
	case "rmstream":
		deleted, err := s.db.DeleteStream(ctx, strings.TrimSpace(rest))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "deleted: %t\n", deleted)
	case "backup":
		return s.backup(ctx, rest)
	case "help":
		fmt.Fprintln(s.out, helpText)
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", cmd)
	}
	return nil
}

func (s *shell) find(rest string) error {
	args := strings.Fields(rest)
	if len(args) < 2 {
		return errors.New("find requires <collection> <field>")
	}
	q := skiplist.All()
	if len(args) > 2 {
		if len(args) < 4 {
			return errors.New("find with an operator requires a value")
		}
		valueText := strings.Join(args[3:], " ")
		op := strings.ToLower(args[2])
		if op == "startswith" {
			prefix, err := parseValue(valueText)
			if err != nil {
				return err
			}
			str, ok := prefix.StringValueOK()
			if !ok {
				return errors.New("startswith needs a string")
			}
			q = skiplist.StartsWith(str)
		} else {
			v, err := parseValue(valueText)
			if err != nil {
				return err
			}
			key, err := indexkey.FromRawValue(v)
			if err != nil {
				return err
			}
			switch op {
			case "eq":
				q = skiplist.EQ(key)
			case "gt":
				q = skiplist.GT(key)
			case "gte":
				q = skiplist.GTE(key)
			case "lt":
				q = skiplist.LT(key)
			case "lte":
				q = skiplist.LTE(key)
			default:
				return fmt.Errorf("unknown operator %q", op)
			}
		}
	}
	docs, err := s.db.Find(args[0], args[1], q)
	if err != nil {
		return err
	}
	return s.printDocs(docs)
}

func (s *shell) upload(ctx context.Context, rest string) error {
	id, path := nextToken(rest)
	path = strings.TrimSpace(path)
	if id == "" || path == "" {
		return errors.New("upload requires <id> <path>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := s.db.StoreStream(ctx, id, path, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "stored %s (%d bytes)\n", info.ID, info.Length)
	return nil
}

func (s *shell) download(rest string) error {
	id, path := nextToken(rest)
	path = strings.TrimSpace(path)
	if id == "" || path == "" {
		return errors.New("download requires <id> <path>")
	}
	r, _, err := s.db.OpenStream(id)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "wrote %d bytes to %s\n", n, path)
	return nil
}

func (s *shell) backup(ctx context.Context, rest string) error {
	args := strings.Fields(rest)
	if len(args) == 0 {
		return errors.New("backup requires <path>")
	}
	var rate int64
	if len(args) > 1 {
		var err error
		if rate, err = strconv.ParseInt(args[1], 10, 64); err != nil {
			return fmt.Errorf("invalid rate %q: %w", args[1], err)
		}
	}
	res, err := s.db.Backup(ctx, args[0], rate)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "backup of %d bytes, sha256 %x\n", res.Bytes, res.SHA256)
	return nil
}

func (s *shell) printDocs(docs []bson.Raw) error {
	for _, d := range docs {
		js, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, string(js))
	}
	return nil
}

// nextToken splits the first whitespace-separated token off s.
func nextToken(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func parseDocument(js string) (bson.Raw, error) {
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON([]byte(js), false, &raw); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return raw, nil
}

// parseValue reads a single extended JSON value such as 1, "abc" or
// {"$oid": "..."}.
func parseValue(js string) (bson.RawValue, error) {
	js = strings.TrimSpace(js)
	if js == "" {
		return bson.RawValue{}, errors.New("missing value")
	}
	raw, err := parseDocument(`{"v":` + js + `}`)
	if err != nil {
		return bson.RawValue{}, fmt.Errorf("invalid value %s: %w", js, err)
	}
	return raw.Lookup("v"), nil
}
