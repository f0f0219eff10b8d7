package flushmanager

import (
	"errors"

	pagemanager "github.com/sushant-115/gojolite/core/write_engine/page_manager"
)

// --- Error Definitions ---

var (
	// Lock contention
	ErrLockTimeout = errors.New("timed out waiting for the data file lock")

	// Data integrity
	ErrIndexDuplicateKey       = errors.New("duplicate key in unique index")
	ErrIndexKeyTooLong         = errors.New("index key exceeds the maximum key length")
	ErrIndexLimitExceeded      = errors.New("collection has no free index slot")
	ErrIndexAlreadyExists      = errors.New("index already exists with different options")
	ErrIndexNotFound           = errors.New("index not found")
	ErrIndexDropPrimaryKey     = errors.New("primary key index cannot be dropped")
	ErrInvalidFieldName        = errors.New("invalid index field name")
	ErrInvalidCollectionName   = errors.New("invalid collection name")
	ErrCollectionAlreadyExists = errors.New("collection already exists")
	ErrCollectionLimitExceeded = errors.New("maximum number of collections reached")
	ErrCollectionNotFound      = errors.New("collection not found")
	ErrDocumentNotFound        = errors.New("document not found")
	ErrInvalidDocumentID       = errors.New("document _id cannot be null, MinValue or MaxValue")
	ErrDatabaseFull            = errors.New("data file has no addressable pages left")

	// Protocol faults
	ErrStaleJournal   = errors.New("journal file already exists")
	ErrJournalCorrupt = errors.New("journal file failed verification")
	ErrReadOnly       = errors.New("data file is opened read-only")
	ErrEngineClosed   = errors.New("engine is closed")

	// I/O and format
	ErrIO               = errors.New("i/o error")
	ErrInvalidDatabase  = errors.New("file is not a valid gojolite data file")
	ErrSerialization    = pagemanager.ErrSerialization
	ErrDeserialization  = pagemanager.ErrDeserialization
	ErrInvalidPageData  = pagemanager.ErrInvalidPageData
	ErrPageTypeMismatch = pagemanager.ErrPageTypeMismatch
)
