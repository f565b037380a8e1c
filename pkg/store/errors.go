package store

import "errors"

var (
	ErrWALNotInitialized = errors.New("WAL not initialized")
	ErrClosed            = errors.New("table is closed")
	ErrEmptyRow          = errors.New("row must not be empty")
	ErrUnknownFamily     = errors.New("unknown column family")
	ErrEntryTooLarge     = errors.New("entry does not fit into the memtable")
	ErrFlushFailed       = errors.New("memtable flush failed")
	ErrValueTypeMismatch = errors.New("value type mismatch")
)
