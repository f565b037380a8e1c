package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SeqN is a monotonically increasing write sequence used for WAL ordering
// and for ordering identical cell keys inside the LSM tree.
type SeqN = uint64

// Timestamp is the user-visible version of a cell, in milliseconds.
type Timestamp = int64
