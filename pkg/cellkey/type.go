package cellkey

import "fmt"

// RecordType is the kind of a cell record. The numeric order is part of the
// key encoding: for equal row/family/qualifier/timestamp, lower types sort first.
type RecordType uint8

const (
	typeInvalid RecordType = iota
	DeleteRow
	DeleteColumnFamily
	DeleteQualifierAll
	DeleteQualifierLatest
	Value
	AtomicAdd
	AtomicPutIfAbsent
	AtomicAppend
	AtomicAddInt64

	maxRecordType = AtomicAddInt64
)

var typeNames = map[RecordType]string{
	DeleteRow:             "DeleteRow",
	DeleteColumnFamily:    "DeleteColumnFamily",
	DeleteQualifierAll:    "DeleteQualifierAll",
	DeleteQualifierLatest: "DeleteQualifierLatest",
	Value:                 "Value",
	AtomicAdd:             "AtomicAdd",
	AtomicPutIfAbsent:     "AtomicPutIfAbsent",
	AtomicAppend:          "AtomicAppend",
	AtomicAddInt64:        "AtomicAddInt64",
}

func (t RecordType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RecordType(%d)", uint8(t))
}

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	return t > typeInvalid && t <= maxRecordType
}

// IsDelete reports whether t is one of the tombstone markers.
func IsDelete(t RecordType) bool {
	switch t {
	case DeleteRow, DeleteColumnFamily, DeleteQualifierAll, DeleteQualifierLatest:
		return true
	}
	return false
}

// IsAtomic reports whether t is a read-modify-write delta. Anything that is
// neither a Value nor a delete marker is atomic.
func IsAtomic(t RecordType) bool {
	return t.Valid() && t != Value && !IsDelete(t)
}
