package memtable

import (
	"bytes"

	"cfkv/pkg/types"
)

// Item is one write held in memory. Key is the internal key (cell key plus
// sequence trailer).
type Item struct {
	Key   []byte
	Value []byte
	SeqN  types.SeqN
}

func (it *Item) Less(than *Item) bool {
	return bytes.Compare(it.Key, than.Key) < 0
}
