package iterator

import (
	"bytes"
	"errors"

	"github.com/google/btree"

	"cfkv/pkg/types"
)

type head struct {
	key types.Key
	src int
}

// Merging yields the union of several sorted iterators in key order. Equal
// keys are yielded once, from the source listed first.
type Merging struct {
	sources []Iterator
	heads   *btree.BTreeG[head]
}

func NewMerging(sources ...Iterator) *Merging {
	m := &Merging{
		sources: sources,
		heads: btree.NewG[head](8, func(a, b head) bool {
			if c := bytes.Compare(a.key, b.key); c != 0 {
				return c < 0
			}
			return a.src < b.src
		}),
	}
	m.reload()
	return m
}

func (m *Merging) reload() {
	m.heads.Clear(false)
	for i, src := range m.sources {
		if src.Valid() {
			m.heads.ReplaceOrInsert(head{key: src.Key(), src: i})
		}
	}
}

func (m *Merging) Valid() bool {
	return m.heads.Len() > 0
}

func (m *Merging) current() (head, bool) {
	return m.heads.Min()
}

func (m *Merging) Key() types.Key {
	h, _ := m.current()
	return h.key
}

func (m *Merging) Value() types.Value {
	h, ok := m.current()
	if !ok {
		return nil
	}
	return m.sources[h.src].Value()
}

func (m *Merging) Next() {
	h, ok := m.heads.DeleteMin()
	if !ok {
		return
	}
	m.advance(h.src)

	for {
		dup, ok := m.heads.Min()
		if !ok || !bytes.Equal(dup.key, h.key) {
			return
		}
		m.heads.DeleteMin()
		m.advance(dup.src)
	}
}

func (m *Merging) advance(i int) {
	src := m.sources[i]
	src.Next()
	if src.Valid() {
		m.heads.ReplaceOrInsert(head{key: src.Key(), src: i})
	}
}

func (m *Merging) Seek(target types.Key) {
	for _, src := range m.sources {
		src.Seek(target)
	}
	m.reload()
}

func (m *Merging) First() {
	for _, src := range m.sources {
		src.First()
	}
	m.reload()
}

// Err reports the first error of a source that tracks errors.
func (m *Merging) Err() error {
	for _, src := range m.sources {
		if e, ok := src.(interface{ Err() error }); ok {
			if err := e.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Merging) Close() error {
	var errs []error
	for _, src := range m.sources {
		errs = append(errs, src.Close())
	}
	m.heads.Clear(false)
	return errors.Join(errs...)
}

// Prefix restricts it to keys starting with prefix. Seek and First position
// on the first such key.
type Prefix struct {
	Iterator
	prefix []byte
}

func NewPrefix(it Iterator, prefix []byte) *Prefix {
	p := &Prefix{Iterator: it, prefix: prefix}
	p.First()
	return p
}

func (p *Prefix) Valid() bool {
	return p.Iterator.Valid() && bytes.HasPrefix(p.Iterator.Key(), p.prefix)
}

func (p *Prefix) First() {
	p.Iterator.Seek(p.prefix)
}

func (p *Prefix) Seek(target types.Key) {
	if bytes.Compare(target, p.prefix) < 0 {
		target = p.prefix
	}
	p.Iterator.Seek(target)
}
