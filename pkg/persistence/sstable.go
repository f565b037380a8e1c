package persistence

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"cfkv/pkg/compression"
	"cfkv/pkg/types"
)

// File layout:
//
//	data:   { keyLen u32 | key | flags u8 | valueLen u32 | value }*
//	index:  { keyLen u32 | key | offset u64 }*   every indexInterval-th record
//	bloom:  see bloomFilter.marshal
//	footer: indexOffset u64 | indexLen u64 | bloomOffset u64 | bloomLen u64 | count u32 | magic u32
//
// Integers are little endian.
const (
	tableMagic    uint32 = 0xcf4b5601
	footerSize           = 40
	indexInterval        = 16

	flagCompressed byte = 1 << 0
)

var (
	ErrCorruptedTable = errors.New("corrupted sstable")
	ErrUnsortedKeys   = errors.New("sstable keys must be strictly ascending")
)

type indexEntry struct {
	key    []byte
	offset int64
}

// WriterOptions configure a new table.
type WriterOptions struct {
	Compressor compression.Zstd
	FPRate     float64
	// BloomKey maps a record key to what the bloom filter indexes, nil means
	// the whole key.
	BloomKey func(key []byte) []byte
}

// TableMeta describes a finished table.
type TableMeta struct {
	Count    uint32
	Size     int64
	Smallest []byte
	Largest  []byte
}

// Writer streams sorted records into a new table file. The file only appears
// under its final name after Finish.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File
	w       *bufio.Writer
	opts    WriterOptions

	offset   int64
	count    uint32
	smallest []byte
	lastKey  []byte
	index    []indexEntry
	blooms   [][]byte
}

func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSTable file: %w", err)
	}

	return &Writer{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		w:       bufio.NewWriterSize(file, 64<<10),
		opts:    opts,
	}, nil
}

// Add appends a record. Keys must be strictly ascending.
func (w *Writer) Add(key, value []byte) error {
	if w.lastKey != nil && bytes.Compare(key, w.lastKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrUnsortedKeys, key, w.lastKey)
	}
	if len(key) > math.MaxUint32 || len(value) > math.MaxUint32 {
		return fmt.Errorf("record too large: key %d, value %d", len(key), len(value))
	}

	var flags byte
	if packed, ok := w.opts.Compressor.Compress(value); ok {
		value = packed
		flags |= flagCompressed
	}

	if w.count%indexInterval == 0 {
		w.index = append(w.index, indexEntry{key: bytes.Clone(key), offset: w.offset})
	}

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(key)))
	if _, err := w.w.Write(scratch[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(key); err != nil {
		return err
	}
	if err := w.w.WriteByte(flags); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(value)))
	if _, err := w.w.Write(scratch[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(value); err != nil {
		return err
	}

	bloomKey := key
	if w.opts.BloomKey != nil {
		bloomKey = w.opts.BloomKey(key)
	}
	if n := len(w.blooms); n == 0 || !bytes.Equal(w.blooms[n-1], bloomKey) {
		w.blooms = append(w.blooms, bytes.Clone(bloomKey))
	}

	if w.smallest == nil {
		w.smallest = bytes.Clone(key)
	}
	w.lastKey = append(w.lastKey[:0], key...)
	w.offset += int64(4 + len(key) + 1 + 4 + len(value))
	w.count++
	return nil
}

func (w *Writer) Count() uint32 {
	return w.count
}

// Path is where the table appears after Finish.
func (w *Writer) Path() string {
	return w.path
}

// Finish writes index, bloom filter and footer, syncs the file and moves it
// to its final path.
func (w *Writer) Finish() (TableMeta, error) {
	indexOffset := w.offset
	var indexData []byte
	for _, e := range w.index {
		indexData = binary.LittleEndian.AppendUint32(indexData, uint32(len(e.key)))
		indexData = append(indexData, e.key...)
		indexData = binary.LittleEndian.AppendUint64(indexData, uint64(e.offset))
	}

	bloom := newBloomFilter(uint32(len(w.blooms)), w.opts.FPRate)
	for _, k := range w.blooms {
		bloom.Add(k)
	}
	bloomData := bloom.marshal()
	bloomOffset := indexOffset + int64(len(indexData))

	footer := make([]byte, 0, footerSize)
	footer = binary.LittleEndian.AppendUint64(footer, uint64(indexOffset))
	footer = binary.LittleEndian.AppendUint64(footer, uint64(len(indexData)))
	footer = binary.LittleEndian.AppendUint64(footer, uint64(bloomOffset))
	footer = binary.LittleEndian.AppendUint64(footer, uint64(len(bloomData)))
	footer = binary.LittleEndian.AppendUint32(footer, w.count)
	footer = binary.LittleEndian.AppendUint32(footer, tableMagic)

	for _, chunk := range [][]byte{indexData, bloomData, footer} {
		if _, err := w.w.Write(chunk); err != nil {
			w.Abort()
			return TableMeta{}, fmt.Errorf("failed to write SSTable trailer: %w", err)
		}
	}
	if err := w.w.Flush(); err != nil {
		w.Abort()
		return TableMeta{}, fmt.Errorf("failed to flush SSTable: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.Abort()
		return TableMeta{}, fmt.Errorf("failed to sync SSTable: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return TableMeta{}, fmt.Errorf("failed to close SSTable: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return TableMeta{}, fmt.Errorf("failed to install SSTable: %w", err)
	}

	return TableMeta{
		Count:    w.count,
		Size:     bloomOffset + int64(len(bloomData)) + footerSize,
		Smallest: w.smallest,
		Largest:  bytes.Clone(w.lastKey),
	}, nil
}

// Abort discards the partially written file.
func (w *Writer) Abort() {
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Warn("failed to close aborted sstable", "path", w.tmpPath, "error", err)
	}
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove aborted sstable", "path", w.tmpPath, "error", err)
	}
}

// SSTable is an open, immutable table. It is reference counted: the level
// manager owns one reference, every reader takes its own.
type SSTable struct {
	id       uint64
	filePath string
	file     *os.File

	dataEnd int64
	count   uint32
	size    int64
	index   []indexEntry
	bloom   BloomFilter

	cache BlockCache
	codec compression.Zstd

	refs     atomic.Int32
	obsolete atomic.Bool
	once     sync.Once
}

// OpenSSTable opens the table file and loads its index and bloom filter.
func OpenSSTable(id uint64, path string, cache BlockCache) (*SSTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SSTable file: %w", err)
	}

	s := &SSTable{
		id:       id,
		filePath: path,
		file:     file,
		cache:    cache,
	}
	if err := s.load(); err != nil {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close sstable after load error", "path", path, "error", cerr)
		}
		return nil, err
	}
	s.refs.Store(1)

	return s, nil
}

func (s *SSTable) load() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	s.size = info.Size()
	if s.size < footerSize {
		return fmt.Errorf("%w: file too small", ErrCorruptedTable)
	}

	footer := make([]byte, footerSize)
	if _, err := s.file.ReadAt(footer, s.size-footerSize); err != nil {
		return fmt.Errorf("failed to read footer: %w", err)
	}
	if binary.LittleEndian.Uint32(footer[36:40]) != tableMagic {
		return fmt.Errorf("%w: bad magic", ErrCorruptedTable)
	}

	var (
		indexOffset = int64(binary.LittleEndian.Uint64(footer[0:8]))
		indexLen    = int64(binary.LittleEndian.Uint64(footer[8:16]))
		bloomOffset = int64(binary.LittleEndian.Uint64(footer[16:24]))
		bloomLen    = int64(binary.LittleEndian.Uint64(footer[24:32]))
	)
	s.count = binary.LittleEndian.Uint32(footer[32:36])
	if indexOffset < 0 || indexOffset+indexLen != bloomOffset || bloomOffset+bloomLen != s.size-footerSize {
		return fmt.Errorf("%w: inconsistent footer", ErrCorruptedTable)
	}
	s.dataEnd = indexOffset

	indexData := make([]byte, indexLen)
	if _, err := s.file.ReadAt(indexData, indexOffset); err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	for len(indexData) > 0 {
		if len(indexData) < 4 {
			return fmt.Errorf("%w: truncated index", ErrCorruptedTable)
		}
		keyLen := int(binary.LittleEndian.Uint32(indexData))
		if len(indexData) < 4+keyLen+8 {
			return fmt.Errorf("%w: truncated index", ErrCorruptedTable)
		}
		s.index = append(s.index, indexEntry{
			key:    indexData[4 : 4+keyLen],
			offset: int64(binary.LittleEndian.Uint64(indexData[4+keyLen:])),
		})
		indexData = indexData[4+keyLen+8:]
	}

	bloomData := make([]byte, bloomLen)
	if _, err := s.file.ReadAt(bloomData, bloomOffset); err != nil {
		return fmt.Errorf("failed to read bloom filter: %w", err)
	}
	bloom, err := unmarshalBloom(bloomData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptedTable, err)
	}
	s.bloom = bloom

	return nil
}

func (s *SSTable) ID() uint64       { return s.id }
func (s *SSTable) Path() string     { return s.filePath }
func (s *SSTable) Size() int64      { return s.size }
func (s *SSTable) Count() uint32    { return s.count }
func (s *SSTable) Refs() int32      { return s.refs.Load() }
func (s *SSTable) IsObsolete() bool { return s.obsolete.Load() }

// MayContain consults the bloom filter with a key built like
// WriterOptions.BloomKey.
func (s *SSTable) MayContain(bloomKey []byte) bool {
	return s.bloom.MayContain(bloomKey)
}

func (s *SSTable) Ref() {
	s.refs.Add(1)
}

// Unref drops a reference. The last one closes the file, and deletes it when
// the table was marked obsolete.
func (s *SSTable) Unref() {
	if s.refs.Add(-1) > 0 {
		return
	}
	s.once.Do(func() {
		if err := s.file.Close(); err != nil {
			slog.Warn("failed to close sstable", "path", s.filePath, "error", err)
		}
		if s.obsolete.Load() {
			if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to remove obsolete sstable", "path", s.filePath, "error", err)
			}
		}
	})
}

// MarkObsolete schedules the file for deletion and drops the owner's
// reference.
func (s *SSTable) MarkObsolete() {
	s.obsolete.Store(true)
	s.Unref()
}

// NewIterator returns an iterator positioned on the first record.
func (s *SSTable) NewIterator() *SSTableIterator {
	it := &SSTableIterator{table: s}
	it.First()
	return it
}

// SSTableIterator walks the records of one table in key order.
type SSTableIterator struct {
	table  *SSTable
	r      *bufio.Reader
	offset int64

	key       []byte
	raw       []byte
	flags     byte
	recOffset int64
	valid     bool
	err       error
}

func (it *SSTableIterator) First() {
	it.seekOffset(0)
	it.Next()
}

// Seek moves to the first record with key >= target.
func (it *SSTableIterator) Seek(target types.Key) {
	idx := it.table.index
	// first sampled key > target, the record we want is at or after the one before it
	pos := sort.Search(len(idx), func(i int) bool {
		return bytes.Compare(idx[i].key, target) > 0
	})

	var start int64
	if pos > 0 {
		start = idx[pos-1].offset
	}
	it.seekOffset(start)
	it.Next()
	for it.valid && bytes.Compare(it.key, target) < 0 {
		it.Next()
	}
}

func (it *SSTableIterator) seekOffset(off int64) {
	it.offset = off
	it.err = nil
	section := io.NewSectionReader(it.table.file, off, it.table.dataEnd-off)
	if it.r == nil {
		it.r = bufio.NewReaderSize(section, 32<<10)
	} else {
		it.r.Reset(section)
	}
}

func (it *SSTableIterator) Next() {
	it.valid = false
	if it.err != nil || it.offset >= it.table.dataEnd {
		return
	}

	var scratch [4]byte
	if _, err := io.ReadFull(it.r, scratch[:]); err != nil {
		it.fail(err)
		return
	}
	key := make([]byte, binary.LittleEndian.Uint32(scratch[:]))
	if _, err := io.ReadFull(it.r, key); err != nil {
		it.fail(err)
		return
	}
	flags, err := it.r.ReadByte()
	if err != nil {
		it.fail(err)
		return
	}
	if _, err := io.ReadFull(it.r, scratch[:]); err != nil {
		it.fail(err)
		return
	}
	raw := make([]byte, binary.LittleEndian.Uint32(scratch[:]))
	if _, err := io.ReadFull(it.r, raw); err != nil {
		it.fail(err)
		return
	}

	it.key, it.raw, it.flags = key, raw, flags
	it.recOffset = it.offset
	it.offset += int64(4 + len(key) + 1 + 4 + len(raw))
	it.valid = true
}

func (it *SSTableIterator) fail(err error) {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	it.err = fmt.Errorf("%w: %s at offset %d: %v", ErrCorruptedTable, it.table.filePath, it.offset, err)
}

func (it *SSTableIterator) Valid() bool {
	return it.valid
}

func (it *SSTableIterator) Key() types.Key {
	return it.key
}

// Value returns the decoded value. A decoding failure invalidates the
// iterator and is reported by Err.
func (it *SSTableIterator) Value() types.Value {
	if it.flags&flagCompressed == 0 {
		return it.raw
	}

	cacheKey := strconv.FormatUint(it.table.id, 10) + ":" + strconv.FormatInt(it.recOffset, 10)
	if it.table.cache != nil {
		if v, ok := it.table.cache.Get(cacheKey); ok {
			return v
		}
	}
	v, err := it.table.codec.Decompress(it.raw)
	if err != nil {
		it.valid = false
		it.err = err
		return nil
	}
	if it.table.cache != nil {
		it.table.cache.Set(cacheKey, v)
	}
	return v
}

func (it *SSTableIterator) Err() error {
	return it.err
}

func (it *SSTableIterator) Close() error {
	it.valid = false
	return nil
}
