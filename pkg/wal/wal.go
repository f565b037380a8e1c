package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"cfkv/pkg/listener"
	"cfkv/pkg/types"
)

const (
	fileName = "wal.log"

	// seq(8) crc(4) keyLen(4) valueLen(4)
	headerSize = 20
)

var (
	ErrCorrupted = errors.New("wal: corrupted entry")
	ErrClosed    = errors.New("wal: closed")
)

// Entry is one logged write: an encoded cell key and its payload.
type Entry struct {
	SeqNum types.SeqN
	Key    []byte
	Value  []byte
}

// Ack confirms that the entry with SeqNum reached the disk, or why it did not.
type Ack struct {
	SeqNum types.SeqN
	Err    error
}

// WAL implements write-ahead logging. Entries are written and fsynced by a
// background listener, callers wait for the matching Ack on Done.
type WAL struct {
	*listener.Listener[Entry]

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	filePath string
	logger   *slog.Logger

	inputCh chan Entry
	doneCh  chan Ack
}

// New opens (or creates) the log in dir.
func New(dir string) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(dir, fileName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: filePath,
		logger:   slog.Default().With("component", "wal"),
		inputCh:  make(chan Entry, 16),
		doneCh:   make(chan Ack, 16),
	}
	w.Listener = listener.New("wal", w.inputCh, w.writeFile, w.stop)

	return w, nil
}

// Append queues entry for writing. The result arrives on Done.
func (w *WAL) Append(entry Entry) {
	w.inputCh <- entry
}

func (w *WAL) Done() <-chan Ack {
	return w.doneCh
}

// called by the listener for every queued entry
func (w *WAL) writeFile(entry Entry) error {
	err := w.persist(entry)
	w.doneCh <- Ack{SeqNum: entry.SeqNum, Err: err}
	return err
}

func (w *WAL) persist(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return ErrClosed
	}
	if err := writeEntry(w.writer, entry); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Replay calls callback for every entry with SeqNum >= start, in log order.
// A torn entry at the tail of the log ends the replay.
func (w *WAL) Replay(start types.SeqN, callback func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL before replay: %w", err)
		}
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			w.logger.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)
	for {
		entry, err := readEntry(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				w.logger.Warn("torn entry at the end of the WAL, ignoring the tail")
				break
			}
			return fmt.Errorf("failed to read WAL entry: %w", err)
		}
		if entry.SeqNum < start {
			continue
		}

		if err := callback(entry); err != nil {
			return fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}

	return nil
}

// Reset drops every entry. Call it only once all logged writes are durable
// elsewhere and no Append is in flight.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before reset: %w", err)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	w.writer.Reset(w.file)
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		w.writer = nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.file = nil
	}

	return nil
}

func (w *WAL) stop() {
	close(w.doneCh)
	if err := w.Close(); err != nil {
		w.logger.Warn("failed to close WAL", "error", err)
	}
}

func writeEntry(dst io.Writer, entry Entry) error {
	if len(entry.Key) > math.MaxUint32 {
		return fmt.Errorf("key too large: %d", len(entry.Key))
	}
	if len(entry.Value) > math.MaxUint32 {
		return fmt.Errorf("value too large: %d", len(entry.Value))
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], entry.SeqNum)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(entry.Key)))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(entry.Value)))
	binary.LittleEndian.PutUint32(header[8:12], checksum(header[:], entry))

	if _, err := dst.Write(header[:]); err != nil {
		return err
	}
	if _, err := dst.Write(entry.Key); err != nil {
		return err
	}
	_, err := dst.Write(entry.Value)
	return err
}

func readEntry(src io.Reader) (Entry, error) {
	var (
		entry  Entry
		header [headerSize]byte
	)

	if _, err := io.ReadFull(src, header[:]); err != nil {
		return entry, err
	}
	entry.SeqNum = binary.LittleEndian.Uint64(header[0:8])
	sum := binary.LittleEndian.Uint32(header[8:12])
	keyLen := binary.LittleEndian.Uint32(header[12:16])
	valueLen := binary.LittleEndian.Uint32(header[16:20])

	entry.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(src, entry.Key); err != nil {
		return entry, unexpected(err)
	}
	entry.Value = make([]byte, valueLen)
	if _, err := io.ReadFull(src, entry.Value); err != nil {
		return entry, unexpected(err)
	}

	if checksum(header[:], entry) != sum {
		return entry, fmt.Errorf("%w: seq %d", ErrCorrupted, entry.SeqNum)
	}
	return entry, nil
}

// the checksum covers the header without its own field, the key and the value
func checksum(header []byte, entry Entry) uint32 {
	crc := crc32.NewIEEE()
	crc.Write(header[0:8])
	crc.Write(header[12:headerSize])
	crc.Write(entry.Key)
	crc.Write(entry.Value)
	return crc.Sum32()
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
