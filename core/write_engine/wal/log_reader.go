package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
)

// LogReader reads entries sequentially from the start of a log.
type LogReader struct {
	reader    *bufio.Reader
	closer    io.Closer
	size      int64 // Total bytes available to the reader
	offset    int64 // Bytes consumed by fully decoded records
	truncated bool
}

// OpenLogReader opens the log at path for sequential reading.
func OpenLogReader(path string) (*LogReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open log file %s: %v", flushmanager.ErrIO, path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: failed to stat log file %s: %v", flushmanager.ErrIO, path, err)
	}
	r := NewLogReader(file, info.Size())
	r.closer = file
	return r, nil
}

// NewLogReader reads a log of size bytes from r.
func NewLogReader(r io.Reader, size int64) *LogReader {
	return &LogReader{reader: bufio.NewReader(r), size: size}
}

// Read returns the next entry. It returns io.EOF at the end of the log and
// also when the last record is incomplete, which is what a crash in the
// middle of an append leaves behind. A complete record that cannot be decoded
// returns an error wrapping flushmanager.ErrCorruptRecord.
func (r *LogReader) Read() (LogEntry, error) {
	var prefix [LengthPrefixSize]byte
	n, err := io.ReadFull(r.reader, prefix[:])
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		r.truncated = true
		return nil, io.EOF
	case err != nil:
		return nil, fmt.Errorf("%w: failed to read record length at offset %d: %v", flushmanager.ErrIO, r.offset, err)
	}

	length := binary.BigEndian.Uint64(prefix[:n])
	if length == 0 {
		return nil, fmt.Errorf("%w: zero length record at offset %d", flushmanager.ErrCorruptRecord, r.offset)
	}
	available := r.size - r.offset - LengthPrefixSize
	if available < 0 || length > uint64(available) {
		// The record claims more bytes than the log holds: a torn tail.
		r.truncated = true
		return nil, io.EOF
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.reader, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			r.truncated = true
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: failed to read record body at offset %d: %v", flushmanager.ErrIO, r.offset, err)
	}

	entry, err := DecodeEntry(body)
	if err != nil {
		return nil, fmt.Errorf("record at offset %d: %w", r.offset, err)
	}
	r.offset += LengthPrefixSize + int64(length)
	return entry, nil
}

// Offset returns the number of bytes consumed by fully decoded records.
func (r *LogReader) Offset() int64 { return r.offset }

// Truncated reports whether Read stopped at an incomplete trailing record.
func (r *LogReader) Truncated() bool { return r.truncated }

// Close releases the underlying file, if any.
func (r *LogReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
