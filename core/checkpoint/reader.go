package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"os"

	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
	"github.com/sushant-115/gojokv/core/write_engine/wal"
)

// CheckpointReader reads the records of a snapshot file in order.
type CheckpointReader struct {
	file      *os.File
	reader    *bufio.Reader
	size      uint64
	truncated bool
}

func OpenCheckpointReader(path string) (*CheckpointReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open checkpoint file %s: %v", flushmanager.ErrIO, path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: failed to stat checkpoint file %s: %v", flushmanager.ErrIO, path, err)
	}
	return &CheckpointReader{file: file, reader: bufio.NewReader(file), size: uint64(info.Size())}, nil
}

// Read returns the next record, or io.EOF at the end of the snapshot. An
// incomplete trailing record is also reported as io.EOF.
func (r *CheckpointReader) Read() (key, value []byte, err error) {
	key, err = wal.ReadBlob(r.reader, r.size)
	if err == io.EOF {
		return nil, nil, io.EOF
	}
	if err == nil {
		value, err = wal.ReadBlob(r.reader, r.size)
	}
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		r.truncated = true
		return nil, nil, io.EOF
	case err != nil:
		return nil, nil, fmt.Errorf("%w: failed to read checkpoint record: %v", flushmanager.ErrIO, err)
	}
	return key, value, nil
}

// Truncated reports whether the snapshot ended inside a record.
func (r *CheckpointReader) Truncated() bool { return r.truncated }

func (r *CheckpointReader) Close() error { return r.file.Close() }

// LoadCheckpoint calls fn for every record of the snapshot at path and
// returns the number of records. A missing snapshot loads nothing.
func LoadCheckpoint(path string, fn func(key, value []byte)) (int, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, nil
	}
	r, err := OpenCheckpointReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		key, value, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		fn(key, value)
		n++
	}
}
