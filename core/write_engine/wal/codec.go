package wal

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sushant-115/gojokv/core/transaction"
	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
)

// On-disk framing. Every record is
//
//	[length u64 BE][tag u8][payload]
//
// where length covers the tag and the payload. Byte blobs are
// [length u64 BE][bytes]. All integers are big-endian.
const (
	LengthPrefixSize = 8

	xidSize = 8

	presenceAbsent  byte = 0
	presencePresent byte = 1
)

// EncodeEntry serializes e into a record body (tag byte plus payload), without
// the length prefix.
func EncodeEntry(e LogEntry) ([]byte, error) {
	switch v := e.(type) {
	case XBegin:
		return appendXid([]byte{byte(EntryTypeXBegin)}, v.Xid), nil
	case XCommit:
		return appendXid([]byte{byte(EntryTypeXCommit)}, v.Xid), nil
	case XAbort:
		return appendXid([]byte{byte(EntryTypeXAbort)}, v.Xid), nil
	case Update:
		size := 1 + xidSize + LengthPrefixSize + len(v.Key) +
			1 + LengthPrefixSize + len(v.Value) +
			1 + LengthPrefixSize + len(v.PreviousValue)
		buf := make([]byte, 0, size)
		buf = append(buf, byte(EntryTypeUpdate))
		buf = appendXid(buf, v.Xid)
		buf = AppendBlob(buf, v.Key)
		buf = appendOptionalBlob(buf, v.Value)
		buf = appendOptionalBlob(buf, v.PreviousValue)
		return buf, nil
	case CPhase:
		if !v.Phase.Valid() {
			return nil, fmt.Errorf("cannot encode invalid checkpoint phase %d", uint8(v.Phase))
		}
		return []byte{byte(EntryTypeCPhase), byte(v.Phase)}, nil
	case nil:
		return nil, fmt.Errorf("cannot encode nil log entry")
	default:
		return nil, fmt.Errorf("cannot encode log entry of type %T", e)
	}
}

// AppendFrame appends body to dst preceded by its length prefix.
func AppendFrame(dst, body []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(body)))
	return append(dst, body...)
}

// EncodeFrame returns the complete on-disk representation of e.
func EncodeFrame(e LogEntry) ([]byte, error) {
	body, err := EncodeEntry(e)
	if err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, LengthPrefixSize+len(body)), body), nil
}

// AppendBlob appends a length-prefixed byte blob to dst.
func AppendBlob(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(b)))
	return append(dst, b...)
}

// ReadBlob reads one length-prefixed blob from r. A clean end of input before
// the prefix returns io.EOF; input that ends inside the blob returns
// io.ErrUnexpectedEOF. limit bounds the accepted blob length.
func ReadBlob(r io.Reader, limit uint64) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(prefix[:])
	if n > limit {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}

// DecodeEntry parses a record body produced by EncodeEntry. Any malformed body
// yields an error wrapping flushmanager.ErrCorruptRecord.
func DecodeEntry(body []byte) (LogEntry, error) {
	d := decoder{buf: body}
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}

	var e LogEntry
	switch EntryType(tag) {
	case EntryTypeXBegin, EntryTypeXCommit, EntryTypeXAbort:
		xid, err := d.xid()
		if err != nil {
			return nil, err
		}
		switch EntryType(tag) {
		case EntryTypeXBegin:
			e = XBegin{Xid: xid}
		case EntryTypeXCommit:
			e = XCommit{Xid: xid}
		default:
			e = XAbort{Xid: xid}
		}
	case EntryTypeUpdate:
		u := Update{}
		if u.Xid, err = d.xid(); err != nil {
			return nil, err
		}
		if u.Key, err = d.blob(); err != nil {
			return nil, err
		}
		if len(u.Key) == 0 {
			// nil and empty keys encode identically.
			u.Key = nil
		}
		if u.Value, err = d.optionalBlob(); err != nil {
			return nil, err
		}
		if u.PreviousValue, err = d.optionalBlob(); err != nil {
			return nil, err
		}
		e = u
	case EntryTypeCPhase:
		ordinal, err := d.u8()
		if err != nil {
			return nil, err
		}
		phase := transaction.CheckpointPhase(ordinal)
		if !phase.Valid() {
			return nil, corruptf("unknown checkpoint phase ordinal %d", ordinal)
		}
		e = CPhase{Phase: phase}
	default:
		return nil, corruptf("unknown entry type tag %d", tag)
	}

	if d.remaining() != 0 {
		return nil, corruptf("%d trailing bytes after %s entry", d.remaining(), e.Type())
	}
	return e, nil
}

func appendXid(dst []byte, xid transaction.Xid) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(xid))
}

func appendOptionalBlob(dst, b []byte) []byte {
	if b == nil {
		return append(dst, presenceAbsent)
	}
	return AppendBlob(append(dst, presencePresent), b)
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", flushmanager.ErrCorruptRecord, fmt.Sprintf(format, args...))
}

// decoder walks a record body. Every read is bounds checked against the body
// so a damaged length can never cause an over-read or a huge allocation.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) u8() (byte, error) {
	if d.remaining() < 1 {
		return 0, corruptf("record ends at offset %d, expected 1 more byte", d.off)
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, corruptf("record ends at offset %d, expected 8 more bytes", d.off)
	}
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) xid() (transaction.Xid, error) {
	v, err := d.u64()
	return transaction.Xid(v), err
}

func (d *decoder) blob() ([]byte, error) {
	n, err := d.u64()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.remaining()) {
		return nil, corruptf("blob length %d exceeds remaining %d bytes", n, d.remaining())
	}
	b := make([]byte, n)
	copy(b, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return b, nil
}

func (d *decoder) optionalBlob() ([]byte, error) {
	presence, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch presence {
	case presenceAbsent:
		return nil, nil
	case presencePresent:
		return d.blob()
	default:
		return nil, corruptf("invalid presence byte %d", presence)
	}
}
