package wal

import (
	"fmt"

	"github.com/sushant-115/gojokv/core/transaction"
)

// EntryType is the tag byte that identifies a LogEntry variant on disk.
type EntryType uint8

const (
	EntryTypeXBegin EntryType = iota + 1
	EntryTypeXCommit
	EntryTypeXAbort
	EntryTypeUpdate
	EntryTypeCPhase // Checkpoint phase transition
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeXBegin:
		return "XBEGIN"
	case EntryTypeXCommit:
		return "XCOMMIT"
	case EntryTypeXAbort:
		return "XABORT"
	case EntryTypeUpdate:
		return "UPDATE"
	case EntryTypeCPhase:
		return "CPHASE"
	default:
		return fmt.Sprintf("ENTRY(%d)", uint8(t))
	}
}

// LogEntry is one record of the write-ahead log. The set of implementations is
// closed: XBegin, XCommit, XAbort, Update and CPhase.
type LogEntry interface {
	Type() EntryType
	isLogEntry()
}

// XBegin marks the start of a transaction.
type XBegin struct {
	Xid transaction.Xid
}

// XCommit marks a transaction whose updates must be redone on recovery.
type XCommit struct {
	Xid transaction.Xid
}

// XAbort marks a transaction whose updates must be discarded.
type XAbort struct {
	Xid transaction.Xid
}

// Update is a logical write of one key. A nil Value is a delete. A nil
// PreviousValue means the key did not exist before the write; it is kept so
// the write can be undone.
type Update struct {
	Xid           transaction.Xid
	Key           []byte
	Value         []byte
	PreviousValue []byte
}

// CPhase records a checkpoint phase transition.
type CPhase struct {
	Phase transaction.CheckpointPhase
}

func (XBegin) Type() EntryType  { return EntryTypeXBegin }
func (XCommit) Type() EntryType { return EntryTypeXCommit }
func (XAbort) Type() EntryType  { return EntryTypeXAbort }
func (Update) Type() EntryType  { return EntryTypeUpdate }
func (CPhase) Type() EntryType  { return EntryTypeCPhase }

func (XBegin) isLogEntry()  {}
func (XCommit) isLogEntry() {}
func (XAbort) isLogEntry()  {}
func (Update) isLogEntry()  {}
func (CPhase) isLogEntry()  {}

// IsDelete reports whether the update removes its key.
func (u Update) IsDelete() bool { return u.Value == nil }

// EntryXid returns the transaction id carried by e, or InvalidXid for entries
// that do not belong to a transaction.
func EntryXid(e LogEntry) transaction.Xid {
	switch v := e.(type) {
	case XBegin:
		return v.Xid
	case XCommit:
		return v.Xid
	case XAbort:
		return v.Xid
	case Update:
		return v.Xid
	default:
		return transaction.InvalidXid
	}
}
