package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrIO            = errors.New("i/o error")
	ErrCorruptRecord = errors.New("corrupt log record")
	ErrTxnNotActive  = errors.New("transaction is not active")
	ErrWrongPhase    = errors.New("operation not allowed in current checkpoint phase")
	ErrClosed        = errors.New("database is closed")
	ErrEmptyKey      = errors.New("key must not be empty")
)
