package wal

import (
	"io"
	"os"
	"sort"

	"github.com/sushant-115/gojokv/core/transaction"
	"go.uber.org/zap"
)

// ReplayResult summarizes a full scan of the log.
type ReplayResult struct {
	// Committed holds the updates of committed transactions in commit order.
	Committed []Update
	// Incomplete lists transactions that logged entries but neither committed
	// nor aborted before the end of the log.
	Incomplete []transaction.Xid
	Aborted    int
	// LastPhase is the most recent checkpoint phase recorded, or 0 if none.
	LastPhase transaction.CheckpointPhase
	MaxXid    transaction.Xid
	Entries   int
	// ValidOffset is the byte length of the readable prefix of the log.
	ValidOffset int64
	// Truncated is set when the log ended inside a record.
	Truncated bool
	// CorruptErr is the decode failure that stopped the scan, if any.
	CorruptErr error
}

// Replay scans the log at path from the start. It stops at the first record
// that cannot be decoded and reports it in CorruptErr instead of failing, so
// recovery keeps every record before the damage. A missing log is an empty
// result.
func Replay(path string, logger *zap.Logger) (*ReplayResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("wal")
	res := &ReplayResult{}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("No write-ahead log to replay", zap.String("path", path))
		return res, nil
	}
	reader, err := OpenLogReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	// Updates buffered per transaction until its outcome is known.
	pending := make(map[transaction.Xid][]Update)

	for {
		entry, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.CorruptErr = err
			logger.Warn("Stopping replay at corrupt record",
				zap.Int64("offset", reader.Offset()), zap.Error(err))
			break
		}
		res.Entries++
		if xid := EntryXid(entry); xid > res.MaxXid {
			res.MaxXid = xid
		}

		switch e := entry.(type) {
		case XBegin:
			if _, ok := pending[e.Xid]; !ok {
				pending[e.Xid] = nil
			}
		case Update:
			pending[e.Xid] = append(pending[e.Xid], e)
		case XCommit:
			res.Committed = append(res.Committed, pending[e.Xid]...)
			delete(pending, e.Xid)
		case XAbort:
			delete(pending, e.Xid)
			res.Aborted++
		case CPhase:
			res.LastPhase = e.Phase
		}
	}

	res.ValidOffset = reader.Offset()
	res.Truncated = reader.Truncated()
	for xid := range pending {
		res.Incomplete = append(res.Incomplete, xid)
	}
	sort.Slice(res.Incomplete, func(i, j int) bool { return res.Incomplete[i] < res.Incomplete[j] })

	logger.Info("Write-ahead log replayed",
		zap.String("path", path),
		zap.Int("entries", res.Entries),
		zap.Int("committed_updates", len(res.Committed)),
		zap.Int("incomplete_txns", len(res.Incomplete)),
		zap.Int("aborted_txns", res.Aborted),
		zap.Stringer("last_phase", res.LastPhase),
		zap.Bool("truncated_tail", res.Truncated))
	return res, nil
}

// Damaged reports whether the log has bytes past ValidOffset that must be
// truncated before appending.
func (r *ReplayResult) Damaged() bool {
	return r.Truncated || r.CorruptErr != nil
}
