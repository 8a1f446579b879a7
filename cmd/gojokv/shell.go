package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sushant-115/gojokv/core/db"
	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
)

// Request represents a parsed shell command.
type Request struct {
	Command string
	Key     string
	Value   string // Only for PUT
}

// Response is the reply printed for a request.
type Response struct {
	Status  string // OK, ERROR, NOT_FOUND
	Message string
}

func (r Response) String() string {
	if r.Message == "" {
		return r.Status
	}
	return r.Status + " " + r.Message
}

var errExit = errors.New("exit")

// parseRequest parses a raw command line into a Request.
func parseRequest(raw string) (Request, error) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return Request{}, fmt.Errorf("empty command")
	}

	command := strings.ToUpper(parts[0])
	if command == "DEL" {
		command = "DELETE"
	}
	req := Request{Command: command}

	switch command {
	case "PUT":
		if len(parts) < 3 {
			return Request{}, fmt.Errorf("PUT requires key and value")
		}
		req.Key = parts[1]
		req.Value = strings.Join(parts[2:], " ") // Value can contain spaces
	case "GET", "DELETE":
		if len(parts) < 2 {
			return Request{}, fmt.Errorf("%s requires a key", command)
		}
		req.Key = parts[1]
	case "BACKUP":
		if len(parts) < 2 {
			return Request{}, fmt.Errorf("BACKUP requires a destination path")
		}
		req.Key = parts[1] // Destination path
	case "BEGIN", "COMMIT", "ABORT", "CHECKPOINT", "STATS", "SIZE", "HELP", "EXIT", "QUIT":
		// No additional arguments needed
	default:
		return Request{}, fmt.Errorf("unknown command: %s", parts[0])
	}
	return req, nil
}

// Shell executes requests against a store. Between BEGIN and COMMIT/ABORT
// reads and writes go through the open transaction.
type Shell struct {
	db  *db.DB
	txn *db.Txn
}

func NewShell(store *db.DB) *Shell {
	return &Shell{db: store}
}

// InTxn reports whether a transaction is open.
func (s *Shell) InTxn() bool { return s.txn != nil }

// Close aborts an open transaction.
func (s *Shell) Close() {
	if s.txn != nil {
		s.txn.Abort()
		s.txn = nil
	}
}

// handleRequest processes a parsed Request. It returns errExit for EXIT.
func (s *Shell) handleRequest(ctx context.Context, req Request) (Response, error) {
	switch req.Command {
	case "PUT":
		var err error
		if s.txn != nil {
			err = s.txn.Put([]byte(req.Key), []byte(req.Value))
		} else {
			err = s.db.Put([]byte(req.Key), []byte(req.Value))
		}
		if err != nil {
			return Response{Status: "ERROR", Message: fmt.Sprintf("PUT failed: %v", err)}, nil
		}
		return Response{Status: "OK"}, nil

	case "GET":
		var val []byte
		var err error
		if s.txn != nil {
			val, err = s.txn.Get([]byte(req.Key))
		} else {
			val, err = s.db.Get([]byte(req.Key))
		}
		switch {
		case errors.Is(err, flushmanager.ErrKeyNotFound):
			return Response{Status: "NOT_FOUND", Message: fmt.Sprintf("Key %s not found.", req.Key)}, nil
		case err != nil:
			return Response{Status: "ERROR", Message: fmt.Sprintf("GET failed: %v", err)}, nil
		}
		return Response{Status: "OK", Message: string(val)}, nil

	case "DELETE":
		var err error
		if s.txn != nil {
			err = s.txn.Delete([]byte(req.Key))
		} else {
			err = s.db.Delete([]byte(req.Key))
		}
		if err != nil {
			return Response{Status: "ERROR", Message: fmt.Sprintf("DELETE failed: %v", err)}, nil
		}
		return Response{Status: "OK"}, nil

	case "BEGIN":
		if s.txn != nil {
			return Response{Status: "ERROR", Message: fmt.Sprintf("transaction %d already open", s.txn.ID())}, nil
		}
		s.txn = s.db.Begin()
		return Response{Status: "OK", Message: fmt.Sprintf("xid %d", s.txn.ID())}, nil

	case "COMMIT":
		if s.txn == nil {
			return Response{Status: "ERROR", Message: "no open transaction"}, nil
		}
		txn := s.txn
		s.txn = nil
		if err := txn.Commit(); err != nil {
			return Response{Status: "ERROR", Message: fmt.Sprintf("COMMIT failed: %v", err)}, nil
		}
		return Response{Status: "OK", Message: fmt.Sprintf("xid %d committed", txn.ID())}, nil

	case "ABORT":
		if s.txn == nil {
			return Response{Status: "ERROR", Message: "no open transaction"}, nil
		}
		s.txn.Abort()
		xid := s.txn.ID()
		s.txn = nil
		return Response{Status: "OK", Message: fmt.Sprintf("xid %d aborted", xid)}, nil

	case "CHECKPOINT":
		if s.txn != nil {
			// The cycle would wait forever on our own transaction.
			return Response{Status: "ERROR", Message: "commit or abort the open transaction first"}, nil
		}
		if err := s.db.Checkpoint(ctx); err != nil {
			return Response{Status: "ERROR", Message: fmt.Sprintf("CHECKPOINT failed: %v", err)}, nil
		}
		st := s.db.Stats().LastCheckpoint
		return Response{Status: "OK", Message: fmt.Sprintf("cycle %d wrote %d records in %s", st.Cycle, st.Records, st.Duration)}, nil

	case "STATS":
		st := s.db.Stats()
		return Response{Status: "OK", Message: fmt.Sprintf(
			"keys=%d active_txns=%d next_xid=%d phase=%s cycle=%d wal_entries=%d wal_bytes=%d last_checkpoint_records=%d",
			st.Keys, st.ActiveTxns, st.NextXid, st.Phase, st.Cycle, st.WALEntries, st.WALBytes, st.LastCheckpoint.Records)}, nil

	case "BACKUP":
		res, err := s.db.Backup(ctx, req.Key)
		if err != nil {
			return Response{Status: "ERROR", Message: fmt.Sprintf("BACKUP failed: %v", err)}, nil
		}
		return Response{Status: "OK", Message: fmt.Sprintf("%s %d bytes sha256=%s", res.Path, res.Bytes, res.SHA256)}, nil

	case "SIZE":
		return Response{Status: "OK", Message: fmt.Sprintf("%d", s.db.Stats().Keys)}, nil

	case "HELP":
		return Response{Status: "OK", Message: helpText}, nil

	case "EXIT", "QUIT":
		return Response{Status: "OK", Message: "bye"}, errExit
	}
	return Response{Status: "ERROR", Message: fmt.Sprintf("Unsupported command: %s", req.Command)}, nil
}

const helpText = `Commands:
  put <key> <value>
  get <key>
  delete <key>
  begin | commit | abort
  checkpoint
  backup <path>
  stats | size
  help
  exit / quit`
