package transaction

// Xid is a transaction identifier issued by a TransactionTable. Ids start at 1
// and are never reused.
type Xid uint64

// InvalidXid is never issued.
const InvalidXid Xid = 0

// TransactionState represents the in-memory state of a transaction.
type TransactionState int

const (
	TxnStateRunning   TransactionState = iota // Transaction is active, writes are buffered
	TxnStateCommitted                         // Commit record is durable and writes are applied
	TxnStateAborted                           // Transaction was rolled back, writes discarded
)

func (s TransactionState) String() string {
	switch s {
	case TxnStateRunning:
		return "RUNNING"
	case TxnStateCommitted:
		return "COMMITTED"
	case TxnStateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}
