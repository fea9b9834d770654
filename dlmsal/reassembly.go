package dlmsal

import (
	"bytes"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

type TransactionState byte

const (
	NoTransaction TransactionState = iota
	Accumulating
	Complete
)

func (s TransactionState) String() string {
	switch s {
	case NoTransaction:
		return "no-transaction"
	case Accumulating:
		return "accumulating"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("transaction-state(%d)", byte(s))
}

// LongTransaction accumulates the data blocks of one GET, SET or ACTION exchange. Targets are
// referenced, the transaction never owns them.
type LongTransaction struct {
	Command        base.CosemTag
	Targets        []*DlmsRequestItem
	BlockIndex     uint32 // last accepted block number
	MultipleBlocks bool
	LastBlock      bool

	data  bytes.Buffer
	state TransactionState
}

// NewLongTransaction starts a transaction expecting block 1 first.
func NewLongTransaction(cmd base.CosemTag, targets []*DlmsRequestItem) *LongTransaction {
	return &LongTransaction{Command: cmd, Targets: targets, state: Accumulating}
}

func (t *LongTransaction) State() TransactionState {
	return t.state
}

// Expected is the block number the next Append has to carry.
func (t *LongTransaction) Expected() uint32 {
	return t.BlockIndex + 1
}

// Append adds the raw data of block index. Blocks have to come in order without gaps.
func (t *LongTransaction) Append(index uint32, last bool, data []byte) error {
	if t.state != Accumulating {
		return fmt.Errorf("append in %v: %w", t.state, base.ErrSequence)
	}
	if index != t.Expected() {
		return fmt.Errorf("unexpected block number %d, expected %d: %w", index, t.Expected(), base.ErrSequence)
	}
	t.data.Write(data)
	t.BlockIndex = index
	if index > 1 {
		t.MultipleBlocks = true
	}
	if last {
		t.LastBlock = true
		t.state = Complete
	}
	return nil
}

// Abort drops the transaction, accumulated data is released.
func (t *LongTransaction) Abort() {
	t.data.Reset()
	t.state = NoTransaction
}

// Len is the number of bytes accumulated so far.
func (t *LongTransaction) Len() int {
	return t.data.Len()
}

// Data returns the accumulated bytes, valid until the transaction is aborted.
func (t *LongTransaction) Data() []byte {
	return t.data.Bytes()
}

// Deliver hands the complete data to dec. The transaction ends regardless of the decoder result.
func (t *LongTransaction) Deliver(dec ValueDecoder) error {
	if t.state != Complete {
		return fmt.Errorf("deliver in %v: %w", t.state, base.ErrSequence)
	}
	err := dec.Decode(t.Targets, t.data.Bytes())
	t.state = NoTransaction
	return err
}
