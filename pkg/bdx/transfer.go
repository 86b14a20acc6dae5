package bdx

import (
	"sync"

	"github.com/nodeforge/fabricd/pkg/exchange"
)

// BlockSource supplies outbound file data for a sending Transfer.
// NextBlock must return at most maxSize bytes; isEOF is true for the final
// (possibly zero-length) block of the file.
type BlockSource interface {
	NextBlock(maxSize int) (data []byte, isEOF bool, err error)
}

// BlockSink consumes inbound file data for a receiving Transfer.
type BlockSink interface {
	WriteBlock(data []byte) error
	Complete() error
}

// Options customizes a Transfer's negotiation proposal.
type Options struct {
	// ProposedControl lists the driver modes this node is willing to use.
	// Defaults to SenderDrive|ReceiverDrive when zero.
	ProposedControl TransferControl

	MaxBlockSize uint16 // defaults to DefaultMaxBlockSize

	// StartOffset/MaxLength request a partial transfer. Only meaningful
	// when this node is the sender (Spec 11.4.1.2, "a Start Offset ... is
	// only valid if the Sender is the one initiating the transfer").
	StartOffset uint64
	MaxLength   uint64
}

const (
	// DefaultMaxBlockSize is used when Options.MaxBlockSize is unset.
	DefaultMaxBlockSize uint16 = 1024

	// DefaultMaxTransferSize is the default cap on total transfer length
	// (Spec Section 11.4.1, "implementations SHOULD NOT exceed 100 MB").
	DefaultMaxTransferSize uint64 = 100 * 1024 * 1024
)

// Transfer is one in-flight BDX file transfer bound to a single exchange.
// It is one of four flows depending on Role and the negotiated driver mode:
// driven-sender, following-sender, driven-receiver, following-receiver.
type Transfer struct {
	mu sync.Mutex

	ctx  *exchange.ExchangeContext
	role Role
	mode TransferControl // single bit: the negotiated driver
	state State

	maxBlockSize   uint16
	maxTransferLen uint64 // 0 = unbounded
	transferred    uint64

	counter *blockCounter

	source BlockSource // set when role == RoleSender
	sink   BlockSink   // set when role == RoleReceiver

	onComplete func()
	onError    func(error)
}

// isDriver reports whether the local role drives the transfer (i.e. sends
// Block/BlockEOF unprompted rather than waiting for a BlockQuery).
func (t *Transfer) isDriver() bool {
	if t.role == RoleSender {
		return t.mode == TransferControlSenderDrive
	}
	return t.mode == TransferControlReceiverDrive
}

func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transfer) Transferred() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferred
}

// start kicks off a transfer once the driver mode is known (after accept),
// pushing the first Block if this node is a driven sender, or the first
// BlockQuery if this node is a driven receiver. Following-sender and
// following-receiver flows wait for the peer's first message instead.
func (t *Transfer) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateInProgress

	if t.role == RoleSender && t.isDriver() {
		return t.sendNextBlockLocked()
	}
	if t.role == RoleReceiver && t.isDriver() {
		return t.sendBlockQueryLocked()
	}
	return nil
}

func (t *Transfer) sendBlockQueryLocked() error {
	counter := t.counter.Peek()
	payload, err := EncodeBlockQuery(counter)
	if err != nil {
		return err
	}
	return t.ctx.SendMessage(uint8(OpcodeBlockQuery), payload, true)
}

func (t *Transfer) sendNextBlockLocked() error {
	data, isEOF, err := t.source.NextBlock(int(t.maxBlockSize))
	if err != nil {
		return t.failLocked(NewError(StatusTransferFailedUnknown, err))
	}
	counter := t.counter.Advance()
	t.transferred += uint64(len(data))

	if t.maxTransferLen != 0 && t.transferred > t.maxTransferLen {
		return t.failLocked(NewError(StatusLengthMismatch, nil))
	}

	blk := &Block{BlockCounter: counter, Data: data}
	payload, err := blk.Encode()
	if err != nil {
		return err
	}

	opcode := OpcodeBlock
	if isEOF {
		opcode = OpcodeBlockEOF
		t.state = StateAwaitingEOFAck
	}
	return t.ctx.SendMessage(uint8(opcode), payload, true)
}

// onMessage dispatches one inbound opcode/payload to this transfer. Called
// by Manager with the transfer's lock not held.
func (t *Transfer) onMessage(opcode Opcode, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed || t.state == StateCompleted {
		return ErrTransferClosed
	}

	switch opcode {
	case OpcodeBlockQuery, OpcodeBlockQueryWithSkip:
		return t.handleBlockQueryLocked()
	case OpcodeBlock, OpcodeBlockEOF:
		return t.handleBlockLocked(opcode, payload)
	case OpcodeBlockAck, OpcodeBlockAckEOF:
		return t.handleBlockAckLocked(opcode, payload)
	case OpcodeStatusReport:
		return t.failLocked(NewError(StatusTransferFailedUnknown, nil))
	default:
		return t.failLocked(NewError(StatusUnexpectedMessage, nil))
	}
}

func (t *Transfer) handleBlockQueryLocked() error {
	if t.role != RoleSender {
		return t.failLocked(NewError(StatusUnexpectedMessage, ErrWrongRole))
	}
	return t.sendNextBlockLocked()
}

func (t *Transfer) handleBlockLocked(opcode Opcode, payload []byte) error {
	if t.role != RoleReceiver {
		return t.failLocked(NewError(StatusUnexpectedMessage, ErrWrongRole))
	}

	blk, err := DecodeBlock(payload)
	if err != nil {
		return t.failLocked(NewError(StatusBadMessageContents, err))
	}
	if verr := t.counter.Validate(blk.BlockCounter); verr != nil {
		return t.failLocked(verr.(*Error))
	}
	t.counter.Advance()

	if err := t.sink.WriteBlock(blk.Data); err != nil {
		return t.failLocked(NewError(StatusTransferFailedUnknown, err))
	}
	t.transferred += uint64(len(blk.Data))
	if t.maxTransferLen != 0 && t.transferred > t.maxTransferLen {
		return t.failLocked(NewError(StatusLengthMismatch, nil))
	}

	isEOF := opcode == OpcodeBlockEOF
	ackOpcode := OpcodeBlockAck
	if isEOF {
		ackOpcode = OpcodeBlockAckEOF
	}
	ackPayload, err := encodeCounterMessage(blk.BlockCounter)
	if err != nil {
		return err
	}
	if err := t.ctx.SendMessage(uint8(ackOpcode), ackPayload, true); err != nil {
		return err
	}

	if isEOF {
		if err := t.sink.Complete(); err != nil {
			return t.failLocked(NewError(StatusTransferFailedUnknown, err))
		}
		t.completeLocked()
		return nil
	}

	if t.isDriver() {
		return t.sendBlockQueryLocked()
	}
	return nil
}

func (t *Transfer) handleBlockAckLocked(opcode Opcode, payload []byte) error {
	if t.role != RoleSender {
		return t.failLocked(NewError(StatusUnexpectedMessage, ErrWrongRole))
	}

	counter, err := decodeCounterMessage(payload)
	if err != nil {
		return t.failLocked(NewError(StatusBadMessageContents, err))
	}
	if expected := t.counter.Peek() - 1; counter != expected {
		return t.failLocked(NewError(StatusBadBlockCounter, nil))
	}

	if opcode == OpcodeBlockAckEOF {
		t.completeLocked()
		return nil
	}

	if t.isDriver() {
		return t.sendNextBlockLocked()
	}
	return nil
}

func (t *Transfer) completeLocked() {
	t.state = StateCompleted
	if t.onComplete != nil {
		cb := t.onComplete
		go cb()
	}
}

// fail terminates the transfer and notifies the peer with a StatusReport.
func (t *Transfer) fail(err *Error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failLocked(err)
}

func (t *Transfer) failLocked(err *Error) error {
	t.state = StateClosed
	sr := err.ToStatusReport()
	payload := sr.Encode()
	_ = t.ctx.SendMessage(uint8(OpcodeStatusReport), payload, false)
	if t.onError != nil {
		cb := t.onError
		go cb(err)
	}
	return err
}
