package bdx

import (
	"sync"

	"github.com/nodeforge/fabricd/pkg/exchange"
	"github.com/nodeforge/fabricd/pkg/message"
	"github.com/nodeforge/fabricd/pkg/transport"
	"github.com/pion/logging"
)

// Delegate decides whether to accept an incoming transfer proposal and
// supplies the data source/sink that will drive it. Implementations are
// typically owned by an OTA provider/requestor cluster.
type Delegate interface {
	// AcceptSend is called when a peer asks us to send them a file
	// (ReceiveInit). Returning accept=false rejects with StatusRejected.
	AcceptSend(init *TransferInit) (accept bool, source BlockSource, maxLength uint64, err error)

	// AcceptReceive is called when a peer asks to send us a file
	// (SendInit). Returning accept=false rejects with StatusRejected.
	AcceptReceive(init *TransferInit) (accept bool, sink BlockSink, err error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Delegate Delegate

	// MaxTransferSize bounds every transfer's total length. Zero selects
	// DefaultMaxTransferSize.
	MaxTransferSize uint64

	LoggerFactory logging.LoggerFactory
}

// Manager is the BDX protocol handler. One Manager serves every transfer
// exchange for a node; it implements exchange.ProtocolHandler so it can be
// registered directly with exchange.Manager for ProtocolID.
type Manager struct {
	config ManagerConfig
	log    logging.LeveledLogger

	mu        sync.Mutex
	transfers map[uint16]*Transfer // keyed by exchange ID
}

// NewManager creates a BDX Manager.
func NewManager(config ManagerConfig) *Manager {
	if config.MaxTransferSize == 0 {
		config.MaxTransferSize = DefaultMaxTransferSize
	}
	m := &Manager{
		config:    config,
		transfers: make(map[uint16]*Transfer),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("bdx")
	}
	return m
}

// OnMessage implements exchange.ProtocolHandler for messages on an exchange
// that already has a transfer bound to it.
func (m *Manager) OnMessage(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	m.mu.Lock()
	transfer, ok := m.transfers[ctx.ID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotInProgress
	}
	return nil, transfer.onMessage(Opcode(opcode), payload)
}

// OnUnsolicited implements exchange.ProtocolHandler for the first message of
// a new transfer (SendInit or ReceiveInit).
func (m *Manager) OnUnsolicited(ctx *exchange.ExchangeContext, opcode uint8, payload []byte) ([]byte, error) {
	switch Opcode(opcode) {
	case OpcodeSendInit:
		return nil, m.handleSendInit(ctx, payload)
	case OpcodeReceiveInit:
		return nil, m.handleReceiveInit(ctx, payload)
	default:
		if m.log != nil {
			m.log.Warnf("bdx: unexpected unsolicited opcode %s", Opcode(opcode))
		}
		return nil, ErrNotNegotiating
	}
}

// handleSendInit handles a peer proposing to send us a file: we are the
// receiver.
func (m *Manager) handleSendInit(ctx *exchange.ExchangeContext, payload []byte) error {
	init, err := DecodeTransferInit(payload)
	if err != nil {
		return m.reject(ctx, NewError(StatusBadMessageContents, err))
	}
	if init.ProposedControl.Has(TransferControlAsync) {
		return m.reject(ctx, NewError(StatusTransferMethodNotSupported, ErrAsyncModeUnsupported))
	}
	if init.SupportsStartOffset {
		// Start offset only valid when the *sender* initiates; here the
		// sender is the peer proposing SendInit, which the spec permits,
		// but this implementation only serves whole-file receives.
		return m.reject(ctx, NewError(StatusStartOffsetNotSupported, nil))
	}

	if m.config.Delegate == nil {
		return m.reject(ctx, NewError(StatusRejected, nil))
	}
	accept, sink, err := m.config.Delegate.AcceptReceive(init)
	if err != nil || !accept {
		return m.reject(ctx, NewError(StatusRejected, err))
	}

	mode, err := chooseMode(init.ProposedControl)
	if err != nil {
		return m.reject(ctx, NewError(StatusTransferMethodNotSupported, err))
	}

	maxBlockSize := init.MaxBlockSize
	if maxBlockSize == 0 {
		return m.reject(ctx, NewError(StatusBadMessageContents, ErrBlockSizeInvalid))
	}

	maxLen := init.MaxLength
	if maxLen == 0 || maxLen > m.config.MaxTransferSize {
		maxLen = m.config.MaxTransferSize
	}

	transfer := &Transfer{
		ctx:            ctx,
		role:           RoleReceiver,
		mode:           mode,
		maxBlockSize:   maxBlockSize,
		maxTransferLen: maxLen,
		counter:        newBlockCounter(),
		sink:           sink,
	}
	m.register(ctx.ID, transfer)
	ctx.SetDelegate(&transferExchangeAdapter{m: m, transfer: transfer})

	accept2 := &TransferAccept{TransferControl: mode, MaxBlockSize: maxBlockSize}
	acceptPayload, err := accept2.Encode()
	if err != nil {
		return err
	}
	if err := ctx.SendMessage(uint8(OpcodeSendAccept), acceptPayload, true); err != nil {
		return err
	}
	return transfer.start()
}

// handleReceiveInit handles a peer asking us to send them a file: we are the
// sender.
func (m *Manager) handleReceiveInit(ctx *exchange.ExchangeContext, payload []byte) error {
	init, err := DecodeTransferInit(payload)
	if err != nil {
		return m.reject(ctx, NewError(StatusBadMessageContents, err))
	}
	if init.ProposedControl.Has(TransferControlAsync) {
		return m.reject(ctx, NewError(StatusTransferMethodNotSupported, ErrAsyncModeUnsupported))
	}

	if m.config.Delegate == nil {
		return m.reject(ctx, NewError(StatusRejected, nil))
	}
	accept, source, maxLength, err := m.config.Delegate.AcceptSend(init)
	if err != nil || !accept {
		return m.reject(ctx, NewError(StatusUnknownFile, err))
	}

	mode, err := chooseMode(init.ProposedControl)
	if err != nil {
		return m.reject(ctx, NewError(StatusTransferMethodNotSupported, err))
	}

	maxBlockSize := init.MaxBlockSize
	if maxBlockSize == 0 {
		return m.reject(ctx, NewError(StatusBadMessageContents, ErrBlockSizeInvalid))
	}
	if maxLength == 0 || maxLength > m.config.MaxTransferSize {
		maxLength = m.config.MaxTransferSize
	}

	transfer := &Transfer{
		ctx:            ctx,
		role:           RoleSender,
		mode:           mode,
		maxBlockSize:   maxBlockSize,
		maxTransferLen: maxLength,
		counter:        newBlockCounter(),
		source:         source,
	}
	m.register(ctx.ID, transfer)
	ctx.SetDelegate(&transferExchangeAdapter{m: m, transfer: transfer})

	accept2 := &TransferAccept{
		TransferControl:   mode,
		MaxBlockSize:      maxBlockSize,
		MaxLength:         maxLength,
		SupportsMaxLength: true,
	}
	acceptPayload, err := accept2.Encode()
	if err != nil {
		return err
	}
	if err := ctx.SendMessage(uint8(OpcodeReceiveAccept), acceptPayload, true); err != nil {
		return err
	}
	return transfer.start()
}

func (m *Manager) reject(ctx *exchange.ExchangeContext, cause *Error) error {
	sr := cause.ToStatusReport()
	_ = ctx.SendMessage(uint8(OpcodeStatusReport), sr.Encode(), false)
	return cause
}

func (m *Manager) register(exchangeID uint16, t *Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[exchangeID] = t
}

func (m *Manager) unregister(exchangeID uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transfers, exchangeID)
}

// chooseMode selects the single driver mode this node will use, preferring
// ReceiverDrive (lower latency for constrained senders) when both are
// proposed, matching the reference stack's default preference order.
func chooseMode(proposed TransferControl) (TransferControl, error) {
	switch {
	case proposed.Has(TransferControlReceiverDrive):
		return TransferControlReceiverDrive, nil
	case proposed.Has(TransferControlSenderDrive):
		return TransferControlSenderDrive, nil
	default:
		return 0, ErrNoCommonDriveMode
	}
}

// transferExchangeAdapter routes subsequent exchange messages directly to
// the bound Transfer once negotiation completes, mirroring the per-exchange
// delegate pattern used by pkg/im's read/invoke response handlers.
type transferExchangeAdapter struct {
	m        *Manager
	transfer *Transfer
}

func (a *transferExchangeAdapter) OnMessage(ctx *exchange.ExchangeContext, header *message.ProtocolHeader, payload []byte) ([]byte, error) {
	return nil, a.transfer.onMessage(Opcode(header.ProtocolOpcode), payload)
}

func (a *transferExchangeAdapter) OnClose(ctx *exchange.ExchangeContext) {
	a.m.unregister(ctx.ID)
}

var _ exchange.ExchangeDelegate = (*transferExchangeAdapter)(nil)
var _ exchange.ProtocolHandler = (*Manager)(nil)

// InitiateSend opens a new exchange and proposes to send fileDesignator to
// peer, acting as the driven- or following-sender depending on negotiation.
// The caller's source supplies block data once the peer accepts.
func (m *Manager) InitiateSend(
	exchangeMgr *exchange.Manager,
	sess exchange.SessionContext,
	localSessionID uint16,
	peerAddress transport.PeerAddress,
	fileDesignator []byte,
	source BlockSource,
	opts Options,
) (*Transfer, error) {
	transfer := &Transfer{
		role:         RoleSender,
		state:        StateNegotiating,
		maxBlockSize: orDefaultBlockSize(opts.MaxBlockSize),
		counter:      newBlockCounter(),
		source:       source,
	}

	adapter := &negotiatingAdapter{m: m, transfer: transfer}
	ctx, err := exchangeMgr.NewExchange(sess, localSessionID, peerAddress, ProtocolID, adapter)
	if err != nil {
		return nil, err
	}
	transfer.ctx = ctx
	adapter.ctx = ctx
	m.register(ctx.ID, transfer)

	init := &TransferInit{
		ProposedControl:     orDefaultControl(opts.ProposedControl),
		MaxBlockSize:        transfer.maxBlockSize,
		FileDesignator:      fileDesignator,
		StartOffset:         opts.StartOffset,
		SupportsStartOffset: opts.StartOffset != 0,
		MaxLength:           opts.MaxLength,
		SupportsMaxLength:   opts.MaxLength != 0,
	}
	payload, err := init.Encode()
	if err != nil {
		return nil, err
	}
	if err := ctx.SendMessage(uint8(OpcodeSendInit), payload, true); err != nil {
		return nil, err
	}
	return transfer, nil
}

// InitiateReceive opens a new exchange and asks the peer to send us
// fileDesignator, writing received blocks into sink.
func (m *Manager) InitiateReceive(
	exchangeMgr *exchange.Manager,
	sess exchange.SessionContext,
	localSessionID uint16,
	peerAddress transport.PeerAddress,
	fileDesignator []byte,
	sink BlockSink,
	opts Options,
) (*Transfer, error) {
	transfer := &Transfer{
		role:         RoleReceiver,
		state:        StateNegotiating,
		maxBlockSize: orDefaultBlockSize(opts.MaxBlockSize),
		counter:      newBlockCounter(),
		sink:         sink,
	}

	adapter := &negotiatingAdapter{m: m, transfer: transfer}
	ctx, err := exchangeMgr.NewExchange(sess, localSessionID, peerAddress, ProtocolID, adapter)
	if err != nil {
		return nil, err
	}
	transfer.ctx = ctx
	adapter.ctx = ctx
	m.register(ctx.ID, transfer)

	init := &TransferInit{
		ProposedControl: orDefaultControl(opts.ProposedControl),
		MaxBlockSize:    transfer.maxBlockSize,
		FileDesignator:  fileDesignator,
	}
	payload, err := init.Encode()
	if err != nil {
		return nil, err
	}
	if err := ctx.SendMessage(uint8(OpcodeReceiveInit), payload, true); err != nil {
		return nil, err
	}
	return transfer, nil
}

func orDefaultBlockSize(v uint16) uint16 {
	if v == 0 {
		return DefaultMaxBlockSize
	}
	return v
}

func orDefaultControl(v TransferControl) TransferControl {
	if v == 0 {
		return TransferControlSenderDrive | TransferControlReceiverDrive
	}
	return v
}

// negotiatingAdapter handles the single SendAccept/ReceiveAccept (or
// StatusReport rejection) that completes negotiation for an
// initiator-opened transfer, then hands the exchange off to the transfer
// itself for the data phase.
type negotiatingAdapter struct {
	m        *Manager
	ctx      *exchange.ExchangeContext
	transfer *Transfer
}

func (a *negotiatingAdapter) OnMessage(ctx *exchange.ExchangeContext, header *message.ProtocolHeader, payload []byte) ([]byte, error) {
	switch Opcode(header.ProtocolOpcode) {
	case OpcodeSendAccept, OpcodeReceiveAccept:
		accept, err := DecodeTransferAccept(payload)
		if err != nil {
			return nil, a.transfer.fail(NewError(StatusBadMessageContents, err))
		}
		a.transfer.mu.Lock()
		a.transfer.mode = accept.TransferControl
		if accept.MaxBlockSize != 0 && accept.MaxBlockSize < a.transfer.maxBlockSize {
			a.transfer.maxBlockSize = accept.MaxBlockSize
		}
		if accept.SupportsMaxLength {
			a.transfer.maxTransferLen = accept.MaxLength
		}
		a.transfer.mu.Unlock()

		ctx.SetDelegate(&transferExchangeAdapter{m: a.m, transfer: a.transfer})
		return nil, a.transfer.start()
	case OpcodeStatusReport:
		return nil, a.transfer.fail(NewError(StatusRejected, nil))
	default:
		return nil, a.transfer.fail(NewError(StatusUnexpectedMessage, nil))
	}
}

func (a *negotiatingAdapter) OnClose(ctx *exchange.ExchangeContext) {
	a.m.unregister(ctx.ID)
}

var _ exchange.ExchangeDelegate = (*negotiatingAdapter)(nil)
