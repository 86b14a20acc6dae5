package bdx

import "github.com/nodeforge/fabricd/pkg/message"

// ProtocolID is the Bulk Data Exchange protocol identifier.
// Spec: Section 11.2.1 "Message Type Summary" uses the same protocol
// ID namespace registered for the core stack in pkg/message.
const ProtocolID = message.ProtocolBDX

// Opcode identifies a BDX message type (Spec Table: "Protocol Message Types").
type Opcode uint8

const (
	OpcodeSendInit           Opcode = 0x01
	OpcodeSendAccept         Opcode = 0x02
	OpcodeReceiveInit        Opcode = 0x03
	OpcodeReceiveAccept      Opcode = 0x04
	OpcodeBlockQuery         Opcode = 0x05
	OpcodeBlock              Opcode = 0x06
	OpcodeBlockEOF           Opcode = 0x07
	OpcodeBlockAck           Opcode = 0x08
	OpcodeBlockAckEOF        Opcode = 0x09
	OpcodeBlockQueryWithSkip Opcode = 0x0A

	// OpcodeStatusReport is the shared "Status Report" opcode used by every
	// Matter protocol that can fail mid-exchange (Spec Appendix D). BDX reuses
	// the exact wire layout defined by pkg/securechannel for this message.
	OpcodeStatusReport Opcode = 0x40
)

func (o Opcode) String() string {
	switch o {
	case OpcodeSendInit:
		return "SendInit"
	case OpcodeSendAccept:
		return "SendAccept"
	case OpcodeReceiveInit:
		return "ReceiveInit"
	case OpcodeReceiveAccept:
		return "ReceiveAccept"
	case OpcodeBlockQuery:
		return "BlockQuery"
	case OpcodeBlock:
		return "Block"
	case OpcodeBlockEOF:
		return "BlockEOF"
	case OpcodeBlockAck:
		return "BlockAck"
	case OpcodeBlockAckEOF:
		return "BlockAckEOF"
	case OpcodeBlockQueryWithSkip:
		return "BlockQueryWithSkip"
	case OpcodeStatusReport:
		return "StatusReport"
	default:
		return "Unknown"
	}
}
