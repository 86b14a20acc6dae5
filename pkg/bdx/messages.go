package bdx

import (
	"bytes"

	"github.com/nodeforge/fabricd/pkg/tlv"
)

// TransferInit is the payload of SendInit/ReceiveInit (Spec Section 11.4.1.2).
type TransferInit struct {
	ProposedControl TransferControl
	MaxBlockSize    uint16
	StartOffset     uint64 // valid only when SupportsStartOffset
	MaxLength       uint64 // 0 means "unknown / definite length not provided"
	FileDesignator  []byte

	SupportsStartOffset bool
	SupportsMaxLength   bool
}

const (
	tiTagControl        = 0
	tiTagVersion        = 1 // unused, reserved for future protocol versions
	tiTagMaxBlockSize   = 2
	tiTagStartOffset    = 3
	tiTagMaxLength      = 4
	tiTagFileDesignator = 5
)

func (m *TransferInit) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tiTagControl), uint64(m.ProposedControl)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tiTagMaxBlockSize), uint64(m.MaxBlockSize)); err != nil {
		return nil, err
	}
	if m.SupportsStartOffset {
		if err := w.PutUint(tlv.ContextTag(tiTagStartOffset), m.StartOffset); err != nil {
			return nil, err
		}
	}
	if m.SupportsMaxLength {
		if err := w.PutUint(tlv.ContextTag(tiTagMaxLength), m.MaxLength); err != nil {
			return nil, err
		}
	}
	if err := w.PutBytes(tlv.ContextTag(tiTagFileDesignator), m.FileDesignator); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func DecodeTransferInit(payload []byte) (*TransferInit, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	m := &TransferInit{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		tag := r.Tag()
		switch tag.TagNumber() {
		case tiTagControl:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.ProposedControl = TransferControl(v)
		case tiTagMaxBlockSize:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.MaxBlockSize = uint16(v)
		case tiTagStartOffset:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.StartOffset = v
			m.SupportsStartOffset = true
		case tiTagMaxLength:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.MaxLength = v
			m.SupportsMaxLength = true
		case tiTagFileDesignator:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			m.FileDesignator = v
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return m, r.ExitContainer()
}

// TransferAccept is the payload of SendAccept/ReceiveAccept (Spec 11.4.2.2).
type TransferAccept struct {
	TransferControl TransferControl // single bit set: the chosen mode
	MaxBlockSize    uint16
	MaxLength       uint64
	SupportsMaxLength bool
}

const (
	taTagControl      = 0
	taTagVersion      = 1
	taTagMaxBlockSize = 2
	taTagMaxLength    = 3
)

func (m *TransferAccept) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(taTagControl), uint64(m.TransferControl)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(taTagMaxBlockSize), uint64(m.MaxBlockSize)); err != nil {
		return nil, err
	}
	if m.SupportsMaxLength {
		if err := w.PutUint(tlv.ContextTag(taTagMaxLength), m.MaxLength); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), w.EndContainer()
}

func DecodeTransferAccept(payload []byte) (*TransferAccept, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	m := &TransferAccept{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case taTagControl:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.TransferControl = TransferControl(v)
		case taTagMaxBlockSize:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.MaxBlockSize = uint16(v)
		case taTagMaxLength:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.MaxLength = v
			m.SupportsMaxLength = true
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return m, r.ExitContainer()
}

// counterMessage is the shared shape of BlockQuery/BlockAck: a bare counter.
type counterMessage struct {
	BlockCounter uint32
}

const cmTagCounter = 0

func encodeCounterMessage(counter uint32) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(cmTagCounter), uint64(counter)); err != nil {
		return nil, err
	}
	return buf.Bytes(), w.EndContainer()
}

func decodeCounterMessage(payload []byte) (uint32, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return 0, err
	}
	if err := r.EnterContainer(); err != nil {
		return 0, err
	}
	var counter uint32
	for {
		if err := r.Next(); err != nil {
			return 0, err
		}
		if r.IsEndOfContainer() {
			break
		}
		if r.Tag().TagNumber() == cmTagCounter {
			v, err := r.Uint()
			if err != nil {
				return 0, err
			}
			counter = uint32(v)
		} else if err := r.Skip(); err != nil {
			return 0, err
		}
	}
	return counter, r.ExitContainer()
}

// EncodeBlockQuery / DecodeBlockQuery (Spec 11.4.5.2).
func EncodeBlockQuery(counter uint32) ([]byte, error)      { return encodeCounterMessage(counter) }
func DecodeBlockQuery(payload []byte) (uint32, error)      { return decodeCounterMessage(payload) }
func EncodeBlockAck(counter uint32) ([]byte, error)        { return encodeCounterMessage(counter) }
func DecodeBlockAck(payload []byte) (uint32, error)        { return decodeCounterMessage(payload) }
func EncodeBlockAckEOF(counter uint32) ([]byte, error)      { return encodeCounterMessage(counter) }
func DecodeBlockAckEOF(payload []byte) (uint32, error)      { return decodeCounterMessage(payload) }

// Block carries a data fragment; BlockEOF shares the same shape and is
// distinguished only by its opcode (Spec 11.4.6.2 / 11.4.7.2).
type Block struct {
	BlockCounter uint32
	Data         []byte
}

const (
	bTagCounter = 0
	bTagData    = 1
)

func (m *Block) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(bTagCounter), uint64(m.BlockCounter)); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(bTagData), m.Data); err != nil {
		return nil, err
	}
	return buf.Bytes(), w.EndContainer()
}

func DecodeBlock(payload []byte) (*Block, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	m := &Block{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case bTagCounter:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.BlockCounter = uint32(v)
		case bTagData:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			m.Data = v
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return m, r.ExitContainer()
}
