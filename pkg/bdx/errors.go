package bdx

import (
	"errors"
	"fmt"

	"github.com/nodeforge/fabricd/pkg/securechannel"
)

// Package-level sentinel errors for caller-side misuse.
var (
	ErrAsyncModeUnsupported = errors.New("bdx: asynchronous transfer mode is reserved and unsupported")
	ErrNoCommonDriveMode    = errors.New("bdx: peers share no common driver mode")
	ErrTransferTooLarge     = errors.New("bdx: transfer length exceeds configured maximum")
	ErrStartOffsetInvalid   = errors.New("bdx: start offset only valid when the initiator is the sender")
	ErrBlockSizeInvalid     = errors.New("bdx: proposed max block size is zero")
	ErrNotNegotiating       = errors.New("bdx: transfer is not in the negotiating state")
	ErrNotInProgress        = errors.New("bdx: transfer is not in progress")
	ErrWrongRole            = errors.New("bdx: message not valid for this transfer's role")
	ErrTransferClosed       = errors.New("bdx: transfer is closed")
)

// Error wraps a StatusCode that either was received from, or should be sent
// to, the peer as a BDX StatusReport. It terminates the transfer.
type Error struct {
	Code StatusCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bdx: %s (code %#04x): %v", e.statusName(), uint16(e.Code), e.Err)
	}
	return fmt.Sprintf("bdx: %s (code %#04x)", e.statusName(), uint16(e.Code))
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) statusName() string {
	switch e.Code {
	case StatusOverflow:
		return "overflow"
	case StatusLengthTooShort:
		return "length too short"
	case StatusLengthMismatch:
		return "length mismatch"
	case StatusLengthRequired:
		return "length required"
	case StatusBadMessageContents:
		return "bad message contents"
	case StatusBadBlockCounter:
		return "bad block counter"
	case StatusUnexpectedMessage:
		return "unexpected message"
	case StatusResponderBusy:
		return "responder busy"
	case StatusTransferMethodNotSupported:
		return "transfer method not supported"
	case StatusRejected:
		return "rejected"
	case StatusUnknownFile:
		return "unknown file"
	case StatusStartOffsetNotSupported:
		return "start offset not supported"
	case StatusVersionNotSupported:
		return "version not supported"
	default:
		return "transfer failed"
	}
}

// NewError builds a terminal BDX error carrying the given status code.
func NewError(code StatusCode, cause error) *Error {
	return &Error{Code: code, Err: cause}
}

// ToStatusReport renders a BdxError as the wire-level StatusReport message,
// reusing the Secure Channel protocol's StatusReport encoding (Spec Appendix D
// defines one StatusReport layout shared by every protocol).
func (e *Error) ToStatusReport() *securechannel.StatusReport {
	general := securechannel.GeneralCodeFailure
	if e.Code == StatusResponderBusy {
		general = securechannel.GeneralCodeBusy
	}
	return securechannel.NewStatusReport(general, uint32(ProtocolID), uint16(e.Code))
}

// FromStatusReport converts a received StatusReport into a BdxError.
func FromStatusReport(sr *securechannel.StatusReport) *Error {
	return &Error{Code: StatusCode(sr.ProtocolCode)}
}
