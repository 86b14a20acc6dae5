// Package bdx implements the Matter Bulk Data Exchange (BDX) protocol.
//
// BDX moves a single file (typically an OTA software image) between two
// nodes over an existing exchange. The protocol negotiates a driver mode —
// SenderDrive or ReceiverDrive — during the init/accept handshake, then
// streams fixed-size blocks until the transfer length is exhausted.
//
// Asynchronous mode is reserved by the Matter specification and is never
// negotiated by this package; proposing it is rejected at accept time.
//
// See Matter Specification Section 11 "Bulk Data Exchange Protocol".
package bdx
