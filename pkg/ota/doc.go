// Package ota implements the Matter OTA software image container format:
// a fixed binary preamble followed by a TLV header and a raw payload. It is
// consumed by the OTA Software Update cluster and produced by vendor build
// tooling; transport of the image itself is BDX's job, not this package's.
package ota
