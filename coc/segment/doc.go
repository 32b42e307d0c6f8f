// Package segment splits outbound SDUs into credit-gated wire segments and
// reassembles inbound segments into complete SDUs.
//
// The first segment of every SDU starts with a 2-byte little-endian SDU
// length. Segments never exceed the negotiated maximum payload size (MPS).
package segment
