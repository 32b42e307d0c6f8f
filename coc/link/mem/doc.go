// Package mem is an in-process simulated radio implementing link.Provider.
//
// Devices attach to a shared Radio. A device becomes connectable once per
// Advertise call and accepts a single inbound connection from it. Every
// link has one ordered transmit queue per direction; a queue's goroutine
// delivers each frame to the remote handler and then reports it sent to the
// local one. Delivery and disconnect take the same per-link lock, so no
// frame is delivered after either side has been told the link is down.
package mem
