// Package quic is a link provider over QUIC.
//
// Every link is one QUIC connection carrying one bidirectional stream of
// frames. The first frame in each direction is a signed hello that binds the
// connection to a device address. TLS 1.3 encrypts every link, so links
// report SecurityL2.
//
// Disconnect is graceful: each side finishes its stream after the frames it
// already queued, and the side that asked closes the connection with the
// reason as application error code once the peer has finished too.
package quic
