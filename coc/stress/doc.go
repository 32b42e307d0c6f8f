// Package stress drives the channel stress scenario on top of a coc.Host.
//
// The central connects to every peer, opens one channel per link and pushes
// a fixed number of fixed-size SDUs over all channels at once, one SDU in
// flight per channel. Each peripheral accepts one channel, checks every SDU
// against the expected pattern and disconnects once it has them all.
package stress
