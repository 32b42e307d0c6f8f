// Package coc runs credit-based, segmented logical channels over links
// supplied by a link.Provider.
//
// A Host owns one event loop. Provider callbacks only enqueue events; every
// change to channels, buffer pools and credits happens on the loop goroutine
// inside Run. Other goroutines reach the loop through Host methods, which
// post a call and wait for its result. Channel callbacks run on the loop and
// receive a Chan that may Send and Close re-entrantly.
//
// Buffers come from three bounded pools: TX SDUs, segments and RX SDUs.
// Running out of credits or segment buffers defers a channel instead of
// blocking; channels waiting for a segment buffer are served in FIFO order.
package coc
