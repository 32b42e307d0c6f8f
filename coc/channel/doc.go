// Package channel implements the lifecycle of credit-based logical channels
// and the fixed-capacity table that holds them.
//
// A channel is idle, connecting, connected or disconnecting. Credits and
// buffers are bound on entry to connected and released on every exit from
// it; an idle slot holds nothing. Slots are addressed by generational
// handles so a handle kept past a channel's lifetime is detected instead of
// silently reaching the slot's next occupant.
//
// Nothing here is safe for concurrent use; a host drives its table from one
// goroutine.
package channel
