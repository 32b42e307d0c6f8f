// Package bufpool provides fixed-capacity pools of reusable byte buffers.
//
// A channel stack uses three pools:
//   - TX SDU buffers holding a whole outbound message
//   - segment buffers sized to the maximum segment plus header reserve
//   - RX SDU buffers holding a message under reassembly
//
// Pools never grow. Acquire is non-blocking and reports ErrExhausted when no
// slot is free; the caller decides whether to defer or fail. Every buffer has
// exactly one owner at a time and releasing it twice is reported as a
// protocol violation.
package bufpool
