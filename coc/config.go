package coc

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/credit"
	"github.com/TheusHen/cocstress/coc/segment"
)

// MinMTU is the smallest MTU and MPS a channel may negotiate.
const MinMTU = 23

// Config sizes a Host.
type Config struct {
	// Name tags log lines of this host.
	Name string

	MaxChannels int
	MaxLinks    int
	// SDUBuffers sizes the TX-SDU and RX-SDU pools. Zero gives every channel
	// one buffer of each.
	SDUBuffers int

	// SDUMax is the local MTU: the largest SDU sent or accepted.
	SDUMax int
	// MPS is the largest segment payload sent or accepted.
	MPS int
	// HeaderReserve is extra room in every segment buffer for channel and
	// link headers.
	HeaderReserve  int
	SegmentBuffers int
	// InitialCredits are granted to the peer when a channel connects.
	InitialCredits int

	ConnectTimeout time.Duration
	// MaxDeferrals is how many consecutive pumps of one channel may make no
	// progress before the host gives up with a resource exhaustion error.
	MaxDeferrals int

	Logger *zap.Logger
}

// DefaultConfig mirrors the sizing of the stress scenario: six links with one
// channel each and 1230-byte SDUs.
func DefaultConfig() Config {
	return Config{
		MaxChannels:    6,
		MaxLinks:       6,
		SDUMax:         1230,
		MPS:            65,
		HeaderReserve:  8,
		SegmentBuffers: 10,
		InitialCredits: 10,
		ConnectTimeout: 5 * time.Second,
		MaxDeferrals:   1024,
	}
}

func (c *Config) normalize() error {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.HeaderReserve < 0 {
		c.HeaderReserve = 0
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.MaxDeferrals <= 0 {
		c.MaxDeferrals = 1024
	}
	if c.SDUBuffers == 0 {
		c.SDUBuffers = c.MaxChannels
	}
	var errs []error
	if c.MaxChannels <= 0 || c.MaxChannels > 0xFFFF-0x40 {
		errs = append(errs, fmt.Errorf("max channels %d out of range", c.MaxChannels))
	}
	if c.MaxLinks <= 0 {
		errs = append(errs, fmt.Errorf("max links %d out of range", c.MaxLinks))
	}
	if c.SDUMax < MinMTU || c.SDUMax > 0xFFFF-segment.SDUHeaderLen {
		errs = append(errs, fmt.Errorf("SDU max %d out of range", c.SDUMax))
	}
	if c.MPS < MinMTU || c.MPS > 0xFFFF {
		errs = append(errs, fmt.Errorf("MPS %d out of range", c.MPS))
	}
	if c.SDUBuffers < 0 {
		errs = append(errs, fmt.Errorf("SDU buffers %d out of range", c.SDUBuffers))
	}
	if c.SegmentBuffers <= 0 {
		errs = append(errs, fmt.Errorf("segment buffers %d out of range", c.SegmentBuffers))
	}
	if c.InitialCredits <= 0 || c.InitialCredits > credit.MaxCredits {
		errs = append(errs, fmt.Errorf("initial credits %d out of range", c.InitialCredits))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("coc: invalid config: %w", err)
	}
	return nil
}

// Validate reports whether c can size a host.
func (c Config) Validate() error {
	return c.normalize()
}
