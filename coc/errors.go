package coc

import (
	"errors"
	"fmt"

	"github.com/TheusHen/cocstress/coc/fault"
)

var (
	ErrHostStopped         = errors.New("coc: host stopped")
	ErrAlreadyRunning      = errors.New("coc: host already running")
	ErrUnknownLink         = errors.New("coc: unknown link")
	ErrTooManyLinks        = fmt.Errorf("coc: link limit reached: %w", fault.ErrResourceExhausted)
	ErrPSMInUse            = errors.New("coc: PSM already registered")
	ErrNoDynamicPSM        = errors.New("coc: dynamic PSM range exhausted")
	ErrChannelNotConnected = errors.New("coc: channel not connected")
	ErrSDUTooLarge         = errors.New("coc: SDU exceeds channel MTU")
	ErrConnectTimeout      = errors.New("coc: channel connect timed out")
	ErrUnknownCID          = fmt.Errorf("coc: K-frame for unknown CID: %w", fault.ErrProtocolViolation)
	ErrUnexpectedFrame     = fmt.Errorf("coc: unexpected frame: %w", fault.ErrProtocolViolation)
	ErrDeferralLimit       = fmt.Errorf("coc: channel deferred too many times: %w", fault.ErrResourceExhausted)
	ErrRxSDUExhausted      = fmt.Errorf("coc: no RX SDU buffer for incoming SDU: %w", fault.ErrResourceExhausted)
)
