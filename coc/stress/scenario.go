package stress

import (
	"time"

	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/protocol"
)

// Scenario sizes one stress run.
type Scenario struct {
	Peers      int
	Messages   int
	MessageLen int
	// PSM the peripheral serves and the central connects to.
	PSM      uint16
	Security link.SecurityLevel
	// PollInterval is the fallback tick of completion waits.
	PollInterval time.Duration
	// Timeout bounds a whole role; zero means no bound.
	Timeout time.Duration
}

// DefaultScenario is six peers receiving twenty 1230-byte SDUs each.
func DefaultScenario() Scenario {
	return Scenario{
		Peers:        6,
		Messages:     20,
		MessageLen:   1230,
		PSM:          protocol.FirstDynamicPSM,
		Security:     link.SecurityL1,
		PollInterval: 100 * time.Millisecond,
	}
}

func (s Scenario) normalized() Scenario {
	d := DefaultScenario()
	if s.PSM == 0 {
		s.PSM = d.PSM
	}
	if s.Security == 0 {
		s.Security = d.Security
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.MessageLen < 0 {
		s.MessageLen = 0
	}
	return s
}

// Pattern returns the payload every SDU carries: byte i is i mod 256.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

// Report is what a role observed.
type Report struct {
	Role         link.Role
	Links        int
	Disconnected int
	// Remaining is the number of SDUs left unsent per channel, in peer
	// order. Central only.
	Remaining []int
	// Received counts validated SDUs. Peripheral only.
	Received     int
	PeakSegments int
	Elapsed      time.Duration
}

// RemainingTotal sums Remaining.
func (r Report) RemainingTotal() int {
	n := 0
	for _, v := range r.Remaining {
		n += v
	}
	return n
}
