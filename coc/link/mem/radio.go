package mem

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/link"
)

var (
	ErrAddressInUse = errors.New("mem: address already attached")
	ErrClosed       = errors.New("mem: device closed")
	ErrUnknownLink  = errors.New("mem: unknown link")
)

// RadioOptions configures the shared medium.
type RadioOptions struct {
	// Airtime delays every frame before delivery.
	Airtime time.Duration
	Logger  *zap.Logger
}

// Radio is the shared medium devices attach to.
type Radio struct {
	airtime time.Duration
	log     *zap.Logger
	nextID  atomic.Uint32

	mu      sync.Mutex
	devices map[identity.Address]*Device
	conns   map[link.ID]*conn
}

func NewRadio(opts RadioOptions) *Radio {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Radio{
		airtime: opts.Airtime,
		log:     log.Named("radio"),
		devices: map[identity.Address]*Device{},
		conns:   map[link.ID]*conn{},
	}
}

// DeviceOptions configures one attached device.
type DeviceOptions struct {
	// Security is the highest level the device supports. A link runs at
	// the lower of its two ends. Zero means SecurityL1.
	Security link.SecurityLevel
}

// Attach registers a device at addr whose events go to h.
func (r *Radio) Attach(addr identity.Address, h link.Handler, opts DeviceOptions) (*Device, error) {
	if opts.Security == 0 {
		opts.Security = link.SecurityL1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	d := &Device{
		radio:    r,
		addr:     addr,
		handler:  h,
		security: opts.Security,
		links:    map[link.ID]*conn{},
	}
	r.devices[addr] = d
	return d, nil
}

// Sever drops a link as if the peers went out of range. Both ends see
// reason.
func (r *Radio) Sever(id link.ID, reason link.Reason) error {
	r.mu.Lock()
	c, ok := r.conns[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownLink, id)
	}
	return c.close(reason, reason, nil)
}

// Links returns the IDs of the links currently up.
func (r *Radio) Links() []link.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]link.ID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

func (r *Radio) forget(c *conn) {
	r.mu.Lock()
	delete(r.conns, c.id)
	for _, e := range c.ends {
		delete(e.dev.links, c.id)
	}
	r.mu.Unlock()
}
