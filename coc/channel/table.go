package channel

import (
	"fmt"

	"github.com/TheusHen/cocstress/coc/credit"
	"github.com/TheusHen/cocstress/coc/link"
)

// FirstDynamicCID is the first CID handed to a channel.
const FirstDynamicCID uint16 = 0x0040

// Handle names a channel slot for one lifetime of that slot.
type Handle struct {
	Index uint16
	Gen   uint32
}

// Valid reports whether h was issued by a table. The zero Handle is never
// issued.
func (h Handle) Valid() bool { return h.Gen != 0 }

func (h Handle) String() string {
	return fmt.Sprintf("ch%d.%d", h.Index, h.Gen)
}

// Table is a fixed-capacity set of channel slots. Slot i always uses local
// CID FirstDynamicCID+i.
type Table struct {
	slots []Channel
	gens  []uint32
}

// NewTable returns a table with capacity idle slots.
func NewTable(capacity int) *Table {
	t := &Table{slots: make([]Channel, capacity), gens: make([]uint32, capacity)}
	for i := range t.slots {
		t.slots[i].localCID = FirstDynamicCID + uint16(i)
		t.slots[i].credits = credit.New(credit.Params{})
	}
	return t
}

func (t *Table) Capacity() int { return len(t.slots) }

// Open allocates an idle slot for an outbound channel on l and moves it to
// connecting.
func (t *Table) Open(l link.ID, psm uint16) (*Channel, error) {
	for i := range t.slots {
		c := &t.slots[i]
		if c.state != StateIdle {
			continue
		}
		if err := c.Transition(StateConnecting); err != nil {
			return nil, err
		}
		t.gens[i]++
		if t.gens[i] == 0 {
			t.gens[i] = 1
		}
		c.handle = Handle{Index: uint16(i), Gen: t.gens[i]}
		c.link, c.psm = l, psm
		return c, nil
	}
	return nil, ErrNoChannelSlot
}

// Accept allocates a slot for an inbound channel on l and connects it in one
// step. On a bind failure the slot is returned to idle.
func (t *Table) Accept(l link.ID, psm uint16, b Binding) (*Channel, error) {
	c, err := t.Open(l, psm)
	if err != nil {
		return nil, err
	}
	if err := c.Accept(b); err != nil {
		_ = c.Reject()
		return nil, err
	}
	return c, nil
}

// Lookup resolves a handle to its live channel.
func (t *Table) Lookup(h Handle) (*Channel, error) {
	if int(h.Index) >= len(t.slots) || !h.Valid() {
		return nil, fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	c := &t.slots[h.Index]
	if c.handle != h || c.state == StateIdle {
		return nil, fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	return c, nil
}

// ByLocalCID finds the active channel on l with the given local CID.
func (t *Table) ByLocalCID(l link.ID, cid uint16) *Channel {
	if cid < FirstDynamicCID {
		return nil
	}
	i := int(cid - FirstDynamicCID)
	if i >= len(t.slots) {
		return nil
	}
	c := &t.slots[i]
	if c.state == StateIdle || c.link != l {
		return nil
	}
	return c
}

// ByRemoteCID finds the active channel on l bound to the peer's CID.
func (t *Table) ByRemoteCID(l link.ID, cid uint16) *Channel {
	for i := range t.slots {
		c := &t.slots[i]
		if c.state != StateIdle && c.link == l && c.binding.RemoteCID == cid {
			return c
		}
	}
	return nil
}

// OnLink returns the active channels on l.
func (t *Table) OnLink(l link.ID) []*Channel {
	var out []*Channel
	for i := range t.slots {
		if c := &t.slots[i]; c.state != StateIdle && c.link == l {
			out = append(out, c)
		}
	}
	return out
}

// Active returns every channel that is not idle.
func (t *Table) Active() []*Channel {
	var out []*Channel
	for i := range t.slots {
		if c := &t.slots[i]; c.state != StateIdle {
			out = append(out, c)
		}
	}
	return out
}

// Infos snapshots every slot, idle ones included.
func (t *Table) Infos() []Info {
	out := make([]Info, len(t.slots))
	for i := range t.slots {
		out[i] = t.slots[i].Info()
	}
	return out
}
