package memory

import (
	"bytes"
	"slices"
	"sync"

	"github.com/TheusHen/cocstress/coc/discovery"
	"github.com/TheusHen/cocstress/coc/identity"
)

// Store is an in-memory discovery resolver shared by the hosts of one
// process.
type Store struct {
	mu      sync.RWMutex
	devices map[identity.Address]discovery.AddrInfo
}

func New() *Store {
	return &Store{devices: map[identity.Address]discovery.AddrInfo{}}
}

func (s *Store) Announce(info discovery.AddrInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[info.Address] = info
	return nil
}

func (s *Store) Lookup(addr identity.Address) (discovery.AddrInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.devices[addr]
	if !ok {
		return discovery.AddrInfo{}, discovery.ErrNotFound
	}
	return info, nil
}

// List returns every announced device ordered by address.
func (s *Store) List() ([]discovery.AddrInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]discovery.AddrInfo, 0, len(s.devices))
	for _, info := range s.devices {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b discovery.AddrInfo) int {
		return bytes.Compare(a.Address[:], b.Address[:])
	})
	return out, nil
}
