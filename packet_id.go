package mqttclient

import "sync"

const maxPacketIDs = 65535

// PacketIDAllocator hands out packet identifiers 1-65535 for QoS 1/2
// publishes and for SUBSCRIBE/UNSUBSCRIBE exchanges. Allocation walks forward
// from the last id with wraparound and skips ids still in use.
type PacketIDAllocator struct {
	mu   sync.Mutex
	used map[uint16]struct{}
	next uint16
}

// NewPacketIDAllocator creates an allocator with every id free.
func NewPacketIDAllocator() *PacketIDAllocator {
	return &PacketIDAllocator{
		used: make(map[uint16]struct{}),
		next: 1,
	}
}

// Allocate returns the next free packet id, or ErrExhaustedIDs.
func (a *PacketIDAllocator) Allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.used) >= maxPacketIDs {
		return 0, ErrExhaustedIDs
	}

	for {
		id := a.next
		a.next++
		if a.next == 0 {
			a.next = 1
		}

		if _, ok := a.used[id]; !ok {
			a.used[id] = struct{}{}
			return id, nil
		}
	}
}

// Release returns an id to the pool. Releasing a free id does nothing.
func (a *PacketIDAllocator) Release(id uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, id)
}

// IsUsed returns true if the packet ID is currently in use.
func (a *PacketIDAllocator) IsUsed(id uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.used[id]
	return ok
}

// InUse returns the count of packet IDs currently in use.
func (a *PacketIDAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// Reset frees every id.
func (a *PacketIDAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.used)
}
