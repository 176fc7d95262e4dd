package arcade

import "sync"

// PortAllocator hands out host ports from a fixed range. It is one of the two
// process-wide mutation points on the create path; all check-and-act happens
// under its mutex so no two active units ever share a port.
type PortAllocator struct {
	mu    sync.Mutex
	base  int
	count int
	inUse map[int]bool
}

func NewPortAllocator(base, count int) *PortAllocator {
	if base < 1 {
		base = 30000
	}
	if count < 1 {
		count = 1
	}
	return &PortAllocator{
		base:  base,
		count: count,
		inUse: make(map[int]bool, count),
	}
}

// Acquire reserves the lowest free port in the range. ErrPortsExhausted when
// every port is held by an active unit.
func (p *PortAllocator) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := p.base; port < p.base+p.count; port++ {
		if !p.inUse[port] {
			p.inUse[port] = true
			return port, nil
		}
	}
	return 0, ErrPortsExhausted
}

// Release returns a port to the pool. Releasing a free port is a no-op.
func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

func (p *PortAllocator) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
