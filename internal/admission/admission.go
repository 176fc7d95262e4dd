package admission

import (
	"errors"
	"sync"

	"github.com/arcadenet/arcadectl/internal/observability"
)

var ErrExhausted = errors.New("admission: capacity exhausted")

// Controller bounds the number of concurrently active execution units. It is
// the single chokepoint for unit-count growth: every creating or running unit
// holds exactly one slot.
type Controller struct {
	mu       sync.Mutex
	capacity int
	inUse    int
}

// Release restores one admitted slot. Safe to call more than once; only the
// first call has effect, so every cleanup path may release unconditionally.
type Release func()

func NewController(capacity int) *Controller {
	if capacity < 1 {
		capacity = 1
	}
	return &Controller{capacity: capacity}
}

// TryAdmit atomically checks-and-increments the slot counter. ErrExhausted
// when the ceiling is already met.
func (c *Controller) TryAdmit() (Release, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse >= c.capacity {
		return nil, ErrExhausted
	}
	c.inUse++
	observability.SetAdmissionInUse(c.inUse)

	var once sync.Once
	return func() {
		once.Do(c.release)
	}, nil
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse > 0 {
		c.inUse--
	}
	observability.SetAdmissionInUse(c.inUse)
}

func (c *Controller) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *Controller) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}
