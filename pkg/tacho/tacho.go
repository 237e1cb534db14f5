package tacho

import (
	"context"
	"sync/atomic"
	"time"

	"periph.io/x/periph/conn/gpio"
)

// Counter accumulates tachometer pulses.  Pulse is called from the edge-watching side,
// ReadAndReset from the control loop; the swap makes the read-and-reset a single step so
// a pulse is never lost or counted in two windows.
type Counter struct {
	pulses uint32
}

func (c *Counter) Pulse() {
	atomic.AddUint32(&c.pulses, 1)
}

// Add records n pulses at once, for backends that report pulse deltas.
func (c *Counter) Add(n uint32) {
	atomic.AddUint32(&c.pulses, n)
}

func (c *Counter) ReadAndReset() uint32 {
	return atomic.SwapUint32(&c.pulses, 0)
}

// Peek returns the current count without resetting it.
func (c *Counter) Peek() uint32 {
	return atomic.LoadUint32(&c.pulses)
}

// Watch counts rising edges on pin until ctx is done.
func Watch(ctx context.Context, pin gpio.PinIn, c *Counter) error {
	if err := pin.In(gpio.PullUp, gpio.RisingEdge); err != nil {
		return err
	}
	defer pin.In(gpio.PullUp, gpio.NoEdge)
	for ctx.Err() == nil {
		// Short timeout so cancellation is noticed even with a stalled motor.
		if pin.WaitForEdge(100 * time.Millisecond) {
			c.Pulse()
		}
	}
	return ctx.Err()
}
