package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTick is the countdown resolution.
const DefaultTick = time.Second

// Countdown decrements a remaining-seconds counter once per tick and calls
// onExpire when it reaches zero, unless stopped first.
type Countdown struct {
	remaining atomic.Int64
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// StartCountdown starts a countdown of seconds ticks. A non-positive value
// expires immediately.
func StartCountdown(seconds int, tick time.Duration, onExpire func()) *Countdown {
	if tick <= 0 {
		tick = DefaultTick
	}
	c := &Countdown{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.remaining.Store(int64(seconds))

	go c.run(tick, onExpire)
	return c
}

func (c *Countdown) run(tick time.Duration, onExpire func()) {
	defer close(c.done)

	if c.remaining.Load() <= 0 {
		c.remaining.Store(0)
		c.fire(onExpire)
		return
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.remaining.Add(-1) <= 0 {
				c.fire(onExpire)
				return
			}
		}
	}
}

func (c *Countdown) fire(onExpire func()) {
	select {
	case <-c.stop:
		return
	default:
	}
	if onExpire != nil {
		onExpire()
	}
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	if r := c.remaining.Load(); r > 0 {
		return int(r)
	}
	return 0
}

// Stop prevents any future expiry. It does not wait for the loop: onExpire
// itself usually ends up calling Stop.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once the countdown loop has exited.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
