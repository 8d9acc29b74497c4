// clock/clock.go
package clock

import (
	"sync"
	"time"

	"github.com/wfunc/chessserver/models"
)

// Config fixes a clock's time control and cadences. Internal accounting is
// in milliseconds; Tick is how often elapsed time is deducted, Broadcast
// is how often subscribers get a throttled update.
type Config struct {
	Initial   time.Duration
	Increment time.Duration
	Tick      time.Duration
	Broadcast time.Duration
}

// DefaultCadence fills in the sub-second tick and the slower broadcast
// cadence when the caller leaves them zero.
func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.Broadcast <= 0 {
		c.Broadcast = time.Second
	}
	return c
}

// Clock is a pair of independent countdown timers, one per side. At most
// one side is active. The active side is always cleared before the
// timeout callback fires, so a stop racing the timeout can never
// double-handle.
type Clock struct {
	cfg Config

	mutex     sync.Mutex
	white     int64 // remaining ms
	black     int64
	active    models.Color // "" when stopped
	lastTick  time.Time
	lastEmit  time.Time
	onTimeout func(models.Color)
	onUpdate  func(white, black int)

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
}

func New(cfg Config) *Clock {
	cfg = cfg.withDefaults()
	c := &Clock{
		cfg:      cfg,
		white:    cfg.Initial.Milliseconds(),
		black:    cfg.Initial.Milliseconds(),
		stopChan: make(chan struct{}),
	}
	return c
}

// OnTimeout registers the callback fired exactly once when a side's time
// reaches zero.
func (c *Clock) OnTimeout(fn func(models.Color)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onTimeout = fn
}

// OnUpdate registers the throttled remaining-time subscriber.
func (c *Clock) OnUpdate(fn func(white, black int)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onUpdate = fn
}

// Start stops whatever is running, marks color active and begins ticking.
func (c *Clock) Start(color models.Color) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.deductLocked()
	c.active = color
	now := time.Now()
	c.lastTick = now
	c.lastEmit = now

	if c.ticker == nil {
		c.ticker = time.NewTicker(c.cfg.Tick)
		go c.loop()
	}
}

// Stop performs one final exact deduction for the running side, then
// clears the active color. Safe to call when nothing is active.
func (c *Clock) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.deductLocked()
	c.active = ""
}

// AddIncrement credits the configured increment to one side and emits an
// update.
func (c *Clock) AddIncrement(color models.Color) {
	c.mutex.Lock()
	if color == models.White {
		c.white += c.cfg.Increment.Milliseconds()
	} else {
		c.black += c.cfg.Increment.Milliseconds()
	}
	white, black := c.timesLocked()
	update := c.onUpdate
	c.mutex.Unlock()

	if update != nil {
		update(white, black)
	}
}

// Times reports both sides in whole seconds, floored at zero.
func (c *Clock) Times() (white, black int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.timesLocked()
}

// Active returns the running side, or "" when stopped.
func (c *Clock) Active() models.Color {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.active
}

// Destroy stops the tick loop for good. Idempotent.
func (c *Clock) Destroy() {
	c.Stop()
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

func (c *Clock) loop() {
	for {
		select {
		case <-c.ticker.C:
			c.tick()
		case <-c.stopChan:
			c.ticker.Stop()
			return
		}
	}
}

// tick deducts elapsed time from the active side; at zero it clears the
// active color first and only then fires the timeout callback.
func (c *Clock) tick() {
	c.mutex.Lock()
	if c.active == "" {
		c.mutex.Unlock()
		return
	}

	c.deductLocked()

	var flagged models.Color
	if (c.active == models.White && c.white <= 0) || (c.active == models.Black && c.black <= 0) {
		flagged = c.active
		c.active = ""
	}

	var update func(int, int)
	var white, black int
	if flagged == "" && time.Since(c.lastEmit) >= c.cfg.Broadcast {
		c.lastEmit = time.Now()
		update = c.onUpdate
		white, black = c.timesLocked()
	}
	timeout := c.onTimeout
	c.mutex.Unlock()

	if flagged != "" {
		if timeout != nil {
			timeout(flagged)
		}
		return
	}
	if update != nil {
		update(white, black)
	}
}

// deductLocked charges the active side for the time since the last tick.
// Caller holds the mutex.
func (c *Clock) deductLocked() {
	if c.active == "" {
		return
	}
	now := time.Now()
	elapsed := now.Sub(c.lastTick).Milliseconds()
	c.lastTick = now

	if c.active == models.White {
		c.white -= elapsed
		if c.white < 0 {
			c.white = 0
		}
	} else {
		c.black -= elapsed
		if c.black < 0 {
			c.black = 0
		}
	}
}

func (c *Clock) timesLocked() (int, int) {
	return roundSeconds(c.white), roundSeconds(c.black)
}

func roundSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + 500) / 1000)
}
