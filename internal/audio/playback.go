package audio

import (
	"sync"
	"time"
)

// Clock abstracts the output device timeline so scheduling stays
// deterministic under test. Now is the time elapsed since the device
// opened; After mirrors time.After against the same timeline.
type Clock interface {
	Now() time.Duration
	After(d time.Duration) <-chan time.Time
}

type deviceClock struct {
	start time.Time
}

// NewDeviceClock returns a Clock anchored at the moment of the call.
func NewDeviceClock() Clock {
	return &deviceClock{start: time.Now()}
}

func (c *deviceClock) Now() time.Duration                { return time.Since(c.start) }
func (c *deviceClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sink receives interleaved s16le PCM ready for output. Implementations
// are the speaker device and the oracle WebSocket bridge.
type Sink interface {
	Write(pcm []byte) error
	Close() error
}

// Unit is one scheduled playback buffer. It is live from Schedule until
// its natural end or a forced stop.
type Unit struct {
	start    time.Duration
	duration time.Duration

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
}

// Stop cancels the unit. Safe to call more than once; a stopped unit
// never fires its completion callback.
func (u *Unit) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	u.stopped = true
	close(u.stop)
}

func (u *Unit) isStopped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopped
}

// Player schedules decoded buffers for gap-free sequential output on a
// Sink. The caller threads the returned cursor through successive
// Schedule calls; the cursor never decreases, so units never overlap.
type Player struct {
	clock Clock
	sink  Sink

	mu     sync.Mutex
	units  map[*Unit]struct{}
	closed bool
}

// NewPlayer creates a player over the given sink and clock.
func NewPlayer(sink Sink, clock Clock) *Player {
	return &Player{
		clock: clock,
		sink:  sink,
		units: make(map[*Unit]struct{}),
	}
}

// Schedule queues buf to start at max(cursor, now): immediately if the
// device is idle, otherwise right after the previously scheduled unit.
// It returns the unit handle and the cursor for the next call
// (start + duration). onDone fires once when playback ends naturally,
// never after StopAll.
func (p *Player) Schedule(buf *Buffer, cursor time.Duration, onDone func(*Unit)) (*Unit, time.Duration) {
	now := p.clock.Now()
	start := cursor
	if now > start {
		start = now
	}
	unit := &Unit{
		start:    start,
		duration: buf.Duration(),
		stop:     make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		unit.Stop()
		return unit, cursor
	}
	p.units[unit] = struct{}{}
	p.mu.Unlock()

	go p.run(unit, buf, onDone)
	return unit, start + unit.duration
}

// run waits for the unit's start time, writes its PCM to the sink, then
// waits out the buffer duration before reporting completion. The sink is
// assumed to pace actual output; the wait keeps completion callbacks
// aligned with the audible timeline.
func (p *Player) run(unit *Unit, buf *Buffer, onDone func(*Unit)) {
	if wait := unit.start - p.clock.Now(); wait > 0 {
		select {
		case <-p.clock.After(wait):
		case <-unit.stop:
			return
		}
	}
	if unit.isStopped() {
		return
	}
	_ = p.sink.Write(buf.PCM16())

	select {
	case <-p.clock.After(unit.duration):
	case <-unit.stop:
		return
	}

	p.mu.Lock()
	_, live := p.units[unit]
	delete(p.units, unit)
	p.mu.Unlock()

	if live && onDone != nil {
		onDone(unit)
	}
}

// StopAll force-stops every live unit and clears the tracking set.
// Idempotent; completion callbacks for stopped units are suppressed.
func (p *Player) StopAll() {
	p.mu.Lock()
	units := make([]*Unit, 0, len(p.units))
	for unit := range p.units {
		units = append(units, unit)
	}
	p.units = make(map[*Unit]struct{})
	p.mu.Unlock()

	for _, unit := range units {
		unit.Stop()
	}
}

// Live reports the number of scheduled, not-yet-finished units.
func (p *Player) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.units)
}

// Close stops all units and closes the sink. Idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.StopAll()
	return p.sink.Close()
}
