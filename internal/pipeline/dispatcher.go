package pipeline

import (
	"sync"

	"github.com/BJohnRogers/FinalVision/internal/logging"
)

// dispatcher runs queued funcs one at a time on its own goroutine, in enqueue
// order. The queue is unbounded so enqueue never blocks a caller holding a lock.
type dispatcher struct {
	name   string
	logger *logging.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func newDispatcher(name string, logger *logging.Logger) *dispatcher {
	d := &dispatcher{
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// enqueue schedules fn and reports false once the dispatcher is closed
func (d *dispatcher) enqueue(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	return true
}

// close runs everything already queued and then stops the goroutine
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	<-d.done
}

func (d *dispatcher) loop() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.run(fn)
	}
}

func (d *dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Dispatcher task panicked", "dispatcher", d.name, "panic", r)
		}
	}()
	fn()
}
