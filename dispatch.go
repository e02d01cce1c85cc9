package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
)

// dispatcher runs callbacks on one goroutine, in the order they were posted, so a
// slow handler never stalls the session goroutine. The queue is unbounded.
type dispatcher struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	notify  chan struct{}
	done    chan struct{}
}

func newDispatcher(log *slog.Logger) *dispatcher {
	d := &dispatcher{
		log:    log,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// post queues fn. Calls after stop are dropped.
func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// stop runs what is already queued and waits for the goroutine to exit.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for range d.notify {
		d.mu.Lock()
		batch, stopped := d.queue, d.stopped
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range batch {
			d.call(fn)
		}
		if stopped {
			return
		}
	}
}

func (d *dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", "error", fmt.Sprint(r))
		}
	}()
	fn()
}
