package realtime

import (
	"sync"
)

const defaultBuffer = 16

// delivery runs one subscriber's handler on its own goroutine, in arrival
// order. A full buffer drops the event: the subscriber already has a refetch
// pending, and a refetch reads the latest state anyway.
type delivery struct {
	filter  Filter
	handler Handler
	events  chan Event
	done    chan struct{}
	once    sync.Once
	onStop  func()
}

func newDelivery(f Filter, h Handler, buffer int, onStop func()) *delivery {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &delivery{
		filter:  f,
		handler: h,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		onStop:  onStop,
	}
	go d.run()
	return d
}

func (d *delivery) run() {
	for {
		select {
		case <-d.done:
			return
		case e := <-d.events:
			select {
			case <-d.done:
				return
			default:
			}
			d.handler(e)
		}
	}
}

// offer queues e if it matches. It reports false if the event was dropped.
func (d *delivery) offer(e Event) bool {
	if !d.filter.Matches(e) {
		return true
	}
	select {
	case <-d.done:
		return true
	default:
	}
	select {
	case d.events <- e:
		return true
	default:
		return false
	}
}

func (d *delivery) Unsubscribe() error {
	d.once.Do(func() {
		close(d.done)
		if d.onStop != nil {
			d.onStop()
		}
	})
	return nil
}
