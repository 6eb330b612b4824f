package tracking

import (
	"errors"
	"sync"

	"github.com/example/ride-tracking/internal/models"
)

type feedItem struct {
	fix models.LocationFix
	err error
}

// Feed is a LocationSource fed by pushes from the driver device. Callbacks
// run on a single goroutine in arrival order.
type Feed struct {
	mu         sync.Mutex
	ch         chan feedItem
	stop       chan struct{}
	done       chan struct{}
	subscribed bool
	closed     bool
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{ch: make(chan feedItem, buffer), stop: make(chan struct{}), done: make(chan struct{})}
}

func (f *Feed) Subscribe(onFix func(models.LocationFix), onError func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSourceClosed
	}
	if f.subscribed {
		return errors.New("feed already subscribed")
	}
	f.subscribed = true
	go f.loop(onFix, onError)
	return nil
}

func (f *Feed) loop(onFix func(models.LocationFix), onError func(error)) {
	defer close(f.done)
	for {
		select {
		case <-f.stop:
			return
		case it := <-f.ch:
			select {
			case <-f.stop:
				return
			default:
			}
			if it.err != nil {
				onError(it.err)
				continue
			}
			onFix(it.fix)
		}
	}
}

// Push queues a fix without blocking.
func (f *Feed) Push(fix models.LocationFix) error {
	return f.enqueue(feedItem{fix: fix})
}

// ReportError queues a GPS watch error.
func (f *Feed) ReportError(err error) error {
	return f.enqueue(feedItem{err: err})
}

func (f *Feed) enqueue(it feedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSourceClosed
	}
	select {
	case f.ch <- it:
		return nil
	default:
		return ErrFeedFull
	}
}

// Unsubscribe stops delivery and waits for an in-flight callback to return.
// It must not be called from inside a callback.
func (f *Feed) Unsubscribe() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.stop)
	subscribed := f.subscribed
	f.mu.Unlock()
	if subscribed {
		<-f.done
	}
}
