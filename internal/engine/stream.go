package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/wellsolve/calcgateway/internal/hub"
	"github.com/wellsolve/calcgateway/internal/model"
	"github.com/wellsolve/calcgateway/internal/registry"
)

// ErrIdleTimeout marks a subscription closed because no event arrived within
// the idle window.
var ErrIdleTimeout = errors.New("progress stream idle timeout")

// Subscription is one consumer's view of a calculation's event stream. Events
// are delivered in publish order; the channel closes when the calculation
// terminates, the idle window elapses or the consumer cancels.
type Subscription struct {
	events <-chan model.ProgressEvent

	mu  sync.Mutex
	err error

	stopOnce sync.Once
	stop     chan struct{}
}

// Events returns the subscription's event channel. Read it until closed.
func (s *Subscription) Events() <-chan model.ProgressEvent {
	return s.events
}

// Err reports why the stream ended: nil for normal completion, ErrIdleTimeout
// when the idle window elapsed, or the calculation's failure cause.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel detaches the consumer. Safe to call multiple times and after the
// channel has closed.
func (s *Subscription) Cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// StreamProgress subscribes to a calculation's live event stream. Unknown ids
// return registry.ErrNotFound. Subscribing to a terminal calculation yields an
// already-closed subscription carrying the calculation's end cause, so the
// caller can report status without replaying history.
func (e *Engine) StreamProgress(id string) (*Subscription, error) {
	if !e.registry.Exists(id) {
		return nil, registry.ErrNotFound
	}

	events, unsubscribe, err := e.hub.Subscribe(id)
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) {
			// Record exists but its hub topic was already swept; treat as a
			// terminal calculation with no remaining events.
			closed := make(chan model.ProgressEvent)
			close(closed)
			sub := &Subscription{events: closed, stop: make(chan struct{})}
			return sub, nil
		}
		return nil, err
	}

	out := make(chan model.ProgressEvent)
	sub := &Subscription{events: out, stop: make(chan struct{})}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsubscribe()
		defer close(out)

		idle := time.NewTimer(e.opts.IdleTimeout)
		defer idle.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					sub.setErr(e.hub.Err(id))
					return
				}
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(e.opts.IdleTimeout)

				select {
				case out <- ev:
				case <-sub.stop:
					return
				case <-e.stop:
					return
				case <-idle.C:
					sub.setErr(ErrIdleTimeout)
					return
				}

			case <-idle.C:
				sub.setErr(ErrIdleTimeout)
				return

			case <-sub.stop:
				return

			case <-e.stop:
				return
			}
		}
	}()

	return sub, nil
}
