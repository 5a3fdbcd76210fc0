package channel

import (
	"context"
	"math/rand/v2"
)

// waker is the shared wake-up signal a Select registers on every channel it
// waits on. Signals coalesce: one pending wake is enough for a rescan.
type waker struct {
	c chan struct{}
}

func newWaker() *waker {
	return &waker{c: make(chan struct{}, 1)}
}

func (w *waker) wake() {
	select {
	case w.c <- struct{}{}:
	default:
	}
}

// Select waits until one of chans has a message, receives exactly one message
// from one ready channel and returns its index.
//
// Among several ready channels the choice is made from a random starting
// point, so a channel that stays ready is eventually chosen. Closed channels
// are skipped while any other channel is still open; once every channel is
// closed and drained, Select returns ErrChannelClosed with index -1.
func Select[T any](ctx context.Context, chans ...*Channel[T]) (int, T, error) {
	var zero T
	if len(chans) == 0 {
		<-ctx.Done()
		return -1, zero, ctx.Err()
	}

	w := newWaker()
	for _, ch := range chans {
		ch.watch(w)
	}
	defer func() {
		for _, ch := range chans {
			ch.unwatch(w)
		}
	}()

	for {
		// registration happens before the scan, so a message that arrives
		// after we looked at its channel still leaves a pending wake
		start := rand.IntN(len(chans))
		closed := 0
		for i := range chans {
			idx := (start + i) % len(chans)
			v, ok, isClosed := chans[idx].poll()
			if ok {
				return idx, v, nil
			}
			if isClosed {
				closed++
			}
		}
		if closed == len(chans) {
			return -1, zero, ErrChannelClosed
		}

		select {
		case <-ctx.Done():
			return -1, zero, ctx.Err()
		case <-w.c:
		}
	}
}
