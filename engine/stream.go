package engine

import (
	"context"
	"log"

	"github.com/mindfold/mind/memory"
)

// Observation streams are push-style: each delivers an immediate snapshot
// and a fresh one after every mutation touching the persona. They read
// the live store on every tick, so a snapshot always reflects current
// committed state. Cancelling the context halts delivery and has no
// effect on stored data.

// subscriber links a persona to a wake-up channel. notify carries at most
// one pending wake-up; coalescing bursts is fine because each wake-up
// re-reads the whole current state.
type subscriber struct {
	personaID string
	notify    chan struct{}
	stop      chan struct{}
}

// subscribe registers a wake-up channel for a persona.
func (e *Engine) subscribe(personaID string) (int, *subscriber, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, nil, false
	}
	id := e.nextSub
	e.nextSub++
	sub := &subscriber{
		personaID: personaID,
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	e.subs[id] = sub
	return id, sub, true
}

func (e *Engine) unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, id)
}

// notify wakes every subscriber watching personaID.
func (e *Engine) notify(personaID string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, sub := range e.subs {
		if sub.personaID != personaID {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default: // a wake-up is already pending
		}
	}
}

// Feed streams the persona's filtered memory list: one snapshot
// immediately, then one after each mutation. The channel closes when ctx
// is cancelled or the engine shuts down.
func (e *Engine) Feed(ctx context.Context, personaID string, filter memory.FeedFilter) <-chan []memory.Memory {
	out := make(chan []memory.Memory, 1)
	stream(ctx, e, personaID, out, func(ctx context.Context) ([]memory.Memory, error) {
		return e.store.List(ctx, personaID, filter)
	})
	return out
}

// ObserveCounts streams live per-kind memory counts for a persona, with
// the same snapshot-per-mutation contract as Feed.
func (e *Engine) ObserveCounts(ctx context.Context, personaID string) <-chan map[memory.Kind]int {
	out := make(chan map[memory.Kind]int, 1)
	stream(ctx, e, personaID, out, func(ctx context.Context) (map[memory.Kind]int, error) {
		return e.store.CountByKind(ctx, personaID)
	})
	return out
}

// stream runs the shared snapshot loop: query, send, wait for the next
// wake-up. Query failures are logged and the previous snapshot simply
// stands until the next mutation.
func stream[T any](ctx context.Context, e *Engine, personaID string, out chan T, query func(context.Context) (T, error)) {
	id, sub, ok := e.subscribe(personaID)
	if !ok {
		close(out)
		return
	}

	go func() {
		defer close(out)
		defer e.unsubscribe(id)
		for {
			snapshot, err := query(ctx)
			if err != nil {
				log.Printf("[ENGINE] Stream query failed for persona=%s: %v", personaID, err)
			} else {
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				case <-sub.stop:
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-sub.stop:
				return
			case <-sub.notify:
			}
		}
	}()
}
