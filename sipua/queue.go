/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"sync"

	"github.com/tejzpr/crm-softphone/calling"
)

// eventQueue is an unbounded FIFO in front of a channel. push never
// blocks, so SIP handlers are not held up by a slow consumer.
type eventQueue struct {
	mu        sync.Mutex
	pending   []calling.Event
	wake      chan struct{}
	out       chan calling.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan calling.Event),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(ev calling.Event) {
	q.mu.Lock()
	select {
	case <-q.done:
		q.mu.Unlock()
		return
	default:
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, ev := range batch {
			select {
			case q.out <- ev:
			case <-q.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-q.wake:
		case <-q.done:
			return
		}
	}
}

// close drops undelivered events and closes out
func (q *eventQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}
