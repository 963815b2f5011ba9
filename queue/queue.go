//  Copyright (c) 2014 Couchbase, Inc.
//  Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
//  except in compliance with the License. You may obtain a copy of the License at
//    http://www.apache.org/licenses/LICENSE-2.0
//  Unless required by applicable law or agreed to in writing, software distributed under the
//  License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
//  either express or implied. See the License for the specific language governing permissions
//  and limitations under the License.

package queue

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/couchbase/eventing-consumer/common"
)

// BoundedQueue is the per-worker mailbox: FIFO for data messages with a
// front-insert lane for control messages. MPSC safe - any number of
// producers (router, timer scanner, controller reader), exactly one
// consumer (the owning worker thread).
//
// Backpressure is cooperative: PushBack blocks the producer while the
// byte budget is exhausted, so a slow consumer throttles the reactor
// instead of the queue dropping events.
type BoundedQueue struct {
	mu     sync.Mutex
	nonemp *sync.Cond
	elems  *list.List // of entry

	size   int64 // items, updated atomically for observers
	memory int64 // bytes, updated atomically for observers

	budget int64
	sem    *semaphore.Weighted

	closed bool
}

type entry struct {
	msg    *common.Message
	charge int64
}

// NewBoundedQueue allocates a queue with a byte budget. A budget <= 0
// disables byte accounting back-pressure.
func NewBoundedQueue(byteBudget int64) *BoundedQueue {
	q := &BoundedQueue{
		elems:  list.New(),
		budget: byteBudget,
	}
	q.nonemp = sync.NewCond(&q.mu)
	if byteBudget > 0 {
		q.sem = semaphore.NewWeighted(byteBudget)
	}
	return q
}

// PushBack appends msg, blocking while the byte budget is exhausted.
// Returns false once the queue has been closed.
func (q *BoundedQueue) PushBack(msg *common.Message) bool {
	charge := q.chargeFor(msg)
	if q.sem != nil && charge > 0 {
		if err := q.sem.Acquire(context.Background(), charge); err != nil {
			return false
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if q.sem != nil && charge > 0 {
			q.sem.Release(charge)
		}
		return false
	}
	q.elems.PushBack(entry{msg, charge})
	atomic.AddInt64(&q.size, 1)
	atomic.AddInt64(&q.memory, msg.Size())
	q.mu.Unlock()
	q.nonemp.Signal()
	return true
}

// PushFront inserts msg ahead of everything queued. Only internal
// control messages use this lane; it never blocks on the byte budget so
// a saturated queue cannot dam a vbucket-map update or timer-scan kick.
func (q *BoundedQueue) PushFront(msg *common.Message) bool {
	var charge int64
	if q.sem != nil {
		if c := q.chargeFor(msg); q.sem.TryAcquire(c) {
			charge = c
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if charge > 0 {
			q.sem.Release(charge)
		}
		return false
	}
	q.elems.PushFront(entry{msg, charge})
	atomic.AddInt64(&q.size, 1)
	atomic.AddInt64(&q.memory, msg.Size())
	q.mu.Unlock()
	q.nonemp.Signal()
	return true
}

// Pop blocks until a message is available or the queue is closed.
func (q *BoundedQueue) Pop() (*common.Message, bool) {
	q.mu.Lock()
	for q.elems.Len() == 0 && !q.closed {
		q.nonemp.Wait()
	}
	if q.elems.Len() == 0 {
		q.mu.Unlock()
		return nil, false
	}
	e := q.elems.Remove(q.elems.Front()).(entry)
	atomic.AddInt64(&q.size, -1)
	atomic.AddInt64(&q.memory, -e.msg.Size())
	q.mu.Unlock()

	if q.sem != nil && e.charge > 0 {
		q.sem.Release(e.charge)
	}
	return e.msg, true
}

// Close wakes the consumer and unblocks producers. Messages already
// queued are dropped.
func (q *BoundedQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for q.elems.Len() > 0 {
		e := q.elems.Remove(q.elems.Front()).(entry)
		atomic.AddInt64(&q.size, -1)
		atomic.AddInt64(&q.memory, -e.msg.Size())
		if q.sem != nil && e.charge > 0 {
			q.sem.Release(e.charge)
		}
	}
	q.mu.Unlock()
	q.nonemp.Broadcast()
}

// Size returns the item count.
func (q *BoundedQueue) Size() int64 {
	return atomic.LoadInt64(&q.size)
}

// Memory returns the approximate queued byte size.
func (q *BoundedQueue) Memory() int64 {
	return atomic.LoadInt64(&q.memory)
}

// chargeFor clamps a message's footprint to the budget so one oversized
// message cannot deadlock the semaphore.
func (q *BoundedQueue) chargeFor(msg *common.Message) int64 {
	c := msg.Size()
	if q.budget > 0 && c > q.budget {
		c = q.budget
	}
	return c
}
