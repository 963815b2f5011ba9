package timer

import (
	"encoding/json"
	"sort"

	"github.com/couchbase/eventing-consumer/logging"
)

// Iterator walks every due event across the owned partitions in
// ascending (time, ref) order, second by second. Once every event at a
// second has been handed out and acknowledged fired, the partition's
// span start advances past it. Not restartable - request a fresh
// iterator per scan pass.
type Iterator struct {
	store *Store
	now   int64

	t    int64 // second under scan
	stop int64

	parts   []int64
	pending []*Event // events at second t, (ref, partition) ascending
	idx     int

	// collected-but-unacked per partition for the second under scan;
	// the span shrinks only when the count drains.
	outstanding map[int64]int
}

// GetIterator snapshots "due now" and returns a fresh pass over it.
// Spans are synced first so a partition acquired since the last pass is
// read from its durable record.
func (s *Store) GetIterator() *Iterator {
	s.SyncSpan()

	it := &Iterator{
		store:       s,
		now:         s.now(),
		parts:       s.Partitions(),
		outstanding: make(map[int64]int),
	}
	it.t = it.now + 1
	it.stop = it.now
	for _, p := range it.parts {
		if rec, ok := s.spans[p]; ok && rec.span.Stop != 0 && rec.span.Start < it.t {
			it.t = rec.span.Start
		}
	}
	return it
}

// Next returns the next due event, or false when the pass is exhausted.
func (it *Iterator) Next() (*Event, bool) {
	for {
		if it.idx < len(it.pending) {
			ev := it.pending[it.idx]
			it.idx++
			return ev, true
		}
		if it.t > it.stop {
			return nil, false
		}
		it.collect(it.t)
		it.t++
	}
}

// AckFired marks one handed-out event as delivered. The event document
// is deleted and, once the second drains for that partition, the span
// start moves past it.
func (it *Iterator) AckFired(ev *Event) {
	if err := it.store.DeleteTimer(ev); err != nil {
		logging.Errorf("%v delete fired timer %v::%v::%v: %v",
			it.store.logPrefix, ev.Partition, ev.AlarmTime, ev.Reference, err)
	}
	if n := it.outstanding[ev.Partition]; n > 0 {
		it.outstanding[ev.Partition] = n - 1
	}
	// Shrink only after the scan has moved past this event's second and
	// nothing at or before it is still in flight for the partition.
	if it.outstanding[ev.Partition] == 0 && ev.AlarmTime < it.t {
		it.store.shrinkSpan(ev.Partition, ev.AlarmTime+1)
	}
}

// collect gathers every event due at second t across partitions whose
// span covers t.
func (it *Iterator) collect(t int64) {
	it.pending = it.pending[:0]
	it.idx = 0

	for _, p := range it.parts {
		rec, ok := it.store.spans[p]
		if !ok || rec.span.Stop == 0 || t < rec.span.Start || t > rec.span.Stop {
			continue
		}
		res, err := it.store.kv.Get(indexKey(it.store.prefix, p, t))
		if err == ErrorKeyMissing {
			// No timers landed on this second; advance the span past it
			// when nothing earlier is outstanding.
			if it.outstanding[p] == 0 {
				it.store.shrinkSpan(p, t+1)
			}
			continue
		} else if err != nil {
			logging.Errorf("%v index read %v@%v: %v", it.store.logPrefix, p, t, err)
			continue
		}

		refs, err := decodeIndex(res.Value)
		if err != nil {
			logging.Errorf("%v index decode %v@%v: %v", it.store.logPrefix, p, t, err)
			continue
		}
		for _, ref := range refs {
			ev, lerr := it.store.loadEvent(p, t, ref)
			if lerr == ErrorKeyMissing {
				continue
			} else if lerr != nil {
				logging.Errorf("%v event load %v@%v %q: %v", it.store.logPrefix, p, t, ref, lerr)
				continue
			}
			it.pending = append(it.pending, ev)
			it.outstanding[p]++
		}
	}

	sort.Slice(it.pending, func(i, j int) bool {
		a, b := it.pending[i], it.pending[j]
		if a.Reference != b.Reference {
			return a.Reference < b.Reference
		}
		return a.Partition < b.Partition
	})
}

func decodeIndex(data []byte) ([]string, error) {
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	return idx.Refs, nil
}
