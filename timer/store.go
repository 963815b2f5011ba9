// Copyright (c) 2019 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an "AS IS"
// BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package timer keeps the per-partition spans of scheduled callbacks and
// persists them in the metadata bucket under the
// ${prefix}::${partition}::... key scheme.
package timer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/golang/snappy"

	"github.com/couchbase/eventing-consumer/logging"
	"github.com/couchbase/eventing-consumer/stats"
)

// spans wider than this hint a stuck drain; logged once per sync.
const wideSpanWarn = int64(24 * 60 * 60)

// contexts above this size are stored snappy-compressed.
const compressThreshold = 1024

// casRetries bounds ExpandSpan's CAS loop.
const casRetries = 4

type spanRecord struct {
	span  Span
	cas   uint64
	dirty bool
}

// Store is one worker thread's timer state. Only that thread mutates
// it; stat readers get snapshots through SpanSnapshot.
type Store struct {
	kv         kvStore
	prefix     string
	spans      map[int64]*spanRecord
	partitions map[int64]bool
	logPrefix  string
	metrics    *stats.Metrics
	now        func() int64
}

// NewStore builds a store over the metadata bucket. partitions is the
// initial owned set.
func NewStore(bucket *gocb.Bucket, prefix string, partitions []int64,
	metrics *stats.Metrics, workerID int) *Store {

	return newStore(newGocbStore(bucket, metrics), prefix, partitions, metrics, workerID)
}

func newStore(kv kvStore, prefix string, partitions []int64,
	metrics *stats.Metrics, workerID int) *Store {

	s := &Store{
		kv:         kv,
		prefix:     prefix,
		spans:      make(map[int64]*spanRecord),
		partitions: make(map[int64]bool),
		logPrefix:  fmt.Sprintf("[timerstore:%d]", workerID),
		metrics:    metrics,
		now:        func() int64 { return time.Now().Unix() },
	}
	for _, p := range partitions {
		s.partitions[p] = true
		s.spans[p] = &spanRecord{dirty: true}
	}
	return s
}

// SetTimer persists ev and widens the partition span if needed. A
// duplicate {partition, alarm, ref} is reported, not fatal.
func (s *Store) SetTimer(ev *Event) error {
	if !s.partitions[ev.Partition] {
		return fmt.Errorf("partition %v not owned", ev.Partition)
	}
	if len(ev.Context) > compressThreshold {
		ev.Context = base64.StdEncoding.EncodeToString(
			snappy.Encode(nil, []byte(ev.Context)))
		ev.Compressed = true
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := eventKey(s.prefix, ev.Partition, ev.AlarmTime, ev.Reference)
	if _, err := s.kv.Insert(key, data); err != nil {
		if err == ErrorKeyExists {
			logging.Warnf("%v timer %q already exists, keeping first", s.logPrefix, key)
		} else {
			stats.Incr(&s.metrics.TimerCreateFailure)
			return err
		}
	}
	if err := s.addToIndex(ev.Partition, ev.AlarmTime, ev.Reference); err != nil {
		stats.Incr(&s.metrics.TimerCreateFailure)
		return err
	}

	rec := s.record(ev.Partition)
	rec.dirty = true
	if rec.span.Stop == 0 || ev.AlarmTime > rec.span.Stop ||
		ev.AlarmTime < rec.span.Start {
		s.expandSpan(ev.Partition, ev.AlarmTime)
	}
	stats.Incr(&s.metrics.TimerCreateCounter)
	return nil
}

// DeleteTimer removes a fired or cancelled event and prunes its second's
// index entry.
func (s *Store) DeleteTimer(ev *Event) error {
	key := eventKey(s.prefix, ev.Partition, ev.AlarmTime, ev.Reference)
	if err := s.kv.Delete(key, 0); err != nil && err != ErrorKeyMissing {
		return err
	}
	return s.pruneIndex(ev.Partition, ev.AlarmTime, ev.Reference)
}

// SyncSpan refreshes every dirty partition's in-memory span from its
// durable document. Called on configuration changes and periodically.
func (s *Store) SyncSpan() {
	for p, rec := range s.spans {
		if !rec.dirty {
			continue
		}
		span, cas, err := s.readSpan(p)
		if err != nil {
			if err != ErrorKeyMissing {
				logging.Errorf("%v sync span for %v: %v", s.logPrefix, p, err)
			}
			continue
		}
		// Merge by envelope: an incoming durable span may overlap the
		// in-memory one after a partition handoff; widening keeps every
		// persisted alarm inside the span.
		if rec.span.Stop != 0 {
			if rec.span.Start < span.Start {
				span.Start = rec.span.Start
			}
			if rec.span.Stop > span.Stop {
				span.Stop = rec.span.Stop
			}
		}
		if span.Stop-span.Start > wideSpanWarn {
			logging.Warnf("%v partition %v span unusually wide: %+v", s.logPrefix, p, span)
		}
		rec.span, rec.cas, rec.dirty = span, cas, false
	}
}

// UpdatePartitions installs a new owned set. Leaving partitions drop
// their in-memory record (the durable span stays for the next owner);
// entering partitions come up dirty for the next SyncSpan.
func (s *Store) UpdatePartitions(partitions map[int64]bool) {
	for p := range s.partitions {
		if !partitions[p] {
			delete(s.partitions, p)
			delete(s.spans, p)
		}
	}
	for p := range partitions {
		if !s.partitions[p] {
			s.partitions[p] = true
			s.spans[p] = &spanRecord{dirty: true}
		}
	}
	logging.Infof("%v now owning %v partitions", s.logPrefix, len(s.partitions))
}

// Partitions returns the owned set, ascending.
func (s *Store) Partitions() []int64 {
	out := make([]int64, 0, len(s.partitions))
	for p := range s.partitions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SpanSnapshot reports a partition's current span for stats.
func (s *Store) SpanSnapshot(partition int64) (Span, bool) {
	rec, ok := s.spans[partition]
	if !ok {
		return Span{}, false
	}
	return rec.span, true
}

func (s *Store) record(partition int64) *spanRecord {
	rec, ok := s.spans[partition]
	if !ok {
		rec = &spanRecord{dirty: true}
		s.spans[partition] = rec
	}
	return rec
}

// readSpan fetches the durable span document, deriving a fresh one from
// the partition root counter when none exists yet.
func (s *Store) readSpan(partition int64) (Span, uint64, error) {
	res, err := s.kv.Get(spanKey(s.prefix, partition))
	if err == ErrorKeyMissing {
		epoch, cerr := s.kv.Counter(rootKey(s.prefix, partition), uint64(s.now()))
		if cerr != nil {
			return Span{}, 0, cerr
		}
		span := Span{Start: int64(epoch), Stop: int64(epoch)}
		data, _ := json.Marshal(span)
		ins, ierr := s.kv.Insert(spanKey(s.prefix, partition), data)
		if ierr == ErrorKeyExists {
			return s.readSpan(partition)
		} else if ierr != nil {
			return Span{}, 0, ierr
		}
		return span, ins.Cas, nil
	} else if err != nil {
		return Span{}, 0, err
	}

	var span Span
	if uerr := json.Unmarshal(res.Value, &span); uerr != nil {
		return Span{}, 0, uerr
	}
	return span, res.Cas, nil
}

// expandSpan widens the durable span to include point, retrying a CAS
// miss a bounded number of times. Repeated failure is logged and
// tolerated; SyncSpan repairs the in-memory view later.
func (s *Store) expandSpan(partition, point int64) {
	for attempt := 0; attempt < casRetries; attempt++ {
		span, cas, err := s.readSpan(partition)
		if err != nil {
			logging.Errorf("%v expand span read %v: %v", s.logPrefix, partition, err)
			return
		}
		if point >= span.Start && point <= span.Stop {
			s.record(partition).span, s.record(partition).cas = span, cas
			return
		}
		if point < span.Start {
			span.Start = point
		}
		if point > span.Stop {
			span.Stop = point
		}
		data, _ := json.Marshal(span)
		res, err := s.kv.Replace(spanKey(s.prefix, partition), data, cas)
		if err == nil {
			rec := s.record(partition)
			rec.span, rec.cas = span, res.Cas
			return
		}
		if err != ErrorCasMismatch {
			logging.Errorf("%v expand span write %v: %v", s.logPrefix, partition, err)
			return
		}
	}
	logging.Errorf("%v expand span %v lost %v CAS races, leaving dirty",
		s.logPrefix, partition, casRetries)
	s.record(partition).dirty = true
}

// shrinkSpan advances the durable start past a fully drained second.
// Best effort - a miss leaves the span wider than needed, never narrower.
func (s *Store) shrinkSpan(partition, newStart int64) {
	rec := s.record(partition)
	if newStart <= rec.span.Start {
		return
	}
	span := Span{Start: newStart, Stop: rec.span.Stop}
	if span.Stop < span.Start {
		span.Stop = span.Start
	}
	data, _ := json.Marshal(span)
	res, err := s.kv.Replace(spanKey(s.prefix, partition), data, rec.cas)
	if err != nil {
		logging.Debugf("%v shrink span %v: %v", s.logPrefix, partition, err)
		rec.dirty = true
		return
	}
	rec.span, rec.cas = span, res.Cas
}

// addToIndex registers ref in the per-second index document.
func (s *Store) addToIndex(partition, alarm int64, ref string) error {
	key := indexKey(s.prefix, partition, alarm)
	for attempt := 0; attempt < casRetries; attempt++ {
		res, err := s.kv.Get(key)
		if err == ErrorKeyMissing {
			data, _ := json.Marshal(index{Refs: []string{ref}})
			if _, ierr := s.kv.Insert(key, data); ierr == ErrorKeyExists {
				continue
			} else {
				return ierr
			}
		} else if err != nil {
			return err
		}

		var idx index
		if uerr := json.Unmarshal(res.Value, &idx); uerr != nil {
			return uerr
		}
		for _, r := range idx.Refs {
			if r == ref {
				return nil
			}
		}
		idx.Refs = append(idx.Refs, ref)
		sort.Strings(idx.Refs)
		data, _ := json.Marshal(idx)
		if _, rerr := s.kv.Replace(key, data, res.Cas); rerr == ErrorCasMismatch {
			continue
		} else {
			return rerr
		}
	}
	return fmt.Errorf("index %q: too many CAS races", key)
}

// pruneIndex drops ref from its second's index, deleting the document
// once empty.
func (s *Store) pruneIndex(partition, alarm int64, ref string) error {
	key := indexKey(s.prefix, partition, alarm)
	for attempt := 0; attempt < casRetries; attempt++ {
		res, err := s.kv.Get(key)
		if err == ErrorKeyMissing {
			return nil
		} else if err != nil {
			return err
		}

		var idx index
		if uerr := json.Unmarshal(res.Value, &idx); uerr != nil {
			return uerr
		}
		kept := idx.Refs[:0]
		for _, r := range idx.Refs {
			if r != ref {
				kept = append(kept, r)
			}
		}
		idx.Refs = kept

		if len(idx.Refs) == 0 {
			if derr := s.kv.Delete(key, res.Cas); derr == ErrorCasMismatch {
				continue
			} else if derr == ErrorKeyMissing {
				return nil
			} else {
				return derr
			}
		}
		data, _ := json.Marshal(idx)
		if _, rerr := s.kv.Replace(key, data, res.Cas); rerr == ErrorCasMismatch {
			continue
		} else {
			return rerr
		}
	}
	return fmt.Errorf("index %q: too many CAS races", key)
}

// loadEvent fetches one event document, decompressing its context.
func (s *Store) loadEvent(partition, alarm int64, ref string) (*Event, error) {
	res, err := s.kv.Get(eventKey(s.prefix, partition, alarm, ref))
	if err != nil {
		return nil, err
	}
	ev := &Event{}
	if uerr := json.Unmarshal(res.Value, ev); uerr != nil {
		return nil, uerr
	}
	if ev.Compressed {
		raw, derr := base64.StdEncoding.DecodeString(ev.Context)
		if derr != nil {
			return nil, derr
		}
		ctx, serr := snappy.Decode(nil, raw)
		if serr != nil {
			return nil, serr
		}
		ev.Context, ev.Compressed = string(ctx), false
	}
	return ev, nil
}
