// Copyright (c) 2017 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an "AS IS"
// BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package v8worker runs one engine isolate per worker thread: pop from
// the owned queue, filter, dispatch into user callbacks, account.
package v8worker

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/gen/flatbuf/payload"
	"github.com/couchbase/eventing-consumer/logging"
	"github.com/couchbase/eventing-consumer/queue"
	"github.com/couchbase/eventing-consumer/stats"
	"github.com/couchbase/eventing-consumer/timer"
	"github.com/couchbase/eventing-consumer/transport"
	"github.com/couchbase/eventing-consumer/vm"
)

// watchdog poll period for the execution timeout.
const terminatorPoll = 50 * time.Millisecond

// Worker owns one engine and one queue. The engine is touched only from
// the worker's own goroutine; the structures shared with the
// controller-reader thread are the filter map, under filterMu, and the
// atomic checkpoint cells.
type Worker struct {
	ID      int
	Queue   *queue.BoundedQueue
	engine  vm.Engine
	metrics *stats.Metrics
	timers  *timer.Store

	filterMu       sync.Mutex
	vbFilter       map[uint16]uint64 // pending filter seqno, presence = active
	processedSeqNo map[uint16]uint64 // last processed per vb

	// per-vb checkpoint cells, drained by the checkpoint writer
	vbSeq [common.NumVbuckets]int64

	// set before each invocation so timer creation can stamp its origin
	currentVb  uint16
	currentSeq uint64

	executeFlag      int32
	executeStartNano int64
	maxTaskDuration  time.Duration

	timerContextSize int64

	// MsgProcessed drives the response aggregator's batch boundary.
	MsgProcessed int64

	debuggerPort string
	onDebugURL   func(url string)

	finch     chan bool
	closeOnce sync.Once
	done      sync.WaitGroup
	logPrefix string
}

// Config carries what a worker slot needs beyond its engine.
type Config struct {
	ID               int
	QueueByteBudget  int64
	ExecutionTimeout time.Duration
	TimerContextSize int64
	DebuggerPort     string
	OnDebugURL       func(url string)
}

// NewWorker starts the dispatch loop and the execution watchdog. The
// timer store may be nil when the handler does not use timers.
func NewWorker(cfg Config, engine vm.Engine, timers *timer.Store,
	metrics *stats.Metrics) *Worker {

	w := &Worker{
		ID:               cfg.ID,
		Queue:            queue.NewBoundedQueue(cfg.QueueByteBudget),
		engine:           engine,
		metrics:          metrics,
		timers:           timers,
		vbFilter:         make(map[uint16]uint64),
		processedSeqNo:   make(map[uint16]uint64),
		maxTaskDuration:  cfg.ExecutionTimeout,
		timerContextSize: cfg.TimerContextSize,
		debuggerPort:     cfg.DebuggerPort,
		onDebugURL:       cfg.OnDebugURL,
		finch:            make(chan bool),
		logPrefix:        fmt.Sprintf("[worker:%d]", cfg.ID),
	}

	w.done.Add(2)
	go w.routeMessage()
	go w.terminator()
	logging.Infof("%v started", w.logPrefix)
	return w
}

// PushBack enqueues a data message.
func (w *Worker) PushBack(msg *common.Message) bool {
	return w.Queue.PushBack(msg)
}

// PushFront enqueues an internal control message ahead of data.
func (w *Worker) PushFront(msg *common.Message) bool {
	return w.Queue.PushFront(msg)
}

// Close stops the dispatch loop, the watchdog and the engine.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.finch)
		w.Queue.Close()
		w.done.Wait()
		w.engine.Close()
		logging.Infof("%v ... stopped", w.logPrefix)
	})
}

// routeMessage is the hot loop: pop, dispatch.
func (w *Worker) routeMessage() {
	defer w.done.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("%v routeMessage() crashed: %v", w.logPrefix, r)
			logging.StackTrace()
		}
	}()

	for {
		msg, ok := w.Queue.Pop()
		if !ok {
			return
		}
		w.dispatch(msg)
		atomic.AddInt64(&w.MsgProcessed, 1)
		stats.Add(&w.metrics.ProcessedEventsSize, msg.Size())
	}
}

func (w *Worker) dispatch(msg *common.Message) {
	logging.Tracef("%v dispatch %v", w.logPrefix, msg)

	switch msg.Header.Event {
	case common.EventDCP:
		switch common.DCPOpcode(msg.Header.Opcode) {
		case common.DCPOpMutation:
			stats.Incr(&w.metrics.DcpMutationMsgCounter)
			w.handleMutation(msg)
		case common.DCPOpDelete:
			stats.Incr(&w.metrics.DcpDeleteMsgCounter)
			w.handleDelete(msg)
		default:
			stats.Incr(&w.metrics.DcpEventsLost)
		}

	case common.EventV8Worker:
		switch common.V8WorkerOpcode(msg.Header.Opcode) {
		case common.V8OpLoad:
			if err := w.engine.Load(msg.Header.Metadata); err != nil {
				logging.Errorf("%v handler load failed: %v", w.logPrefix, err)
			}
		default:
			stats.Incr(&w.metrics.V8WorkerEventsLost)
		}

	case common.EventFilter:
		switch common.FilterOpcode(msg.Header.Opcode) {
		case common.FilterOpProcessedSeqNo:
			w.handleProcessedSeqNo(msg.Header.Metadata)
		default:
			stats.Incr(&w.metrics.DcpEventsLost)
		}

	case common.EventDebugger:
		switch common.DebuggerOpcode(msg.Header.Opcode) {
		case common.DebuggerOpStart:
			if err := w.engine.StartDebugger(w.debuggerPort, w.onDebugURL); err != nil {
				logging.Errorf("%v debugger start: %v", w.logPrefix, err)
				stats.Incr(&w.metrics.DebuggerEventsLost)
			}
		case common.DebuggerOpStop:
			if err := w.engine.StopDebugger(); err != nil {
				logging.Errorf("%v debugger stop: %v", w.logPrefix, err)
				stats.Incr(&w.metrics.DebuggerEventsLost)
			}
		default:
			stats.Incr(&w.metrics.DebuggerEventsLost)
		}

	case common.EventInternal:
		switch common.InternalOpcode(msg.Header.Opcode) {
		case common.InternalOpScanTimer:
			w.scanTimers()
		case common.InternalOpUpdateVbMap:
			w.handleUpdateVbMap(msg)
		default:
			stats.Incr(&w.metrics.V8WorkerEventsLost)
		}

	default:
		logging.Errorf("%v unknown event %v", w.logPrefix, msg.Header.Event)
		stats.Incr(&w.metrics.V8WorkerEventsLost)
	}
}

func (w *Worker) handleMutation(msg *common.Message) {
	meta, err := parseEventMeta(msg.Header.Metadata)
	if err != nil {
		stats.Incr(&w.metrics.DcpMutationParseFailure)
		return
	}
	if w.filtered(meta.Vb, meta.Seq) {
		stats.Incr(&w.metrics.FilteredDcpMutationCounter)
		return
	}

	value := ""
	if len(msg.Payload) > 0 {
		if !transport.VerifyTable(msg.Payload) {
			stats.Incr(&w.metrics.DcpMutationParseFailure)
			return
		}
		value = string(payload.GetRootAsPayload(msg.Payload, 0).Value())
	}

	w.currentVb, w.currentSeq = meta.Vb, meta.Seq
	start := time.Now()
	res := w.invoke(func() vm.Result {
		return w.engine.OnUpdate(value, msg.Header.Metadata)
	})
	w.metrics.RecordLatency(time.Since(start))

	switch res {
	case vm.Success:
		stats.Incr(&w.metrics.OnUpdateSuccess)
		w.advanceSeqNo(meta.Vb, meta.Seq)
	case vm.Failure, vm.NoHandler:
		stats.Incr(&w.metrics.OnUpdateFailure)
		w.advanceSeqNo(meta.Vb, meta.Seq)
	case vm.Terminated:
		stats.Incr(&w.metrics.TimeoutCount)
	}
}

func (w *Worker) handleDelete(msg *common.Message) {
	meta, err := parseEventMeta(msg.Header.Metadata)
	if err != nil {
		stats.Incr(&w.metrics.DcpDeleteParseFailure)
		return
	}
	if w.filtered(meta.Vb, meta.Seq) {
		stats.Incr(&w.metrics.FilteredDcpDeleteCounter)
		return
	}

	w.currentVb, w.currentSeq = meta.Vb, meta.Seq
	start := time.Now()
	res := w.invoke(func() vm.Result {
		return w.engine.OnDelete(msg.Header.Metadata)
	})
	w.metrics.RecordLatency(time.Since(start))

	switch res {
	case vm.Success:
		stats.Incr(&w.metrics.OnDeleteSuccess)
		w.advanceSeqNo(meta.Vb, meta.Seq)
	case vm.Failure, vm.NoHandler:
		stats.Incr(&w.metrics.OnDeleteFailure)
		w.advanceSeqNo(meta.Vb, meta.Seq)
	case vm.Terminated:
		stats.Incr(&w.metrics.TimeoutCount)
	}
}

// invoke runs one engine call under the watchdog's eye.
func (w *Worker) invoke(call func() vm.Result) vm.Result {
	atomic.StoreInt64(&w.executeStartNano, time.Now().UnixNano())
	atomic.StoreInt32(&w.executeFlag, 1)
	res := call()
	atomic.StoreInt32(&w.executeFlag, 0)
	return res
}

// terminator watches the wall clock of the running invocation and
// terminates the engine when it exceeds the execution timeout.
func (w *Worker) terminator() {
	defer w.done.Done()
	if w.maxTaskDuration <= 0 {
		return
	}
	tick := time.NewTicker(terminatorPoll)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if atomic.LoadInt32(&w.executeFlag) == 1 {
				start := atomic.LoadInt64(&w.executeStartNano)
				if time.Since(time.Unix(0, start)) > w.maxTaskDuration {
					logging.Warnf("%v invocation exceeded %v, terminating",
						w.logPrefix, w.maxTaskDuration)
					w.engine.TerminateExecution()
				}
			}
		case <-w.finch:
			return
		}
	}
}

func (w *Worker) handleUpdateVbMap(msg *common.Message) {
	if w.timers == nil {
		return
	}
	parts := make(map[int64]bool)
	if len(msg.Payload) > 0 && transport.VerifyTable(msg.Payload) {
		p := payload.GetRootAsPayload(msg.Payload, 0)
		for i := 0; i < p.VbMapLength(); i++ {
			parts[p.VbMap(i)] = true
		}
	}
	w.timers.UpdatePartitions(parts)
	w.timers.SyncSpan()
}

// scanTimers runs one iterator pass, synthesizing a dispatch for every
// due event.
func (w *Worker) scanTimers() {
	if w.timers == nil {
		return
	}
	it := w.timers.GetIterator()
	for {
		ev, ok := it.Next()
		if !ok {
			return
		}
		stats.Incr(&w.metrics.TimerMsgCounter)

		res := w.invoke(func() vm.Result {
			return w.engine.FireTimer(ev.Callback, ev.Context)
		})
		switch res {
		case vm.NoHandler:
			stats.Incr(&w.metrics.TimerCallbackMissingCounter)
		case vm.Terminated:
			stats.Incr(&w.metrics.TimeoutCount)
		}
		it.AckFired(ev)
	}
}

// CreateTimer is handed to the engine bindings; user script lands here.
func (w *Worker) CreateTimer(callback string, epoch int64, ref, context string) error {
	if w.timers == nil {
		return fmt.Errorf("handler is not using timers")
	}
	if max := atomic.LoadInt64(&w.timerContextSize); max > 0 && int64(len(context)) > max {
		stats.Incr(&w.metrics.TimerContextSizeExceededCounter)
		return fmt.Errorf("timer context exceeds configured size %v", max)
	}

	ev := &timer.Event{
		AlarmTime: epoch,
		Reference: ref,
		Callback:  callback,
		Context:   context,
		Partition: int64(w.currentVb),
		Vb:        w.currentVb,
		SeqNo:     w.currentSeq,
	}
	if err := w.timers.SetTimer(ev); err != nil {
		logging.Errorf("%v create timer %q: %v", w.logPrefix, ref, err)
		return err
	}
	return nil
}

// SetTimerContextSize applies the live settings opcode.
func (w *Worker) SetTimerContextSize(n int64) {
	atomic.StoreInt64(&w.timerContextSize, n)
}

func parseEventMeta(metadata string) (*common.EventMeta, error) {
	meta := &common.EventMeta{}
	if err := json.Unmarshal([]byte(metadata), meta); err != nil {
		return nil, err
	}
	return meta, nil
}
