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

// Package appworker is the process core: it owns the two controller
// streams, routes inbound events onto the worker threads, aggregates
// responses on batch boundaries and checkpoints processed seqnos on the
// feedback stream.
//
// concurrency model:
//
//	controller ---> main stream ---> readLoop ---> RouteMessage ---*
//	                                                               |
//	           worker queues  <---- router / settings / filter ----*
//	                 |
//	             v8worker threads (one engine each)
//	                 |
//	controller <--- feedback stream <--- writeResponses (checkpoints)
//	controller <--- main stream <--- maybeFlush (acks, stats)
package appworker

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbase/eventing-consumer/comm"
	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/logging"
	"github.com/couchbase/eventing-consumer/stats"
	"github.com/couchbase/eventing-consumer/transport"
	"github.com/couchbase/eventing-consumer/v8worker"
	"github.com/couchbase/eventing-consumer/vm"
)

const (
	readBufferSize    = 64 * 1024
	writeRetryBase    = 10 * time.Millisecond
	writeRetryCap     = 2 * time.Second
	timerScanPeriod   = 7 * time.Second
	timerScanWarmup   = 2 * time.Second
	queueByteBudget   = 64 * 1024 * 1024
	defaultThrCount   = 1
	defaultCheckpoint = time.Second
)

type respMsg struct {
	msgType common.RespMsgType
	opcode  common.RespOpcode
	msg     string
}

// Config is the positional-argument surface of the process.
type Config struct {
	AppName           string
	WorkerID          string
	BatchSize         int
	FeedbackBatchSize int
	DiagDir           string
	FunctionID        string
	UserPrefix        string
}

// AppWorker hosts the worker slots and the two stream reactors. The
// main reactor goroutine owns all routing state; worker slots own their
// engines; the only cross-thread structures are the queues, the filter
// maps and the atomic counters.
type AppWorker struct {
	cfg     Config
	metrics *stats.Metrics

	mainConn     net.Conn
	feedbackConn net.Conn

	// routing state, main reactor goroutine only
	thrCount        int
	partitionThrMap map[int16]int

	// worker slots: written once at Init, read by the reactors, the
	// checkpoint writer and the timer scanner
	workersMu sync.RWMutex
	workers   map[int]*v8worker.Worker

	pendingResp    *respMsg
	msgPriority    bool
	lastFlushCount int64

	handlerConfig  *common.HandlerConfig
	serverSettings *common.ServerSettings
	depCfg         *common.DeploymentConfig
	usingTimer     bool
	compileEngine  vm.Engine
	supervisor     *comm.Client
	dumper         *stats.Dumper

	checkpointInterval atomic.Int64 // nanoseconds

	thrExit int32
	finch   chan bool
	stopped chan bool
	wg      sync.WaitGroup

	logPrefix string
}

// NewAppWorker wires a worker over two already-dialed streams. Dial and
// DialUDS produce them for the real process; tests hand in pipes.
func NewAppWorker(cfg Config, mainConn, feedbackConn net.Conn) *AppWorker {
	a := &AppWorker{
		cfg:             cfg,
		metrics:         stats.NewMetrics(),
		mainConn:        mainConn,
		feedbackConn:    feedbackConn,
		thrCount:        defaultThrCount,
		workers:         make(map[int]*v8worker.Worker),
		partitionThrMap: make(map[int16]int),
		finch:           make(chan bool),
		stopped:         make(chan bool),
		logPrefix:       fmt.Sprintf("[appworker:%s:%s]", cfg.AppName, cfg.WorkerID),
	}
	a.checkpointInterval.Store(int64(defaultCheckpoint))
	return a
}

// Dial connects both TCP loopback streams.
func Dial(addr string, port, feedbackPort int) (mainConn, feedbackConn net.Conn, err error) {
	feedbackConn, err = net.Dial("tcp", fmt.Sprintf("%s:%d", addr, feedbackPort))
	if err != nil {
		return nil, nil, fmt.Errorf("dialing feedback %v: %v", feedbackPort, err)
	}
	mainConn, err = net.Dial("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		feedbackConn.Close()
		return nil, nil, fmt.Errorf("dialing main %v: %v", port, err)
	}
	return mainConn, feedbackConn, nil
}

// DialUDS connects both unix domain socket streams.
func DialUDS(udsPath, feedbackPath string) (mainConn, feedbackConn net.Conn, err error) {
	feedbackConn, err = net.Dial("unix", feedbackPath)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing feedback %q: %v", feedbackPath, err)
	}
	mainConn, err = net.Dial("unix", udsPath)
	if err != nil {
		feedbackConn.Close()
		return nil, nil, fmt.Errorf("dialing main %q: %v", udsPath, err)
	}
	return mainConn, feedbackConn, nil
}

// Start spawns both reactors and the checkpoint writer.
func (a *AppWorker) Start() {
	a.wg.Add(3)
	go a.mainLoop()
	go a.feedbackLoop()
	go a.writeResponses()
	logging.Infof("%v started, batch size:%v feedback batch size:%v",
		a.logPrefix, a.cfg.BatchSize, a.cfg.FeedbackBatchSize)
}

// Stop tears the process core down: reactors unblock on closed
// connections, worker queues close and discard what is still queued.
func (a *AppWorker) Stop() {
	if !atomic.CompareAndSwapInt32(&a.thrExit, 0, 1) {
		return
	}
	logging.Infof("%v stopping", a.logPrefix)
	close(a.finch)
	a.mainConn.Close()
	a.feedbackConn.Close()
	a.wg.Wait()
	for _, w := range a.workerSlots() {
		w.Close()
	}
	if a.compileEngine != nil {
		a.compileEngine.Close()
	}
	if a.dumper != nil {
		a.dumper.Close()
	}
	logging.Infof("%v ... stopped", a.logPrefix)
	close(a.stopped)
}

// Wait blocks until Stop completes.
func (a *AppWorker) Wait() {
	<-a.stopped
}

func (a *AppWorker) exiting() bool {
	return atomic.LoadInt32(&a.thrExit) == 1
}

// mainLoop reads the command stream, re-assembles frames, routes them
// and flushes responses on batch boundaries.
func (a *AppWorker) mainLoop() {
	defer a.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("%v mainLoop() crashed: %v", a.logPrefix, r)
			logging.StackTrace()
		}
	}()

	dec := &transport.Decoder{}
	buf := make([]byte, readBufferSize)
	var lastCorrupt int64
	for {
		n, err := a.mainConn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n], a.RouteMessage)
			if delta := int64(dec.CorruptFrames) - lastCorrupt; delta > 0 {
				stats.Add(&a.metrics.CorruptFrameCounter, delta)
				lastCorrupt = int64(dec.CorruptFrames)
			}
			a.maybeFlush()
		}
		if err != nil {
			if !a.exiting() {
				logging.Errorf("%v main stream read: %v", a.logPrefix, err)
			}
			return
		}
	}
}

// feedbackLoop reads the feedback stream; the controller rarely sends
// anything here, so inbound frames are just drained.
func (a *AppWorker) feedbackLoop() {
	defer a.wg.Done()

	dec := &transport.Decoder{}
	buf := make([]byte, readBufferSize)
	for {
		n, err := a.feedbackConn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n], func(msg *common.Message) {
				logging.Tracef("%v feedback inbound %v", a.logPrefix, msg)
			})
		}
		if err != nil {
			if !a.exiting() {
				logging.Errorf("%v feedback stream read: %v", a.logPrefix, err)
			}
			return
		}
	}
}

// flushToConn writes data fully, retrying transient failures with
// bounded backoff. A hard failure is counted, not fatal.
func (a *AppWorker) flushToConn(conn net.Conn, data []byte) {
	written := 0
	for attempt := 0; written < len(data); attempt++ {
		n, err := conn.Write(data[written:])
		written += n
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() && !a.exiting() {
			stats.Incr(&a.metrics.TryWriteFailureCounter)
			backoff := writeRetryBase * time.Duration(attempt+1)
			if backoff > writeRetryCap {
				backoff = writeRetryCap
			}
			time.Sleep(backoff)
			continue
		}
		stats.Incr(&a.metrics.TryWriteFailureCounter)
		logging.Errorf("%v write failed after %v bytes: %v", a.logPrefix, written, err)
		return
	}
}

// workerSlots snapshots the worker table.
func (a *AppWorker) workerSlots() []*v8worker.Worker {
	a.workersMu.RLock()
	defer a.workersMu.RUnlock()
	out := make([]*v8worker.Worker, 0, len(a.workers))
	for _, w := range a.workers {
		out = append(out, w)
	}
	return out
}

// worker resolves one slot by id.
func (a *AppWorker) worker(id int) *v8worker.Worker {
	a.workersMu.RLock()
	defer a.workersMu.RUnlock()
	return a.workers[id]
}

func (a *AppWorker) workerCount() int {
	a.workersMu.RLock()
	defer a.workersMu.RUnlock()
	return len(a.workers)
}

// aggQueueStats sums the worker queue gauges.
func (a *AppWorker) aggQueueStats() (size, memory int64) {
	for _, w := range a.workerSlots() {
		size += w.Queue.Size()
		memory += w.Queue.Memory()
	}
	return size, memory
}

// processedCount sums the per-worker processed tallies.
func (a *AppWorker) processedCount() int64 {
	var total int64
	for _, w := range a.workerSlots() {
		total += atomic.LoadInt64(&w.MsgProcessed)
	}
	return total
}
