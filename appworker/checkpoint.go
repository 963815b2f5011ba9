package appworker

import (
	"bufio"
	"os"
	"time"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/logging"
)

// writeResponses is the checkpoint writer: every checkpoint interval it
// drains each worker's bucket-ops cells onto the feedback stream, at
// most feedbackBatchSize frames per write call, rounded up to an even
// count. Each frame carries its own length prefix.
func (a *AppWorker) writeResponses() {
	defer a.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("%v writeResponses() crashed: %v", a.logPrefix, r)
			logging.StackTrace()
		}
	}()

	// Warm-up before the first flush; checkpoints cannot precede the
	// first dispatched event anyway.
	time.Sleep(time.Second)

	batchSize := a.cfg.FeedbackBatchSize
	if batchSize%2 == 1 {
		batchSize++
	}
	if batchSize <= 0 {
		batchSize = 2
	}

	for {
		a.drainCheckpoints(batchSize)
		select {
		case <-time.After(time.Duration(a.checkpointInterval.Load())):
		case <-a.finch:
			a.drainCheckpoints(batchSize)
			return
		}
	}
}

func (a *AppWorker) drainCheckpoints(batchSize int) {
	for _, w := range a.workerSlots() {
		frames := w.BucketOpsMessages()
		for start := 0; start < len(frames); start += batchSize {
			end := start + batchSize
			if end > len(frames) {
				end = len(frames)
			}
			var batch []byte
			for _, f := range frames[start:end] {
				batch = append(batch, f...)
			}
			a.flushToConn(a.feedbackConn, batch)
		}
	}
}

// startTimerScanner kicks every worker's timer scan on a fixed period
// through the priority lane.
func (a *AppWorker) startTimerScanner() {
	if !a.usingTimer {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		select {
		case <-time.After(timerScanWarmup):
		case <-a.finch:
			return
		}
		tick := time.NewTicker(timerScanPeriod)
		defer tick.Stop()

		for {
			select {
			case <-tick.C:
				for _, w := range a.workerSlots() {
					w.PushFront(&common.Message{
						Header: common.Header{
							Event:  common.EventInternal,
							Opcode: int8(common.InternalOpScanTimer),
						},
					})
				}
			case <-a.finch:
				return
			}
		}
	}()
}

// StartStdinWatcher ends the process when the controller closes our
// stdin, the conventional shutdown signal for a spawned side-car. The
// entrypoint wires it; tests do not.
func (a *AppWorker) StartStdinWatcher() {
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
		}
		logging.Infof("%v stdin closed, shutting down", a.logPrefix)
		a.Stop()
	}()
}
