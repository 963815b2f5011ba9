package v8worker

import (
	"encoding/json"
	"sync/atomic"

	"github.com/couchbase/eventing-consumer/logging"
)

// Mutation filter. During normal operation an event is delivered only
// when its seqno is ahead of the last processed one. During a rebalance
// handoff the controller installs a pending filter seqno; everything at
// or below it is suppressed, and seeing the boundary itself retires the
// filter.

// filtered reports whether the event at (vb, seq) must be suppressed,
// either as a duplicate or by an active handoff filter.
func (w *Worker) filtered(vb uint16, seq uint64) bool {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()

	if f, active := w.vbFilter[vb]; active && seq <= f {
		if seq == f {
			delete(w.vbFilter, vb)
		}
		return true
	}
	if seq <= w.processedSeqNo[vb] {
		return true // duplicate redelivery
	}
	return false
}

// HandleVbFilter runs the handoff protocol step on the controller-reader
// thread: read L, install the filter only if it is ahead of L, report L
// for the acknowledgement.
func (w *Worker) HandleVbFilter(vb uint16, filterSeqNo uint64) (lastProcessed uint64) {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()

	lastProcessed = w.processedSeqNo[vb]
	if lastProcessed < filterSeqNo {
		w.vbFilter[vb] = filterSeqNo
		logging.Infof("%v installed filter vb:%v seq:%v last:%v",
			w.logPrefix, vb, filterSeqNo, lastProcessed)
	}
	// The handed-off vbucket stops checkpointing from this worker.
	atomic.StoreInt64(&w.vbSeq[int(vb)%len(w.vbSeq)], 0)
	return lastProcessed
}

// handleProcessedSeqNo advances filter state without touching user code.
func (w *Worker) handleProcessedSeqNo(metadata string) {
	var meta struct {
		Vb  uint16 `json:"vb"`
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		logging.Errorf("%v bad processed-seqno metadata: %v", w.logPrefix, err)
		return
	}
	w.filterMu.Lock()
	if meta.Seq > w.processedSeqNo[meta.Vb] {
		w.processedSeqNo[meta.Vb] = meta.Seq
	}
	w.filterMu.Unlock()
}

// advanceSeqNo records a completed delivery for checkpointing and
// duplicate suppression.
func (w *Worker) advanceSeqNo(vb uint16, seq uint64) {
	w.filterMu.Lock()
	if seq > w.processedSeqNo[vb] {
		w.processedSeqNo[vb] = seq
	}
	w.filterMu.Unlock()
	atomic.StoreInt64(&w.vbSeq[int(vb)%len(w.vbSeq)], int64(seq))
}

// LastProcessedSeqNo reports the filter's view for one vbucket.
func (w *Worker) LastProcessedSeqNo(vb uint16) uint64 {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()
	return w.processedSeqNo[vb]
}
