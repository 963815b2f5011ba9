package v8worker

import (
	"fmt"
	"sync/atomic"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/transport"
)

// BucketOpsMessages drains the per-vb checkpoint cells into encoded
// feedback frames of "<vb>::<seqno>". Each drained cell resets by CAS so
// a delivery racing the drain is not lost.
func (w *Worker) BucketOpsMessages() [][]byte {
	var frames [][]byte
	for vb := range w.vbSeq {
		seq := atomic.LoadInt64(&w.vbSeq[vb])
		if seq <= 0 {
			continue
		}
		frames = append(frames, transport.EncodeResponse(
			common.RespBucketOps, common.RespOpCheckpoint,
			fmt.Sprintf("%d::%d", vb, seq)))
		atomic.CompareAndSwapInt64(&w.vbSeq[vb], seq, 0)
	}
	return frames
}
