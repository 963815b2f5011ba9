// Package stats keeps the worker-process counters and renders the stat
// payloads the controller polls for. Counters are plain atomics; the
// invocation latency distribution rides a go-metrics histogram.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/couchbase/eventing-consumer/common"
)

// Metrics groups every process counter. One instance per worker process,
// shared by reference; fields are only touched through atomics.
type Metrics struct {
	OnUpdateSuccess int64
	OnUpdateFailure int64
	OnDeleteSuccess int64
	OnDeleteFailure int64

	TimerCreateCounter int64
	TimerCreateFailure int64
	TimerMsgCounter    int64

	MessagesParsed        int64
	DcpDeleteMsgCounter   int64
	DcpMutationMsgCounter int64

	EnqueuedDcpDeleteMsgCounter   int64
	EnqueuedDcpMutationMsgCounter int64
	EnqueuedTimerMsgCounter       int64

	DcpDeleteParseFailure      int64
	DcpMutationParseFailure    int64
	FilteredDcpDeleteCounter   int64
	FilteredDcpMutationCounter int64

	TryWriteFailureCounter int64
	CorruptFrameCounter    int64
	LcbRetryFailure        int64

	BucketOpExceptionCount int64
	N1qlOpExceptionCount   int64
	TimeoutCount           int64
	CheckpointFailureCount int64

	DcpEventsLost              int64
	V8WorkerEventsLost         int64
	AppWorkerSettingEventsLost int64
	TimerEventsLost            int64
	DebuggerEventsLost         int64
	MutationEventsLost         int64
	DeleteEventsLost           int64

	TimerContextSizeExceededCounter int64
	TimerCallbackMissingCounter     int64

	ProcessedEventsSize int64

	latency gometrics.Histogram

	lcbExceptionsMu sync.Mutex
	lcbExceptions   map[int]int64
}

// NewMetrics returns a zeroed metrics block.
func NewMetrics() *Metrics {
	return &Metrics{
		latency:       gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
		lcbExceptions: make(map[int]int64),
	}
}

// Add bumps an int64 counter field by delta.
func Add(counter *int64, delta int64) {
	atomic.AddInt64(counter, delta)
}

// Incr bumps an int64 counter field by one.
func Incr(counter *int64) {
	atomic.AddInt64(counter, 1)
}

// Load reads a counter field.
func Load(counter *int64) int64 {
	return atomic.LoadInt64(counter)
}

// RecordLatency adds one invocation's wall time to the distribution.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.latency.Update(d.Microseconds())
}

// AddLcbException tallies a KV error by its status code.
func (m *Metrics) AddLcbException(code int) {
	m.lcbExceptionsMu.Lock()
	m.lcbExceptions[code]++
	m.lcbExceptionsMu.Unlock()
}

// LcbExceptionStats renders the per-status tally as JSON.
func (m *Metrics) LcbExceptionStats() string {
	m.lcbExceptionsMu.Lock()
	defer m.lcbExceptionsMu.Unlock()

	st := make(common.Statistics)
	for code, n := range m.lcbExceptions {
		st.Set(fmt.Sprintf("%d", code), n)
	}
	data, _ := st.Encode()
	return string(data)
}

// LatencyStats renders the invocation latency distribution, in
// microseconds, as JSON.
func (m *Metrics) LatencyStats() string {
	ps := m.latency.Percentiles([]float64{0.5, 0.8, 0.9, 0.95, 0.99})
	st := common.Statistics{
		"count":     m.latency.Count(),
		"mean":      m.latency.Mean(),
		"50":        ps[0],
		"80":        ps[1],
		"90":        ps[2],
		"95":        ps[3],
		"99":        ps[4],
		"timestamp": timestampNow(),
	}
	data, _ := st.Encode()
	return string(data)
}

// ExecutionStats renders the execution counters with the stable key
// names the controller scrapes. Queue depth gauges are supplied by the
// caller since the workers own their queues.
func (m *Metrics) ExecutionStats(aggQueueSize, aggQueueMemory int64) string {
	st := common.Statistics{
		"on_update_success":                 Load(&m.OnUpdateSuccess),
		"on_update_failure":                 Load(&m.OnUpdateFailure),
		"on_delete_success":                 Load(&m.OnDeleteSuccess),
		"on_delete_failure":                 Load(&m.OnDeleteFailure),
		"timer_create_failure":              Load(&m.TimerCreateFailure),
		"timer_create_counter":              Load(&m.TimerCreateCounter),
		"timer_msg_counter":                 Load(&m.TimerMsgCounter),
		"messages_parsed":                   Load(&m.MessagesParsed),
		"dcp_delete_msg_counter":            Load(&m.DcpDeleteMsgCounter),
		"dcp_mutation_msg_counter":          Load(&m.DcpMutationMsgCounter),
		"enqueued_dcp_delete_msg_counter":   Load(&m.EnqueuedDcpDeleteMsgCounter),
		"enqueued_dcp_mutation_msg_counter": Load(&m.EnqueuedDcpMutationMsgCounter),
		"enqueued_timer_msg_counter":        Load(&m.EnqueuedTimerMsgCounter),
		"dcp_delete_parse_failure":          Load(&m.DcpDeleteParseFailure),
		"dcp_mutation_parse_failure":        Load(&m.DcpMutationParseFailure),
		"filtered_dcp_delete_counter":       Load(&m.FilteredDcpDeleteCounter),
		"filtered_dcp_mutation_counter":     Load(&m.FilteredDcpMutationCounter),
		"try_write_failure_counter":         Load(&m.TryWriteFailureCounter),
		"lcb_retry_failure":                 Load(&m.LcbRetryFailure),
		"agg_queue_size":                    aggQueueSize,
		"agg_queue_memory":                  aggQueueMemory,
		"feedback_queue_size":               0,
		"processed_events_size":             Load(&m.ProcessedEventsSize),
		"timestamp":                         timestampNow(),
	}
	data, _ := st.Encode()
	return string(data)
}

// FailureStats renders the failure counters.
func (m *Metrics) FailureStats() string {
	st := common.Statistics{
		"bucket_op_exception_count":           Load(&m.BucketOpExceptionCount),
		"n1ql_op_exception_count":             Load(&m.N1qlOpExceptionCount),
		"timeout_count":                       Load(&m.TimeoutCount),
		"checkpoint_failure_count":            Load(&m.CheckpointFailureCount),
		"dcp_events_lost":                     Load(&m.DcpEventsLost),
		"v8worker_events_lost":                Load(&m.V8WorkerEventsLost),
		"app_worker_setting_events_lost":      Load(&m.AppWorkerSettingEventsLost),
		"timer_events_lost":                   Load(&m.TimerEventsLost),
		"debugger_events_lost":                Load(&m.DebuggerEventsLost),
		"mutation_events_lost":                Load(&m.MutationEventsLost),
		"delete_events_lost":                  Load(&m.DeleteEventsLost),
		"timer_context_size_exceeded_counter": Load(&m.TimerContextSizeExceededCounter),
		"timer_callback_missing_counter":      Load(&m.TimerCallbackMissingCounter),
		"corrupt_frame_counter":               Load(&m.CorruptFrameCounter),
		"timestamp":                           timestampNow(),
	}
	data, _ := st.Encode()
	return string(data)
}

func timestampNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}
