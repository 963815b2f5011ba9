package appworker

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/gen/flatbuf/payload"
	"github.com/couchbase/eventing-consumer/transport"
	"github.com/couchbase/eventing-consumer/vm"
)

// recEngine records callback invocations on a shared channel.
type recEngine struct {
	calls chan string
	mu    sync.Mutex
	code  string
}

func (e *recEngine) Load(script string) error { e.mu.Lock(); e.code = script; e.mu.Unlock(); return nil }
func (e *recEngine) InstallBindings(vm.Bindings) {}
func (e *recEngine) OnUpdate(value, meta string) vm.Result {
	e.calls <- "update:" + meta
	return vm.Success
}
func (e *recEngine) OnDelete(meta string) vm.Result {
	e.calls <- "delete:" + meta
	return vm.Success
}
func (e *recEngine) FireTimer(callback, context string) vm.Result {
	e.calls <- "timer:" + callback
	return vm.Success
}
func (e *recEngine) Compile(string) string                    { return `{"compile_success":true}` }
func (e *recEngine) TerminateExecution()                      {}
func (e *recEngine) StartDebugger(string, func(string)) error { return nil }
func (e *recEngine) StopDebugger() error                      { return nil }
func (e *recEngine) Close()                                   {}

type outFrame struct {
	msgType common.RespMsgType
	opcode  common.RespOpcode
	msg     string
}

type harness struct {
	app     *AppWorker
	mainCtl net.Conn // controller's end of the main stream
	fbCtl   net.Conn
	calls   chan string
	out     chan outFrame
	fbOut   chan outFrame
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()

	calls := make(chan string, 256)
	prevFactory := vm.Factory
	vm.Factory = func(*common.HandlerConfig, *common.ServerSettings) (vm.Engine, error) {
		return &recEngine{calls: calls}, nil
	}
	t.Cleanup(func() { vm.Factory = prevFactory })

	mainWorker, mainCtl := net.Pipe()
	fbWorker, fbCtl := net.Pipe()

	app := NewAppWorker(Config{
		AppName:           "testapp",
		WorkerID:          "worker_0",
		BatchSize:         batchSize,
		FeedbackBatchSize: 4,
		FunctionID:        "fn1",
		UserPrefix:        "evt",
	}, mainWorker, fbWorker)
	app.Start()

	h := &harness{
		app:     app,
		mainCtl: mainCtl,
		fbCtl:   fbCtl,
		calls:   calls,
		out:     make(chan outFrame, 256),
		fbOut:   make(chan outFrame, 256),
	}
	go h.collect(mainCtl, h.out)
	go h.collect(fbCtl, h.fbOut)

	t.Cleanup(func() {
		app.Stop()
		mainCtl.Close()
		fbCtl.Close()
	})
	return h
}

// collect drains one controller-side stream into decoded frames.
func (h *harness) collect(conn net.Conn, out chan outFrame) {
	var acc []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			for {
				msgType, opcode, msg, rest, ok := transport.DecodeResponse(acc)
				if !ok {
					break
				}
				acc = rest
				out <- outFrame{msgType, opcode, msg}
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *harness) send(t *testing.T, header common.Header, body []byte) {
	t.Helper()
	if err := h.mainCtl.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.mainCtl.Write(transport.EncodeFrame(header, body)); err != nil {
		t.Fatalf("frame write: %v", err)
	}
}

func (h *harness) sendInit(t *testing.T, threadCount int) {
	t.Helper()
	h.send(t, common.Header{
		Event:    common.EventAppWorkerSetting,
		Opcode:   int8(common.SettingOpWorkerThreadCount),
		Metadata: fmt.Sprintf("%d", threadCount),
	}, nil)

	depcfg := `{"source_bucket":"default","metadata_bucket":"eventing","buckets":[]}`
	h.send(t, common.Header{
		Event:  common.EventV8Worker,
		Opcode: int8(common.V8OpInit),
	}, payload.BuildInit(&payload.Init{
		AppName:            "testapp",
		Depcfg:             depcfg,
		ExecutionTimeout:   10,
		CheckpointInterval: 100,
		FunctionInstanceID: "fn1",
	}))

	h.send(t, common.Header{
		Event:    common.EventV8Worker,
		Opcode:   int8(common.V8OpLoad),
		Metadata: "function OnUpdate(doc, meta) {}",
	}, nil)
}

func (h *harness) sendThreadMap(t *testing.T, m map[int16][]int64) {
	t.Helper()
	thrMap := make(map[int16][]int64, len(m))
	for tid, parts := range m {
		thrMap[tid] = parts
	}
	h.send(t, common.Header{
		Event:  common.EventAppWorkerSetting,
		Opcode: int8(common.SettingOpWorkerThreadMap),
	}, payload.BuildThreadMap(thrMap, int32(len(m))))
}

func (h *harness) sendMutation(t *testing.T, vb uint16, seq uint64) {
	t.Helper()
	h.send(t, common.Header{
		Event:     common.EventDCP,
		Opcode:    int8(common.DCPOpMutation),
		Partition: int16(vb),
		Metadata:  fmt.Sprintf(`{"vb":%d,"seq":%d}`, vb, seq),
	}, payload.BuildValue(`{"v":1}`))
}

func (h *harness) expectCall(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-h.calls:
		require.Contains(t, got, want)
	case <-time.After(5 * time.Second):
		t.Fatalf("no callback, wanted %q", want)
	}
}

func (h *harness) expectFrame(t *testing.T, match func(outFrame) bool) outFrame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-h.out:
			if match(f) {
				return f
			}
		case <-deadline:
			t.Fatal("expected frame never arrived")
		}
	}
}

func TestInitAndLoadDispatchesMutation(t *testing.T) {
	h := newHarness(t, 1)
	h.sendInit(t, 2)

	require.Eventually(t, func() bool {
		return h.app.workerCount() == 2
	}, 5*time.Second, 10*time.Millisecond)

	h.sendThreadMap(t, map[int16][]int64{0: {17}, 1: {18}})
	h.sendMutation(t, 17, 10)
	h.expectCall(t, `"vb":17`)
}

func TestMutationRoutingPerThreadMap(t *testing.T) {
	h := newHarness(t, 1)
	h.sendInit(t, 2)
	require.Eventually(t, func() bool {
		return h.app.workerCount() == 2
	}, 5*time.Second, 10*time.Millisecond)
	h.sendThreadMap(t, map[int16][]int64{0: {17}, 1: {18}})

	h.sendMutation(t, 17, 10)
	h.sendMutation(t, 18, 3)
	h.expectCall(t, `"seq":`)
	h.expectCall(t, `"seq":`)

	require.Eventually(t, func() bool {
		return h.app.worker(0).LastProcessedSeqNo(17) == 10 &&
			h.app.worker(1).LastProcessedSeqNo(18) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFilterAckOnMainStream(t *testing.T) {
	h := newHarness(t, 1)
	h.sendInit(t, 1)
	require.Eventually(t, func() bool {
		return h.app.workerCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	h.sendThreadMap(t, map[int16][]int64{0: {17}})

	h.sendMutation(t, 17, 10)
	h.expectCall(t, `"seq":10`)
	require.Eventually(t, func() bool {
		return h.app.worker(0).LastProcessedSeqNo(17) == 10
	}, 5*time.Second, 10*time.Millisecond)

	h.send(t, common.Header{
		Event:     common.EventFilter,
		Opcode:    int8(common.FilterOpVbFilter),
		Partition: 17,
		Metadata:  `{"vb":17,"seq":15,"skip_ack":false}`,
	}, nil)

	ack := h.expectFrame(t, func(f outFrame) bool {
		return f.msgType == common.RespFilterAck
	})
	require.Contains(t, ack.msg, `"vb":17`)
	require.Contains(t, ack.msg, `"seq":10`)

	// a late in-flight event below the filter seqno stays suppressed
	h.sendMutation(t, 17, 12)
	select {
	case got := <-h.calls:
		t.Fatalf("filtered event reached user code: %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBatchFlushCarriesQueueStats(t *testing.T) {
	h := newHarness(t, 8)
	h.sendInit(t, 1)
	require.Eventually(t, func() bool {
		return h.app.workerCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	h.sendThreadMap(t, map[int16][]int64{0: {17}})

	// drain the priority flushes emitted during setup
	for drained := false; !drained; {
		select {
		case <-h.out:
		case <-time.After(200 * time.Millisecond):
			drained = true
		}
	}

	for seq := uint64(1); seq <= 8; seq++ {
		h.sendMutation(t, 17, seq)
	}
	for i := 0; i < 8; i++ {
		h.expectCall(t, "update:")
	}

	// next read boundary crosses the batch threshold
	h.send(t, common.Header{
		Event:     common.EventFilter,
		Opcode:    int8(common.FilterOpProcessedSeqNo),
		Partition: 17,
		Metadata:  `{"vb":17,"seq":8}`,
	}, nil)

	stats := h.expectFrame(t, func(f outFrame) bool {
		return f.msgType == common.RespV8WorkerConfig && f.opcode == common.RespOpQueueSize
	})
	for _, key := range []string{"agg_queue_size", "agg_queue_memory", "processed_events_size"} {
		require.Contains(t, stats.msg, key)
	}
}

func TestCheckpointOnFeedbackStream(t *testing.T) {
	h := newHarness(t, 1)
	h.sendInit(t, 1)
	require.Eventually(t, func() bool {
		return h.app.workerCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	h.sendThreadMap(t, map[int16][]int64{0: {17}})

	h.sendMutation(t, 17, 10)
	h.expectCall(t, `"seq":10`)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case f := <-h.fbOut:
			if f.msgType == common.RespBucketOps && f.msg == "17::10" {
				return
			}
		case <-deadline:
			t.Fatal("checkpoint never arrived on feedback stream")
		}
	}
}

func TestExecutionStatsResponse(t *testing.T) {
	h := newHarness(t, 1)
	h.sendInit(t, 1)
	require.Eventually(t, func() bool {
		return h.app.workerCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.send(t, common.Header{
		Event:  common.EventV8Worker,
		Opcode: int8(common.V8OpGetExecutionStats),
	}, nil)

	resp := h.expectFrame(t, func(f outFrame) bool {
		return f.opcode == common.RespOpExecutionStats
	})
	for _, key := range []string{"on_update_success", "dcp_mutation_msg_counter", "timestamp"} {
		require.Contains(t, resp.msg, key)
	}
}

func TestUnknownOpcodeCounted(t *testing.T) {
	h := newHarness(t, 1)
	h.sendInit(t, 1)
	require.Eventually(t, func() bool {
		return h.app.workerCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.send(t, common.Header{
		Event:  common.EventV8Worker,
		Opcode: 99,
	}, nil)

	h.send(t, common.Header{
		Event:  common.EventV8Worker,
		Opcode: int8(common.V8OpGetFailureStats),
	}, nil)
	resp := h.expectFrame(t, func(f outFrame) bool {
		return f.opcode == common.RespOpFailureStats
	})
	require.Contains(t, resp.msg, `"v8worker_events_lost":1`)
}
