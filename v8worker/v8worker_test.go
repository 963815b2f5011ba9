package v8worker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/gen/flatbuf/payload"
	"github.com/couchbase/eventing-consumer/stats"
	"github.com/couchbase/eventing-consumer/transport"
	"github.com/couchbase/eventing-consumer/vm"
)

// fakeEngine records invocations and lets tests script the result.
type fakeEngine struct {
	calls  chan string
	result vm.Result
	loaded string
	closed bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{calls: make(chan string, 64), result: vm.Success}
}

func (e *fakeEngine) Load(script string) error       { e.loaded = script; return nil }
func (e *fakeEngine) InstallBindings(vm.Bindings)    {}
func (e *fakeEngine) OnUpdate(value, meta string) vm.Result {
	e.calls <- "update:" + meta
	return e.result
}
func (e *fakeEngine) OnDelete(meta string) vm.Result {
	e.calls <- "delete:" + meta
	return e.result
}
func (e *fakeEngine) FireTimer(callback, context string) vm.Result {
	e.calls <- "timer:" + callback
	return e.result
}
func (e *fakeEngine) Compile(string) string                    { return `{"compile_success":true}` }
func (e *fakeEngine) TerminateExecution()                      {}
func (e *fakeEngine) StartDebugger(string, func(string)) error { return nil }
func (e *fakeEngine) StopDebugger() error                      { return nil }
func (e *fakeEngine) Close()                                   { e.closed = true }

func testWorker(t *testing.T) (*Worker, *fakeEngine) {
	t.Helper()
	eng := newFakeEngine()
	w := NewWorker(Config{
		ID:               0,
		QueueByteBudget:  1 << 20,
		ExecutionTimeout: time.Minute,
	}, eng, nil, stats.NewMetrics())
	t.Cleanup(w.Close)
	return w, eng
}

func mutation(vb uint16, seq uint64) *common.Message {
	return &common.Message{
		Header: common.Header{
			Event:     common.EventDCP,
			Opcode:    int8(common.DCPOpMutation),
			Partition: int16(vb),
			Metadata:  fmt.Sprintf(`{"vb":%d,"seq":%d,"id":"doc%d"}`, vb, seq, seq),
		},
		Payload: payload.BuildValue(`{"v":1}`),
	}
}

func expectCall(t *testing.T, eng *fakeEngine, want string) {
	t.Helper()
	select {
	case got := <-eng.calls:
		require.Contains(t, got, want)
	case <-time.After(2 * time.Second):
		t.Fatalf("no engine call, wanted %q", want)
	}
}

func expectNoCall(t *testing.T, eng *fakeEngine) {
	t.Helper()
	select {
	case got := <-eng.calls:
		t.Fatalf("unexpected engine call %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFIFOWithinPartition(t *testing.T) {
	w, eng := testWorker(t)

	for seq := uint64(1); seq <= 5; seq++ {
		require.True(t, w.PushBack(mutation(17, seq)))
	}
	for seq := uint64(1); seq <= 5; seq++ {
		expectCall(t, eng, fmt.Sprintf(`"seq":%d`, seq))
	}
	require.Eventually(t, func() bool {
		return w.LastProcessedSeqNo(17) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMutationDispatchAcrossVbs(t *testing.T) {
	w, eng := testWorker(t)

	w.PushBack(mutation(17, 10))
	w.PushBack(mutation(18, 3))
	expectCall(t, eng, `"vb":17`)
	expectCall(t, eng, `"vb":18`)

	require.Eventually(t, func() bool {
		return w.LastProcessedSeqNo(17) == 10 && w.LastProcessedSeqNo(18) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateSuppression(t *testing.T) {
	w, eng := testWorker(t)

	w.PushBack(mutation(17, 10))
	expectCall(t, eng, `"seq":10`)
	require.Eventually(t, func() bool {
		return w.LastProcessedSeqNo(17) == 10
	}, 2*time.Second, 10*time.Millisecond)

	w.PushBack(mutation(17, 10))
	expectNoCall(t, eng)
	require.Equal(t, uint64(10), w.LastProcessedSeqNo(17))
}

func TestFilterHandoff(t *testing.T) {
	w, eng := testWorker(t)

	w.PushBack(mutation(17, 10))
	expectCall(t, eng, `"seq":10`)
	require.Eventually(t, func() bool {
		return w.LastProcessedSeqNo(17) == 10
	}, 2*time.Second, 10*time.Millisecond)

	// Controller initiates handoff at F=15; ack echoes L=10.
	last := w.HandleVbFilter(17, 15)
	require.Equal(t, uint64(10), last)

	// Late in-flight events at or below F are silently dropped.
	w.PushBack(mutation(17, 12))
	expectNoCall(t, eng)

	// Seeing the boundary retires the filter; later events flow again.
	w.PushBack(mutation(17, 15))
	expectNoCall(t, eng)
	w.PushBack(mutation(17, 16))
	expectCall(t, eng, `"seq":16`)
}

func TestFilterIdempotentWhenAlreadyPast(t *testing.T) {
	w, _ := testWorker(t)

	w.advanceSeqNo(17, 20)
	last := w.HandleVbFilter(17, 15)
	require.Equal(t, uint64(20), last)

	// No filter installed; plain duplicate suppression still holds.
	require.True(t, w.filtered(17, 15))
	require.False(t, w.filtered(17, 21))
}

func TestCallbackFailureStillAdvances(t *testing.T) {
	w, eng := testWorker(t)
	eng.result = vm.Failure

	w.PushBack(mutation(17, 10))
	expectCall(t, eng, `"seq":10`)
	require.Eventually(t, func() bool {
		return w.LastProcessedSeqNo(17) == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminatedDoesNotAdvance(t *testing.T) {
	w, eng := testWorker(t)
	eng.result = vm.Terminated

	w.PushBack(mutation(17, 10))
	expectCall(t, eng, `"seq":10`)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, uint64(0), w.LastProcessedSeqNo(17))
}

func TestBucketOpsMessages(t *testing.T) {
	w, eng := testWorker(t)

	w.PushBack(mutation(17, 10))
	expectCall(t, eng, `"seq":10`)
	require.Eventually(t, func() bool {
		return w.LastProcessedSeqNo(17) == 10
	}, 2*time.Second, 10*time.Millisecond)

	frames := w.BucketOpsMessages()
	require.Len(t, frames, 1)

	msgType, opcode, msg, _, ok := transport.DecodeResponse(frames[0])
	require.True(t, ok)
	require.Equal(t, common.RespBucketOps, msgType)
	require.Equal(t, common.RespOpCheckpoint, opcode)
	require.Equal(t, "17::10", msg)

	// the drained cell stays quiet until the next delivery
	require.Empty(t, w.BucketOpsMessages())
}

func TestProcessedSeqNoWithoutUserCode(t *testing.T) {
	w, eng := testWorker(t)

	w.PushBack(&common.Message{
		Header: common.Header{
			Event:     common.EventFilter,
			Opcode:    int8(common.FilterOpProcessedSeqNo),
			Partition: 17,
			Metadata:  `{"vb":17,"seq":42}`,
		},
	})
	require.Eventually(t, func() bool {
		return w.LastProcessedSeqNo(17) == 42
	}, 2*time.Second, 10*time.Millisecond)
	expectNoCall(t, eng)
}
