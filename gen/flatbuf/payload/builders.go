package payload

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// Init mirrors the fields an Init payload carries. The FlatBuffer table
// is named as generated; this plain struct plus Build helpers follow the
// hand-maintained convention used where flatc has no object API.
type Init struct {
	AppName            string
	Depcfg             string
	ExecutionTimeout   int32
	LcbInstCapacity    int32
	UsingTimer         bool
	TimerContextSize   int64
	HandlerHeaders     []string
	HandlerFooters     []string
	CheckpointInterval int32
	DebuggerPort       string
	EventingDir        string
	CurrEventingPort   string
	CurrHost           string
	KvHostPort         string
	FunctionInstanceID string
}

// BuildInit encodes an Init payload from a struct.
func BuildInit(p *Init) []byte {
	bu := flatbuffers.NewBuilder(512)

	putStrings := func(start func(*flatbuffers.Builder, int) flatbuffers.UOffsetT,
		xs []string) flatbuffers.UOffsetT {
		if len(xs) == 0 {
			return 0
		}
		offs := make([]flatbuffers.UOffsetT, len(xs))
		for i, s := range xs {
			offs[i] = bu.CreateString(s)
		}
		start(bu, len(xs))
		for i := len(offs) - 1; i >= 0; i-- {
			bu.PrependUOffsetT(offs[i])
		}
		return bu.EndVector(len(xs))
	}

	headers := putStrings(PayloadStartHandlerHeadersVector, p.HandlerHeaders)
	footers := putStrings(PayloadStartHandlerFootersVector, p.HandlerFooters)

	appName := bu.CreateString(p.AppName)
	depcfg := bu.CreateString(p.Depcfg)
	debuggerPort := bu.CreateString(p.DebuggerPort)
	eventingDir := bu.CreateString(p.EventingDir)
	eventingPort := bu.CreateString(p.CurrEventingPort)
	currHost := bu.CreateString(p.CurrHost)
	kvHostPort := bu.CreateString(p.KvHostPort)
	instanceID := bu.CreateString(p.FunctionInstanceID)

	PayloadStart(bu)
	PayloadAddAppName(bu, appName)
	PayloadAddDepcfg(bu, depcfg)
	PayloadAddExecutionTimeout(bu, p.ExecutionTimeout)
	PayloadAddLcbInstCapacity(bu, p.LcbInstCapacity)
	PayloadAddUsingTimer(bu, p.UsingTimer)
	PayloadAddTimerContextSize(bu, p.TimerContextSize)
	PayloadAddHandlerHeaders(bu, headers)
	PayloadAddHandlerFooters(bu, footers)
	PayloadAddCheckpointInterval(bu, p.CheckpointInterval)
	PayloadAddDebuggerPort(bu, debuggerPort)
	PayloadAddEventingDir(bu, eventingDir)
	PayloadAddCurrEventingPort(bu, eventingPort)
	PayloadAddCurrHost(bu, currHost)
	PayloadAddKvHostPort(bu, kvHostPort)
	PayloadAddFunctionInstanceID(bu, instanceID)
	bu.Finish(PayloadEnd(bu))
	return bu.FinishedBytes()
}

// BuildValue encodes a DCP document-value payload.
func BuildValue(value string) []byte {
	bu := flatbuffers.NewBuilder(int(len(value)) + 64)
	v := bu.CreateString(value)
	PayloadStart(bu)
	PayloadAddValue(bu, v)
	bu.Finish(PayloadEnd(bu))
	return bu.FinishedBytes()
}

// BuildThreadMap encodes a WorkerThreadMap payload. The map keys are
// worker thread ids, the values their partition lists.
func BuildThreadMap(thrMap map[int16][]int64, partitionCount int32) []byte {
	bu := flatbuffers.NewBuilder(256)

	entries := make([]flatbuffers.UOffsetT, 0, len(thrMap))
	for tid := int16(0); int(tid) < len(thrMap); tid++ {
		parts := thrMap[tid]
		VbsThreadMapStartPartitionsVector(bu, len(parts))
		for i := len(parts) - 1; i >= 0; i-- {
			bu.PrependInt64(parts[i])
		}
		vec := bu.EndVector(len(parts))
		VbsThreadMapStart(bu)
		VbsThreadMapAddThreadID(bu, tid)
		VbsThreadMapAddPartitions(bu, vec)
		entries = append(entries, VbsThreadMapEnd(bu))
	}

	PayloadStartThrMapVector(bu, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		bu.PrependUOffsetT(entries[i])
	}
	vec := bu.EndVector(len(entries))

	PayloadStart(bu)
	PayloadAddThrMap(bu, vec)
	PayloadAddPartitionCount(bu, partitionCount)
	bu.Finish(PayloadEnd(bu))
	return bu.FinishedBytes()
}

// BuildVbMap encodes an owned-vbucket list payload.
func BuildVbMap(vbuckets []int64) []byte {
	bu := flatbuffers.NewBuilder(64 + 8*len(vbuckets))
	PayloadStartVbMapVector(bu, len(vbuckets))
	for i := len(vbuckets) - 1; i >= 0; i-- {
		bu.PrependInt64(vbuckets[i])
	}
	vec := bu.EndVector(len(vbuckets))
	PayloadStart(bu)
	PayloadAddVbMap(bu, vec)
	bu.Finish(PayloadEnd(bu))
	return bu.FinishedBytes()
}

// BuildTimer encodes a fired-timer payload.
func BuildTimer(callbackFn, context string) []byte {
	bu := flatbuffers.NewBuilder(len(callbackFn) + len(context) + 64)
	cb := bu.CreateString(callbackFn)
	ctx := bu.CreateString(context)
	PayloadStart(bu)
	PayloadAddCallbackFn(bu, cb)
	PayloadAddContext(bu, ctx)
	bu.Finish(PayloadEnd(bu))
	return bu.FinishedBytes()
}
