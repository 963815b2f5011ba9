package common

// NumVbuckets is the fixed shard count of the upstream key space.
const NumVbuckets = 1024

// MaxPartition is the highest vbucket id representable on the wire.
const MaxPartition = 65535

// GenserverChannelSize is the default request-channel depth for
// gen-server style control loops.
const GenserverChannelSize = 64

// Event classes carried in the frame header.
type EventType int8

const (
	EventV8Worker EventType = iota + 1
	EventDCP
	EventFilter
	EventAppWorkerSetting
	EventDebugger
	EventInternal
)

// V8Worker opcodes.
type V8WorkerOpcode int8

const (
	V8OpDispose V8WorkerOpcode = iota + 1
	V8OpInit
	V8OpLoad
	V8OpTerminate
	V8OpGetLatencyStats
	V8OpGetFailureStats
	V8OpGetExecutionStats
	V8OpGetCompileInfo
	V8OpGetLcbExceptions
	V8OpVersion
)

// DCP opcodes.
type DCPOpcode int8

const (
	DCPOpDelete DCPOpcode = iota + 1
	DCPOpMutation
)

// Filter opcodes.
type FilterOpcode int8

const (
	FilterOpVbFilter FilterOpcode = iota + 1
	FilterOpProcessedSeqNo
)

// AppWorkerSetting opcodes.
type AppWorkerSettingOpcode int8

const (
	SettingOpLogLevel AppWorkerSettingOpcode = iota + 1
	SettingOpWorkerThreadCount
	SettingOpWorkerThreadMap
	SettingOpTimerContextSize
	SettingOpVbMap
)

// Debugger opcodes.
type DebuggerOpcode int8

const (
	DebuggerOpStart DebuggerOpcode = iota + 1
	DebuggerOpStop
)

// Internal opcodes, synthesized in-process and never read off the wire.
type InternalOpcode int8

const (
	InternalOpScanTimer InternalOpcode = iota + 1
	InternalOpUpdateVbMap
)

// Response message types on the outbound side.
type RespMsgType int8

const (
	RespV8WorkerConfig RespMsgType = iota + 1
	RespBucketOps
	RespFilterAck
)

// Response opcodes under RespV8WorkerConfig.
type RespOpcode int8

const (
	RespOpQueueSize RespOpcode = iota + 1
	RespOpLatencyStats
	RespOpFailureStats
	RespOpExecutionStats
	RespOpCompileInfo
	RespOpLcbExceptions
	RespOpCheckpoint
	RespOpVbFilterAck
)
