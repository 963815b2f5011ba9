package response

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// Build encodes a response table from plain values.
func Build(msgType, opcode int8, msg string) []byte {
	bu := flatbuffers.NewBuilder(len(msg) + 64)
	m := bu.CreateString(msg)
	ResponseStart(bu)
	ResponseAddMsgType(bu, msgType)
	ResponseAddOpcode(bu, opcode)
	ResponseAddMsg(bu, m)
	bu.Finish(ResponseEnd(bu))
	return bu.FinishedBytes()
}
