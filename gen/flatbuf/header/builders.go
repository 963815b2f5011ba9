package header

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// Build encodes a header table from plain values. FlatBuffers' Go support
// has no object API, so root types get a Build helper alongside the
// generated accessors.
func Build(event, opcode int8, partition int16, metadata string) []byte {
	bu := flatbuffers.NewBuilder(64)
	meta := bu.CreateString(metadata)
	HeaderStart(bu)
	HeaderAddEvent(bu, event)
	HeaderAddOpcode(bu, opcode)
	HeaderAddPartition(bu, partition)
	HeaderAddMetadata(bu, meta)
	bu.Finish(HeaderEnd(bu))
	return bu.FinishedBytes()
}
