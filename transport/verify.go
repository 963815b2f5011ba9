package transport

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// VerifyTable structurally checks a buffer holding a single root table:
// root offset, vtable position, vtable length and every field offset must
// land inside the buffer. This lets the reader drop frames whose table
// layout is corrupt instead of crashing on them. Offsets stored inside
// fields (strings, vectors, nested tables) are not followed, so their
// targets and lengths are not checked.
func VerifyTable(buf []byte) bool {
	if len(buf) < flatbuffers.SizeUOffsetT {
		return false
	}
	root := int(flatbuffers.GetUOffsetT(buf))
	if root < 0 || root+flatbuffers.SizeSOffsetT > len(buf) {
		return false
	}
	// The table starts with a signed back-reference to its vtable.
	soff := int(flatbuffers.GetSOffsetT(buf[root:]))
	vtable := root - soff
	if vtable < 0 || vtable+2*flatbuffers.SizeVOffsetT > len(buf) {
		return false
	}
	vtableLen := int(flatbuffers.GetVOffsetT(buf[vtable:]))
	tableLen := int(flatbuffers.GetVOffsetT(buf[vtable+flatbuffers.SizeVOffsetT:]))
	if vtableLen < 2*flatbuffers.SizeVOffsetT || vtableLen%2 != 0 {
		return false
	}
	if vtable+vtableLen > len(buf) || root+tableLen > len(buf) {
		return false
	}
	for field := 2 * flatbuffers.SizeVOffsetT; field < vtableLen; field += flatbuffers.SizeVOffsetT {
		fo := int(flatbuffers.GetVOffsetT(buf[vtable+field:]))
		if fo != 0 && (fo >= tableLen || root+fo >= len(buf)) {
			return false
		}
	}
	return true
}
