package transport

import (
	"fmt"
	"testing"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/gen/flatbuf/payload"
)

func TestFrameRoundTrip(t *testing.T) {
	ref := common.Header{
		Event:     common.EventDCP,
		Opcode:    int8(common.DCPOpMutation),
		Partition: 17,
		Metadata:  `{"vb":17,"seq":10}`,
	}
	body := payload.BuildValue(`{"doc":"content"}`)
	frame := EncodeFrame(ref, body)

	var got []*common.Message
	dec := &Decoder{}
	dec.Feed(frame, func(m *common.Message) { got = append(got, m) })

	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %v", len(got))
	}
	if got[0].Header != ref {
		t.Fatalf("header mismatch: %+v != %+v", got[0].Header, ref)
	}
	if !VerifyTable(got[0].Payload) {
		t.Fatal("payload failed verification")
	}
	p := payload.GetRootAsPayload(got[0].Payload, 0)
	if string(p.Value()) != `{"doc":"content"}` {
		t.Fatalf("payload value mismatch: %q", p.Value())
	}
}

func TestStreamReassembly(t *testing.T) {
	// A concatenation of frames split at every possible chunk size must
	// decode to the original sequence.
	var stream []byte
	var refs []common.Header
	for i := 0; i < 5; i++ {
		h := common.Header{
			Event:     common.EventDCP,
			Opcode:    int8(common.DCPOpMutation),
			Partition: int16(i),
			Metadata:  fmt.Sprintf(`{"vb":%d,"seq":%d}`, i, i*10),
		}
		refs = append(refs, h)
		stream = append(stream, EncodeFrame(h, payload.BuildValue("v"))...)
	}

	for chunkSize := 1; chunkSize <= len(stream); chunkSize += 7 {
		dec := &Decoder{}
		var got []*common.Message
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			dec.Feed(stream[off:end], func(m *common.Message) { got = append(got, m) })
		}
		if len(got) != len(refs) {
			t.Fatalf("chunk %v: %v frames, want %v", chunkSize, len(got), len(refs))
		}
		for i, m := range got {
			if m.Header != refs[i] {
				t.Fatalf("chunk %v frame %v: %+v != %+v", chunkSize, i, m.Header, refs[i])
			}
		}
	}
}

func TestCorruptFrameResync(t *testing.T) {
	good := EncodeFrame(common.Header{
		Event: common.EventV8Worker, Opcode: int8(common.V8OpLoad), Metadata: "code",
	}, nil)

	// Corrupt frame with a valid length prefix and garbage header bytes.
	bad := EncodeFrame(common.Header{
		Event: common.EventV8Worker, Opcode: int8(common.V8OpLoad), Metadata: "junk",
	}, nil)
	for i := prefixSize; i < len(bad); i++ {
		bad[i] = 0xff
	}

	dec := &Decoder{}
	var got []*common.Message
	stream := append(append([]byte{}, bad...), good...)
	dec.Feed(stream, func(m *common.Message) { got = append(got, m) })

	if dec.CorruptFrames != 1 {
		t.Fatalf("expected 1 corrupt frame, got %v", dec.CorruptFrames)
	}
	if len(got) != 1 || got[0].Header.Metadata != "code" {
		t.Fatalf("reader did not resynchronize: %+v", got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	frame := EncodeResponse(common.RespFilterAck, common.RespOpVbFilterAck,
		`{"vb":17, "seq":10, "skip_ack":false}`)
	msgType, opcode, msg, rest, ok := DecodeResponse(frame)
	if !ok {
		t.Fatal("decode failed")
	}
	if msgType != common.RespFilterAck || opcode != common.RespOpVbFilterAck {
		t.Fatalf("type/opcode mismatch: %v %v", msgType, opcode)
	}
	if msg != `{"vb":17, "seq":10, "skip_ack":false}` {
		t.Fatalf("msg mismatch: %q", msg)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %v", len(rest))
	}
}

func TestVerifyTableRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x01},
		{0xff, 0xff, 0xff, 0xff},
		{0x08, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff},
	}
	for i, buf := range cases {
		if VerifyTable(buf) {
			t.Fatalf("case %v: garbage passed verification", i)
		}
	}
}
