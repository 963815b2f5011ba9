// On the wire framing between controller and worker.
//
// Inbound:  { uint32be(headerlen), uint32be(payloadlen),
//             []byte(header), []byte(payload) }
//
// Outbound: { uint32le(len), []byte(response) }
//
// header, payload and response are FlatBuffer tables (gen/flatbuf).
package transport

import (
	"encoding/binary"
	"errors"

	"github.com/couchbase/eventing-consumer/common"
	"github.com/couchbase/eventing-consumer/gen/flatbuf/header"
	"github.com/couchbase/eventing-consumer/gen/flatbuf/response"
	"github.com/couchbase/eventing-consumer/logging"
)

// ErrorHeaderCorrupt is a frame whose header table failed verification.
var ErrorHeaderCorrupt = errors.New("transport.headerCorrupt")

// ErrorFrameOverflow is a frame whose declared size exceeds the cap.
var ErrorFrameOverflow = errors.New("transport.frameOverflow")

// Frame size fields, bytes.
const (
	headerFragmentSize  = 4
	payloadFragmentSize = 4
	prefixSize          = headerFragmentSize + payloadFragmentSize
)

// MaxFrameSize caps a single declared frame. Anything larger is treated
// as corruption and the stream is resynchronized past it.
const MaxFrameSize = 64 * 1024 * 1024

// Decoder re-assembles frames from arbitrary stream chunks. Bytes left
// over after the last complete frame are retained for the next Feed.
// One Decoder per stream, owned by that stream's reactor.
type Decoder struct {
	residue []byte
	skip    int // bytes of an oversized frame still to discard

	// corrupt frame tally, read by the stats aggregator
	CorruptFrames uint64
}

// Feed appends chunk and emits every complete frame in arrival order.
// Corrupted frames are dropped after skipping their declared length.
func (d *Decoder) Feed(chunk []byte, emit func(*common.Message)) {
	buf := chunk
	if len(d.residue) > 0 {
		buf = append(d.residue, chunk...)
		d.residue = nil
	}
	if d.skip > 0 {
		if len(buf) <= d.skip {
			d.skip -= len(buf)
			return
		}
		buf = buf[d.skip:]
		d.skip = 0
	}

	for len(buf) > prefixSize {
		hlen := int(binary.BigEndian.Uint32(buf[0:headerFragmentSize]))
		plen := int(binary.BigEndian.Uint32(buf[headerFragmentSize:prefixSize]))
		frameSize := prefixSize + hlen + plen
		if hlen+plen > MaxFrameSize {
			logging.Errorf("Decoder dropping oversized frame hlen:%v plen:%v", hlen, plen)
			d.CorruptFrames++
			if len(buf) >= frameSize {
				buf = buf[frameSize:]
				continue
			}
			d.skip = frameSize - len(buf)
			buf = nil
			break
		}
		if len(buf) < frameSize {
			break
		}

		hbytes := buf[prefixSize : prefixSize+hlen]
		pbytes := buf[prefixSize+hlen : frameSize]
		if msg, err := decodeFrame(hbytes, pbytes); err != nil {
			logging.Errorf("Decoder dropping frame: %v", err)
			d.CorruptFrames++
		} else {
			emit(msg)
		}
		buf = buf[frameSize:]
	}

	if len(buf) > 0 {
		d.residue = append([]byte(nil), buf...)
	}
}

func decodeFrame(hbytes, pbytes []byte) (*common.Message, error) {
	if !VerifyTable(hbytes) {
		return nil, ErrorHeaderCorrupt
	}
	h := header.GetRootAsHeader(hbytes, 0)
	msg := &common.Message{
		Header: common.Header{
			Event:     common.EventType(h.Event()),
			Opcode:    h.Opcode(),
			Partition: h.Partition(),
			Metadata:  string(h.Metadata()),
		},
	}
	if len(pbytes) > 0 {
		msg.Payload = append([]byte(nil), pbytes...)
	}
	return msg, nil
}

// EncodeFrame builds one inbound-format frame. The worker itself only
// decodes this direction; the encoder exists for the controller side of
// tests and tools.
func EncodeFrame(h common.Header, payload []byte) []byte {
	hbytes := header.Build(int8(h.Event), h.Opcode, h.Partition, h.Metadata)
	out := make([]byte, prefixSize, prefixSize+len(hbytes)+len(payload))
	binary.BigEndian.PutUint32(out[0:headerFragmentSize], uint32(len(hbytes)))
	binary.BigEndian.PutUint32(out[headerFragmentSize:prefixSize], uint32(len(payload)))
	out = append(out, hbytes...)
	out = append(out, payload...)
	return out
}

// EncodeResponse builds one outbound frame: little-endian length prefix
// followed by the response table.
func EncodeResponse(msgType common.RespMsgType, opcode common.RespOpcode, msg string) []byte {
	rbytes := response.Build(int8(msgType), int8(opcode), msg)
	out := make([]byte, 4, 4+len(rbytes))
	binary.LittleEndian.PutUint32(out, uint32(len(rbytes)))
	return append(out, rbytes...)
}

// DecodeResponse consumes one outbound frame from buf and returns the
// decoded record plus the remaining bytes. ok is false while buf holds
// less than a full frame.
func DecodeResponse(buf []byte) (msgType common.RespMsgType, opcode common.RespOpcode, msg string, rest []byte, ok bool) {
	if len(buf) < 4 {
		return 0, 0, "", buf, false
	}
	rlen := int(binary.LittleEndian.Uint32(buf))
	if len(buf) < 4+rlen {
		return 0, 0, "", buf, false
	}
	rbytes := buf[4 : 4+rlen]
	if !VerifyTable(rbytes) {
		return 0, 0, "", buf[4+rlen:], false
	}
	r := response.GetRootAsResponse(rbytes, 0)
	return common.RespMsgType(r.MsgType()), common.RespOpcode(r.Opcode()),
		string(r.Msg()), buf[4+rlen:], true
}
