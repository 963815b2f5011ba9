package common

import "fmt"

// Header is the decoded frame header common to every inbound message.
type Header struct {
	Event     EventType
	Opcode    int8
	Partition int16
	Metadata  string
}

// Message pairs a decoded header with its raw payload bytes. Payload
// stays serialized until the consuming worker needs it; control messages
// carry none.
type Message struct {
	Header  Header
	Payload []byte
}

// Size is the byte footprint charged against a queue's memory gauge.
func (m *Message) Size() int64 {
	return int64(4 + len(m.Header.Metadata) + len(m.Payload))
}

func (m *Message) String() string {
	return fmt.Sprintf("event:%v opcode:%v partition:%v",
		m.Header.Event, m.Header.Opcode, m.Header.Partition)
}

// EventMeta is the parsed form of a DCP event's metadata JSON.
type EventMeta struct {
	Vb     uint16 `json:"vb"`
	Seq    uint64 `json:"seq"`
	Key    string `json:"id"`
	Cas    string `json:"cas"`
	Expiry uint32 `json:"expiration"`
}

// FilterMeta is the parsed form of a Filter.VbFilter metadata JSON.
type FilterMeta struct {
	Vb      uint16 `json:"vb"`
	SeqNo   uint64 `json:"seq"`
	SkipAck bool   `json:"skip_ack"`
}
