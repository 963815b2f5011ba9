package queue

import (
	"testing"
	"time"

	"github.com/couchbase/eventing-consumer/common"
)

func mkMsg(meta string) *common.Message {
	return &common.Message{
		Header: common.Header{Event: common.EventDCP, Metadata: meta},
	}
}

func TestFIFOOrder(t *testing.T) {
	q := NewBoundedQueue(0)
	defer q.Close()

	for _, meta := range []string{"a", "b", "c"} {
		if !q.PushBack(mkMsg(meta)) {
			t.Fatal("push failed")
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		msg, ok := q.Pop()
		if !ok || msg.Header.Metadata != want {
			t.Fatalf("pop got %v, want %v", msg, want)
		}
	}
}

func TestPushFrontJumpsQueue(t *testing.T) {
	q := NewBoundedQueue(0)
	defer q.Close()

	q.PushBack(mkMsg("data"))
	q.PushFront(mkMsg("control"))

	msg, _ := q.Pop()
	if msg.Header.Metadata != "control" {
		t.Fatalf("expected control first, got %v", msg.Header.Metadata)
	}
}

func TestGauges(t *testing.T) {
	q := NewBoundedQueue(0)
	defer q.Close()

	m := mkMsg("abcdef")
	q.PushBack(m)
	if q.Size() != 1 {
		t.Fatalf("size %v, want 1", q.Size())
	}
	if q.Memory() != m.Size() {
		t.Fatalf("memory %v, want %v", q.Memory(), m.Size())
	}
	q.Pop()
	if q.Size() != 0 || q.Memory() != 0 {
		t.Fatalf("gauges not drained: %v %v", q.Size(), q.Memory())
	}
}

func TestBackpressureBlocksProducer(t *testing.T) {
	// Budget fits one message; the second PushBack must block until the
	// consumer pops.
	m := mkMsg("0123456789")
	q := NewBoundedQueue(m.Size())
	defer q.Close()

	q.PushBack(mkMsg("0123456789"))

	pushed := make(chan bool)
	go func() {
		q.PushBack(mkMsg("0123456789"))
		pushed <- true
	}()

	select {
	case <-pushed:
		t.Fatal("producer was not blocked by full queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Pop()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after pop")
	}
}

func TestPushFrontNeverBlocks(t *testing.T) {
	m := mkMsg("0123456789")
	q := NewBoundedQueue(m.Size())
	defer q.Close()

	q.PushBack(mkMsg("0123456789"))

	done := make(chan bool)
	go func() {
		q.PushFront(mkMsg("control"))
		done <- true
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("control message blocked on a full queue")
	}
}

func TestCloseUnblocksConsumer(t *testing.T) {
	q := NewBoundedQueue(0)

	popped := make(chan bool)
	go func() {
		_, ok := q.Pop()
		popped <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-popped:
		if ok {
			t.Fatal("pop on closed empty queue reported a message")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer still blocked after close")
	}
}
