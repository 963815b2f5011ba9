package common

import (
	"errors"
	"testing"
	"time"
)

// echoServer is a minimal gen-server loop for exercising FailsafeOp.
func echoServer(reqch chan []interface{}, finch chan bool, fail error) {
	for {
		select {
		case cmd := <-reqch:
			respch := cmd[1].(chan []interface{})
			respch <- []interface{}{fail, cmd[0]}
		case <-finch:
			return
		}
	}
}

func TestFailsafeOpRoundTrip(t *testing.T) {
	reqch := make(chan []interface{}, GenserverChannelSize)
	finch := make(chan bool)
	go echoServer(reqch, finch, nil)
	defer close(finch)

	respch := make(chan []interface{}, 1)
	resp, err := FailsafeOp(reqch, respch, []interface{}{"ping", respch}, finch)
	if err != nil {
		t.Fatal(err)
	}
	if got := OpError(err, resp, 0); got != nil {
		t.Fatalf("unexpected op error %v", got)
	}
	if resp[1].(string) != "ping" {
		t.Fatalf("echo mismatch: %v", resp[1])
	}
}

func TestFailsafeOpSurfacesServerError(t *testing.T) {
	reqch := make(chan []interface{}, GenserverChannelSize)
	finch := make(chan bool)
	failure := errors.New("boom")
	go echoServer(reqch, finch, failure)
	defer close(finch)

	respch := make(chan []interface{}, 1)
	resp, err := FailsafeOp(reqch, respch, []interface{}{"ping", respch}, finch)
	if got := OpError(err, resp, 0); got != failure {
		t.Fatalf("OpError = %v, want %v", got, failure)
	}
}

func TestFailsafeOpOnClosedServer(t *testing.T) {
	reqch := make(chan []interface{}) // nobody serving
	finch := make(chan bool)
	close(finch)

	done := make(chan error, 1)
	go func() {
		respch := make(chan []interface{}, 1)
		_, err := FailsafeOp(reqch, respch, []interface{}{"ping", respch}, finch)
		done <- err
	}()

	select {
	case err := <-done:
		if err != ErrorClosed {
			t.Fatalf("err = %v, want ErrorClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("FailsafeOp blocked against a closed server")
	}
}
