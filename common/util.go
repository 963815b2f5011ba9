package common

import "errors"

// ErrorClosed is returned on operations against a wound-down gen-server.
var ErrorClosed = errors.New("common.closed")

// FailsafeOp posts cmd on a gen-server's request channel and waits for
// the response, giving up if the server's finch closes at either step.
// Callers never block against a server that has already wound down.
func FailsafeOp(
	reqch, respch chan []interface{},
	cmd []interface{},
	finch chan bool) ([]interface{}, error) {

	select {
	case reqch <- cmd:
		if respch != nil {
			select {
			case resp := <-respch:
				return resp, nil
			case <-finch:
				return nil, ErrorClosed
			}
		}
	case <-finch:
		return nil, ErrorClosed
	}
	return nil, nil
}

// OpError unpacks the error slot of a gen-server response, folding in a
// transport failure from FailsafeOp itself.
func OpError(err error, vals []interface{}, idx int) error {
	if err != nil {
		return err
	} else if vals[idx] == nil {
		return nil
	}
	return vals[idx].(error)
}
