package client

import (
	"errors"
	"fmt"

	"github.com/mbocsi/gotadek/proto"
)

var (
	ErrNoResponse   = errors.New("no response available")
	ErrNotConnected = errors.New("client is not connected")
	ErrDuplicateID  = errors.New("request id already pending")
)

// Error wraps any failure to build or transmit a request other than the
// client being disconnected.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("client error: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConnectionLostError reports a connection that broke without being closed
// locally. Pending requests were discarded.
type ConnectionLostError struct {
	Addr string
	Err  error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection to %s lost: %v", e.Addr, e.Err)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

// RemoteError is an error frame sent by the device.
type RemoteError struct {
	ID      proto.MsgID
	Message string
}

func (e *RemoteError) Error() string {
	if e.ID > proto.DefaultMsgID {
		return fmt.Sprintf("device error for request %d: %s", e.ID, e.Message)
	}
	return "device error: " + e.Message
}

func IsConnectionLost(err error) bool {
	var cl *ConnectionLostError
	return errors.As(err, &cl)
}

func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
