package transport

import (
	"context"
	"errors"
	"time"
)

const DefaultConnectTimeout = 5 * time.Second

var ErrClosed = errors.New("transport is not connected")

type Metadata struct {
	Protocol string
	Address  string
}

// Transport moves terminator-delimited frames to and from one device.
// Frames passed to Send and returned by ReceiveFrame carry no terminator.
// A transport may be opened again after Close.
type Transport interface {
	Open(ctx context.Context) error
	Send(frame []byte) error
	ReceiveFrame() ([]byte, error)
	Close() error
	Meta() Metadata
}

// ConnectionError reports a failure to establish or use a connection.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return "connection error: " + e.Op + " " + e.Addr + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
