package proto

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
)

// Terminator ends every frame on the wire. NUL cannot appear in an XML 1.0
// document, so it never occurs inside an encoded message.
const Terminator byte = 0x00

// MaxFrameSize bounds how much data may be buffered while looking for a
// terminator.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size without terminator")

// CodecError reports a frame that could not be translated to or from a
// Message. It is recoverable: the connection is dropped, the process is not.
type CodecError struct {
	Reason string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return "codec error: " + e.Reason + ": " + e.Err.Error()
	}
	return "codec error: " + e.Reason
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}

// EncodeRequest encodes a request for the named operation of the dispatch
// table. The returned frame carries no terminator.
func EncodeRequest(operation string, id MsgID, params []Param) ([]byte, error) {
	op, ok := operations[operation]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}
	if id <= DefaultMsgID {
		return nil, &CodecError{Reason: fmt.Sprintf("request id %d is reserved", id)}
	}
	return EncodeMessage(Message{
		Type:   TypeRequest,
		Target: op.target,
		Name:   op.name,
		ID:     uint64(id),
		Params: params,
	})
}

// EncodeMessage encodes any envelope. The returned frame carries no
// terminator.
func EncodeMessage(msg Message) ([]byte, error) {
	if err := validateEnvelope(msg); err != nil {
		return nil, err
	}
	data, err := xml.Marshal(msg)
	if err != nil {
		return nil, &CodecError{Reason: "marshal failed", Err: err}
	}
	return data, nil
}

// DecodeFrame parses one frame. A trailing terminator is tolerated.
func DecodeFrame(frame []byte) (Message, error) {
	frame = bytes.TrimSuffix(frame, []byte{Terminator})
	if len(bytes.TrimSpace(frame)) == 0 {
		return Message{}, &CodecError{Reason: "empty frame"}
	}
	var msg Message
	if err := xml.Unmarshal(frame, &msg); err != nil {
		return Message{}, &CodecError{Reason: "malformed frame", Err: err}
	}
	if err := validateEnvelope(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validateEnvelope(msg Message) error {
	if msg.Type == "" {
		return &CodecError{Reason: "missing message type"}
	}
	if !validTypes[msg.Type] {
		return &CodecError{Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
	if msg.ID > math.MaxInt64 {
		return &CodecError{Reason: fmt.Sprintf("message id %d out of range", msg.ID)}
	}
	if msg.Type == TypeError {
		return nil
	}
	if msg.Target == "" {
		return &CodecError{Reason: "missing message target"}
	}
	if msg.Name == "" {
		return &CodecError{Reason: "missing message name"}
	}
	return nil
}

// SplitFrames is a bufio.SplitFunc yielding terminator-delimited frames.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, Terminator); i >= 0 {
		return i + 1, data[:i], nil
	}
	if len(data) > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	if atEOF && len(bytes.TrimSpace(data)) > 0 {
		return 0, nil, fmt.Errorf("unterminated frame: %w", io.ErrUnexpectedEOF)
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// AppendTerminator returns frame followed by the terminator.
func AppendTerminator(frame []byte) []byte {
	out := make([]byte, len(frame)+1)
	copy(out, frame)
	out[len(frame)] = Terminator
	return out
}
