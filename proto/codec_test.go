package proto

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeRequest_RoundTrip(t *testing.T) {
	params := AccessibleRequest{Path: Path{0, 2, 1}, Depth: -1, All: true}.Params()

	frame, err := EncodeRequest(OpAccessible, 42, params)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if bytes.IndexByte(frame, Terminator) >= 0 {
		t.Error("Expected encoded frame to carry no terminator")
	}

	msg, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}

	op, ok := OperationOf(msg)
	if !ok || op != OpAccessible {
		t.Errorf("Expected operation %s, got %q", OpAccessible, op)
	}
	if msg.Type != TypeRequest {
		t.Errorf("Expected type %s, got %s", TypeRequest, msg.Type)
	}
	if msg.MsgID() != 42 {
		t.Errorf("Expected id 42, got %d", msg.MsgID())
	}
	if len(msg.Params) != len(params) {
		t.Fatalf("Expected %d params, got %d", len(params), len(msg.Params))
	}
	for i, p := range params {
		if msg.Params[i] != p {
			t.Errorf("Expected param %d to be %+v, got %+v", i, p, msg.Params[i])
		}
	}

	req, err := RequestFromMessage(msg)
	if err != nil {
		t.Fatalf("Failed to rebuild request: %v", err)
	}
	acc, ok := req.(AccessibleRequest)
	if !ok {
		t.Fatalf("Expected AccessibleRequest, got %T", req)
	}
	if !acc.Path.Equal(Path{0, 2, 1}) || acc.Depth != -1 || !acc.All {
		t.Errorf("Unexpected rebuilt request: %+v", acc)
	}
}

func TestEncodeRequest_ReservedID(t *testing.T) {
	if _, err := EncodeRequest(OpSystemInfo, DefaultMsgID, nil); !IsCodecError(err) {
		t.Errorf("Expected codec error for default id, got %v", err)
	}
	if _, err := EncodeRequest(OpSystemInfo, ErrorMsgID, nil); !IsCodecError(err) {
		t.Errorf("Expected codec error for error id, got %v", err)
	}
}

func TestEncodeRequest_UnknownOperation(t *testing.T) {
	_, err := EncodeRequest("requestNothing", 1, nil)
	if !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("Expected ErrUnknownOperation, got %v", err)
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	frames := []string{
		"",
		"<message type=\"response\"",
		"<message target=\"system\" name=\"info\" id=\"1\"/>",
		"<message type=\"bogus\" target=\"system\" name=\"info\" id=\"1\"/>",
		"<message type=\"response\" name=\"info\" id=\"1\"/>",
		"<message type=\"response\" target=\"system\" id=\"1\"/>",
		"<message type=\"response\" target=\"system\" name=\"info\" id=\"-4\"/>",
		"<message type=\"response\" target=\"system\" name=\"info\" id=\"18446744073709551615\"/>",
		"<message type=\"error\" id=\"9223372036854775808\"><error>x</error></message>",
	}
	for _, f := range frames {
		_, err := DecodeFrame([]byte(f))
		if !IsCodecError(err) {
			t.Errorf("Expected codec error for %q, got %v", f, err)
		}
	}
}

func TestDecodeFrame_ErrorFrame(t *testing.T) {
	frame := AppendTerminator([]byte(`<message type="error" id="7"><error>device busy</error></message>`))

	msg, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("Expected error type, got %s", msg.Type)
	}
	if msg.Error != "device busy" {
		t.Errorf("Expected error text 'device busy', got %q", msg.Error)
	}
}

func TestDecodeFrame_ResponseWithAccessible(t *testing.T) {
	text := "hello"
	value := 2.5
	resp := NewResponse(Message{Target: TargetAccessibility, Name: NameGet, ID: 3}, true)
	resp.Accessible = &Accessible{
		Path:    Path{0},
		Index:   0,
		Name:    "frame",
		Role:    "FRAME",
		Count:   1,
		States:  []string{"ENABLED", "VISIBLE"},
		Actions: []string{"activate"},
		Text:    &text,
		Value:   &value,
		Size:    &Size{Width: 640, Height: 480},
		Relations: []Relation{
			{Type: "LABELLED_BY", Targets: []Path{{0, 0}}},
		},
		Children: []Accessible{{Path: Path{0, 0}, Index: 0, Name: "label", Role: "LABEL"}},
	}

	data, err := EncodeMessage(resp)
	if err != nil {
		t.Fatalf("Failed to encode response: %v", err)
	}
	msg, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !msg.Status {
		t.Error("Expected status true")
	}
	acc := msg.Accessible
	if acc == nil {
		t.Fatal("Expected accessible payload")
	}
	if acc.Name != "frame" || acc.Role != "FRAME" || acc.Count != 1 {
		t.Errorf("Unexpected accessible identity: %+v", acc)
	}
	if acc.Text == nil || *acc.Text != "hello" {
		t.Errorf("Expected text 'hello', got %v", acc.Text)
	}
	if acc.Value == nil || *acc.Value != 2.5 {
		t.Errorf("Expected value 2.5, got %v", acc.Value)
	}
	if acc.Size == nil || acc.Size.Width != 640 {
		t.Errorf("Expected size 640x480, got %v", acc.Size)
	}
	if len(acc.Relations) != 1 || !acc.Relations[0].Targets[0].Equal(Path{0, 0}) {
		t.Errorf("Unexpected relations: %+v", acc.Relations)
	}
	if len(acc.Children) != 1 || !acc.Children[0].Path.Equal(Path{0, 0}) {
		t.Errorf("Unexpected children: %+v", acc.Children)
	}
	if err := acc.Validate(); err != nil {
		t.Errorf("Expected decoded accessible to be valid, got %v", err)
	}
}

func TestSplitFrames(t *testing.T) {
	input := "<a/>\x00<b/>\x00"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(SplitFrames)

	var frames []string
	for scanner.Scan() {
		frames = append(frames, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Expected no scan error, got %v", err)
	}
	if len(frames) != 2 || frames[0] != "<a/>" || frames[1] != "<b/>" {
		t.Errorf("Expected frames [<a/> <b/>], got %v", frames)
	}
}

func TestSplitFrames_Unterminated(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("<a/>\x00<b/>"))
	scanner.Split(SplitFrames)

	count := 0
	for scanner.Scan() {
		count++
	}
	if count != 1 {
		t.Errorf("Expected 1 complete frame, got %d", count)
	}
	if !errors.Is(scanner.Err(), io.ErrUnexpectedEOF) {
		t.Errorf("Expected unexpected EOF, got %v", scanner.Err())
	}
}

func TestSplitFrames_TooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("x"), MaxFrameSize+1)
	_, _, err := SplitFrames(big, false)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}
