package proto

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrUnknownOperation = errors.New("unknown operation")

const (
	OpAccessible    = "requestAccessible"
	OpSetAccessible = "requestSetAccessible"
	OpDoAccessible  = "requestDoAccessible"
	OpMouseEvent    = "requestMouseEvent"
	OpKeyboardEvent = "requestKeyboardEvent"
	OpSystemExec    = "requestSystemExec"
	OpSystemInfo    = "requestSystemInfo"
)

// Args carries untyped request arguments, as received from a CLI, HTTP or
// MCP caller.
type Args map[string]string

// Request is a typed request of the dispatch table.
type Request interface {
	Operation() string
	Params() []Param
}

type operation struct {
	target string
	name   string
	parse  func(Args) (Request, error)
}

var operations = map[string]operation{
	OpAccessible:    {TargetAccessibility, NameGet, parseAccessible},
	OpSetAccessible: {TargetAccessibility, NameSet, parseSetAccessible},
	OpDoAccessible:  {TargetAccessibility, NameDo, parseDoAccessible},
	OpMouseEvent:    {TargetInput, NameMouse, parseMouseEvent},
	OpKeyboardEvent: {TargetInput, NameKeyboard, parseKeyboardEvent},
	OpSystemExec:    {TargetSystem, NameExec, parseSystemExec},
	OpSystemInfo:    {TargetSystem, NameInfo, func(Args) (Request, error) { return SystemInfoRequest{}, nil }},
}

// Operations lists the operation names of the dispatch table.
func Operations() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseRequest builds the typed request for an operation name.
func ParseRequest(op string, args Args) (Request, error) {
	o, ok := operations[op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	if args == nil {
		args = Args{}
	}
	return o.parse(args)
}

// OperationOf maps a decoded envelope back to its operation name.
func OperationOf(msg Message) (string, bool) {
	for name, o := range operations {
		if o.target == msg.Target && o.name == msg.Name {
			return name, true
		}
	}
	return "", false
}

// RequestFromMessage rebuilds the typed request carried by a request frame.
func RequestFromMessage(msg Message) (Request, error) {
	op, ok := OperationOf(msg)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownOperation, msg.Target, msg.Name)
	}
	args := make(Args, len(msg.Params))
	for _, p := range msg.Params {
		args[p.Name] = p.Value
	}
	return ParseRequest(op, args)
}

type AccessibleRequest struct {
	Path  Path
	Depth int // 0: the node only, -1: whole subtree
	All   bool
}

func (r AccessibleRequest) Operation() string { return OpAccessible }

func (r AccessibleRequest) Params() []Param {
	return []Param{
		{Name: "path", Value: r.Path.String()},
		{Name: "depth", Value: strconv.Itoa(r.Depth)},
		{Name: "all", Value: strconv.FormatBool(r.All)},
	}
}

type SetAccessibleRequest struct {
	Path  Path
	Text  *string
	Value *float64
}

func (r SetAccessibleRequest) Operation() string { return OpSetAccessible }

func (r SetAccessibleRequest) Params() []Param {
	params := []Param{{Name: "path", Value: r.Path.String()}}
	if r.Text != nil {
		params = append(params, Param{Name: "text", Value: *r.Text})
	}
	if r.Value != nil {
		params = append(params, Param{Name: "value", Value: strconv.FormatFloat(*r.Value, 'g', -1, 64)})
	}
	return params
}

type DoAccessibleRequest struct {
	Path   Path
	Action string
}

func (r DoAccessibleRequest) Operation() string { return OpDoAccessible }

func (r DoAccessibleRequest) Params() []Param {
	return []Param{
		{Name: "path", Value: r.Path.String()},
		{Name: "action", Value: r.Action},
	}
}

var (
	mouseButtons = map[string]bool{"LEFT": true, "MIDDLE": true, "RIGHT": true}
	mouseEvents  = map[string]bool{
		"CLICK":           true,
		"DOUBLE_CLICK":    true,
		"PRESS":           true,
		"RELEASE":         true,
		"ABSOLUTE_MOTION": true,
		"RELATIVE_MOTION": true,
	}
)

type MouseEventRequest struct {
	Path   Path
	X, Y   int
	Button string
	Event  string
}

func (r MouseEventRequest) Operation() string { return OpMouseEvent }

func (r MouseEventRequest) Params() []Param {
	return []Param{
		{Name: "path", Value: r.Path.String()},
		{Name: "x", Value: strconv.Itoa(r.X)},
		{Name: "y", Value: strconv.Itoa(r.Y)},
		{Name: "button", Value: r.Button},
		{Name: "event", Value: r.Event},
	}
}

type KeyboardEventRequest struct {
	Path      Path
	KeyCode   int
	Modifiers []int
}

func (r KeyboardEventRequest) Operation() string { return OpKeyboardEvent }

func (r KeyboardEventRequest) Params() []Param {
	mods := make([]string, len(r.Modifiers))
	for i, m := range r.Modifiers {
		mods[i] = strconv.Itoa(m)
	}
	return []Param{
		{Name: "path", Value: r.Path.String()},
		{Name: "keycode", Value: strconv.Itoa(r.KeyCode)},
		{Name: "modifiers", Value: strings.Join(mods, ",")},
	}
}

type SystemExecRequest struct {
	Command string
	Wait    bool
}

func (r SystemExecRequest) Operation() string { return OpSystemExec }

func (r SystemExecRequest) Params() []Param {
	return []Param{
		{Name: "command", Value: r.Command},
		{Name: "wait", Value: strconv.FormatBool(r.Wait)},
	}
}

type SystemInfoRequest struct{}

func (SystemInfoRequest) Operation() string { return OpSystemInfo }
func (SystemInfoRequest) Params() []Param   { return nil }

func parseAccessible(args Args) (Request, error) {
	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	depth, err := optionalInt(args, "depth", 0)
	if err != nil {
		return nil, err
	}
	all, err := optionalBool(args, "all", false)
	if err != nil {
		return nil, err
	}
	return AccessibleRequest{Path: path, Depth: depth, All: all}, nil
}

func parseSetAccessible(args Args) (Request, error) {
	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	req := SetAccessibleRequest{Path: path}
	if text, ok := args["text"]; ok {
		req.Text = &text
	}
	if raw, ok := args["value"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", raw, err)
		}
		req.Value = &v
	}
	if req.Text == nil && req.Value == nil {
		return nil, errors.New("requestSetAccessible needs text or value")
	}
	return req, nil
}

func parseDoAccessible(args Args) (Request, error) {
	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	action := args["action"]
	if action == "" {
		return nil, errors.New("action is required")
	}
	return DoAccessibleRequest{Path: path, Action: action}, nil
}

func parseMouseEvent(args Args) (Request, error) {
	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	x, err := optionalInt(args, "x", 0)
	if err != nil {
		return nil, err
	}
	y, err := optionalInt(args, "y", 0)
	if err != nil {
		return nil, err
	}
	button := strings.ToUpper(args["button"])
	if button == "" {
		button = "LEFT"
	}
	if !mouseButtons[button] {
		return nil, fmt.Errorf("invalid mouse button %q", args["button"])
	}
	event := strings.ToUpper(args["event"])
	if event == "" {
		event = "CLICK"
	}
	if !mouseEvents[event] {
		return nil, fmt.Errorf("invalid mouse event %q", args["event"])
	}
	return MouseEventRequest{Path: path, X: x, Y: y, Button: button, Event: event}, nil
}

func parseKeyboardEvent(args Args) (Request, error) {
	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	raw, ok := args["keycode"]
	if !ok {
		return nil, errors.New("keycode is required")
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid keycode %q: %w", raw, err)
	}
	req := KeyboardEventRequest{Path: path, KeyCode: code}
	if mods := strings.TrimSpace(args["modifiers"]); mods != "" {
		for _, m := range strings.Split(mods, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(m))
			if err != nil {
				return nil, fmt.Errorf("invalid modifier %q: %w", m, err)
			}
			req.Modifiers = append(req.Modifiers, n)
		}
	}
	return req, nil
}

func parseSystemExec(args Args) (Request, error) {
	command := args["command"]
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command is required")
	}
	wait, err := optionalBool(args, "wait", true)
	if err != nil {
		return nil, err
	}
	return SystemExecRequest{Command: command, Wait: wait}, nil
}

func requirePath(args Args) (Path, error) {
	raw, ok := args["path"]
	if !ok {
		return nil, errors.New("path is required")
	}
	return ParsePath(raw)
}

func optionalInt(args Args, name string, def int) (int, error) {
	raw, ok := args[name]
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return n, nil
}

func optionalBool(args Args, name string, def bool) (bool, error) {
	raw, ok := args[name]
	if !ok || raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return b, nil
}
