package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/gotadek/app"
	"github.com/mbocsi/gotadek/device"
	"github.com/mbocsi/gotadek/proto"
)

const defaultWait = 5 * time.Second

type deviceSummary struct {
	device.Config
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_devices",
		mcp.WithDescription("List the configured devices and their connection state"),
	), s.handleListDevices)

	s.mcpServer.AddTool(mcp.NewTool("connect_device",
		mcp.WithDescription("Connect to a configured device"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Device name")),
	), s.handleConnectDevice)

	s.mcpServer.AddTool(mcp.NewTool("disconnect_device",
		mcp.WithDescription("Disconnect from a device"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Device name")),
	), s.handleDisconnectDevice)

	s.mcpServer.AddTool(mcp.NewTool("request_device",
		mcp.WithDescription("Send a request to a connected device and wait for its response"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Device name")),
		mcp.WithString("operation",
			mcp.Required(),
			mcp.Description("Operation to perform"),
			mcp.Enum(proto.Operations()...),
		),
		mcp.WithObject("args", mcp.Description("Operation arguments, such as path, depth or text")),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait for the response; 0 returns the message id without waiting"),
		),
	), s.handleRequestDevice)

	s.mcpServer.AddTool(mcp.NewTool("get_response",
		mcp.WithDescription("Fetch the response to an earlier request. A response can be fetched once"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Device name")),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Message id returned by request_device")),
	), s.handleGetResponse)

	s.mcpServer.AddTool(mcp.NewTool("get_error",
		mcp.WithDescription("Get the last error reported for a device"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Device name")),
	), s.handleGetError)
}

func (s *Server) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices := s.app.Registry.List()
	out := make([]deviceSummary, 0, len(devices))
	for _, dev := range devices {
		summary := deviceSummary{Config: dev.Config(), Connected: dev.IsConnected()}
		if err := s.lastError(dev); err != nil {
			summary.Error = err.Error()
		}
		out = append(out, summary)
	}
	return jsonResult(out)
}

func (s *Server) handleConnectDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}
	if err := s.app.ConnectDevice(ctx, name); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Connected to %s", name)), nil
}

func (s *Server) handleDisconnectDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}
	if err := s.app.DisconnectDevice(name); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to disconnect: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Disconnected from %s", name)), nil
}

func (s *Server) handleRequestDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}
	op, err := request.RequireString("operation")
	if err != nil {
		return mcp.NewToolResultError("operation is required and must be a string"), nil
	}
	dev, err := s.app.Device(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req, err := proto.ParseRequest(op, toArgs(request.GetArguments()["args"]))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid request: %v", err)), nil
	}

	wait := time.Duration(request.GetFloat("timeout", s.waitTime.Seconds()) * float64(time.Second))
	var events chan app.Event
	if wait > 0 {
		events = make(chan app.Event, 16)
		token := s.app.Events.SubscribeChan(string(device.ResponseReceived), events)
		defer s.app.Events.Unsubscribe(token)
	}

	id, err := dev.Request(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Request failed: %v", err)), nil
	}
	if wait <= 0 {
		return jsonResult(map[string]proto.MsgID{"id": id})
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.Device != name || ev.ID != id {
				continue
			}
			msg, err := dev.GetResponse(id)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Response %d: %v", id, err)), nil
			}
			return messageResult(msg)
		case <-timer.C:
			return mcp.NewToolResultError(fmt.Sprintf("No response to %d within %s; fetch it later with get_response", id, wait)), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Server) handleGetResponse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}
	id, err := request.RequireFloat("id")
	if err != nil || proto.MsgID(id) <= proto.DefaultMsgID {
		return mcp.NewToolResultError("id is required and must be a positive number"), nil
	}
	dev, err := s.app.Device(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := dev.GetResponse(proto.MsgID(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Response %d: %v", int64(id), err)), nil
	}
	return messageResult(msg)
}

func (s *Server) handleGetError(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}
	dev, err := s.app.Device(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.lastError(dev); err != nil {
		return mcp.NewToolResultText(err.Error()), nil
	}
	return mcp.NewToolResultText("no error"), nil
}

func (s *Server) lastError(dev *device.Device) error {
	if err := dev.GetError(); err != nil {
		return err
	}
	return s.app.LastError(dev.Name())
}

// messageResult renders a response as the XML the device sent.
func messageResult(msg proto.Message) (*mcp.CallToolResult, error) {
	data, err := proto.EncodeMessage(msg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toArgs flattens a JSON object into request arguments.
func toArgs(v any) proto.Args {
	obj, ok := v.(map[string]any)
	if !ok {
		return proto.Args{}
	}
	args := make(proto.Args, len(obj))
	for key, value := range obj {
		switch value := value.(type) {
		case string:
			args[key] = value
		case []any:
			parts := make([]string, len(value))
			for i, part := range value {
				parts[i] = fmt.Sprint(part)
			}
			args[key] = strings.Join(parts, ",")
		default:
			args[key] = fmt.Sprint(value)
		}
	}
	return args
}
