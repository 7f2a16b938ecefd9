package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mbocsi/gotadek/app"
	"github.com/mbocsi/gotadek/device"
	"github.com/mbocsi/gotadek/discovery"
	"github.com/mbocsi/gotadek/mcp"
	"github.com/mbocsi/gotadek/proto"
	"github.com/mbocsi/gotadek/server"
	"github.com/mbocsi/gotadek/web"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and MCP server over the configured devices",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage the device list",
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured devices",
	Args:  cobra.NoArgs,
	RunE:  runDevicesList,
}

var devicesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesAdd,
}

var devicesRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesRemove,
}

var requestCmd = &cobra.Command{
	Use:   "request <device> <operation> [key=value...]",
	Short: "Send one request to a device and print the response",
	Long: "Send one request to a device and print the response.\n\nOperations: " +
		strings.Join(proto.Operations(), ", "),
	Args: cobra.MinimumNArgs(2),
	RunE: runRequest,
}

var dumpCmd = &cobra.Command{
	Use:   "dump <device> <file>",
	Short: "Save a device's accessibility tree for offline replay",
	Args:  cobra.ExactArgs(2),
	RunE:  runDump,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find devices advertised over mDNS",
	Args:  cobra.NoArgs,
	RunE:  runDiscover,
}

var stubCmd = &cobra.Command{
	Use:   "stub <dump.xml>",
	Short: "Serve a dump as a stand-in device",
	Args:  cobra.ExactArgs(1),
	RunE:  runStub,
}

func init() {
	serveCmd.Flags().String("http-addr", ":8080", "HTTP API address (empty to disable)")
	serveCmd.Flags().Bool("mcp", false, "Serve MCP over stdio")
	serveCmd.Flags().String("mcp-sse-addr", "", "Serve MCP over SSE at this address")
	for _, name := range []string{"http-addr", "mcp", "mcp-sse-addr"} {
		_ = viper.BindPFlag(name, serveCmd.Flags().Lookup(name))
	}

	devicesAddCmd.Flags().String("address", "", "Device host")
	devicesAddCmd.Flags().Int("port", device.DefaultPort, "Device port")
	devicesAddCmd.Flags().String("protocol", device.ProtocolTCP, "tcp, ws or offline")
	devicesAddCmd.Flags().String("file", "", "Dump file of an offline device")
	devicesAddCmd.Flags().String("description", "", "Free-form description")
	devicesAddCmd.Flags().StringSlice("param", nil, "Extra key=value parameters")
	devicesAddCmd.Flags().Bool("autoconnect", false, "Connect when the server starts")
	devicesCmd.AddCommand(devicesListCmd, devicesAddCmd, devicesRemoveCmd)

	requestCmd.Flags().Duration("wait", 10*time.Second, "How long to wait for the response")

	dumpCmd.Flags().String("path", "/", "Accessible to dump")
	dumpCmd.Flags().Int("depth", -1, "Levels of children to include (-1 for all)")
	dumpCmd.Flags().Duration("wait", 30*time.Second, "How long to wait for the tree")

	discoverCmd.Flags().Duration("wait", 3*time.Second, "How long to listen for answers")
	discoverCmd.Flags().Bool("add", false, "Add discovered devices to the device list")

	stubCmd.Flags().String("tcp-addr", fmt.Sprintf(":%d", device.DefaultPort), "TCP address (empty to disable)")
	stubCmd.Flags().String("ws-addr", "", "WebSocket address")
	stubCmd.Flags().Bool("mutable", false, "Apply set and do requests to the served tree")
	stubCmd.Flags().Bool("advertise", false, "Announce the stub over mDNS")
	stubCmd.Flags().String("name", "", "mDNS instance name")
	for _, name := range []string{"tcp-addr", "ws-addr", "mutable", "advertise", "name"} {
		_ = viper.BindPFlag("stub-"+name, stubCmd.Flags().Lookup(name))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	var services []app.Service
	if addr := viper.GetString("http-addr"); addr != "" {
		services = append(services, web.NewServer(addr, a))
	}
	if viper.GetBool("mcp") || viper.GetString("mcp-sse-addr") != "" {
		s := mcp.NewServer(a)
		s.SSEAddr = viper.GetString("mcp-sse-addr")
		services = append(services, s)
	}

	ctx, stop := signalContext()
	defer stop()

	go func() {
		if err := a.FirstRun(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "Autoconnect:", err)
		}
	}()
	return a.Start(ctx, services...)
}

func runDevicesList(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROTOCOL\tENDPOINT\tAUTOCONNECT\tDESCRIPTION")
	for _, cfg := range a.Registry.Configs() {
		protocol := cfg.Protocol
		if protocol == "" {
			protocol = device.ProtocolTCP
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", cfg.Name, protocol, cfg.Endpoint(), cfg.Autoconnect(), cfg.Description)
	}
	return w.Flush()
}

func runDevicesAdd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	cfg := device.Config{Name: args[0]}
	cfg.Address, _ = flags.GetString("address")
	cfg.Port, _ = flags.GetInt("port")
	cfg.Protocol, _ = flags.GetString("protocol")
	cfg.File, _ = flags.GetString("file")
	cfg.Description, _ = flags.GetString("description")

	params, _ := flags.GetStringSlice("param")
	parsed, err := parseArgs(params)
	if err != nil {
		return err
	}
	if autoconnect, _ := flags.GetBool("autoconnect"); autoconnect {
		parsed["autoconnect"] = "true"
	}
	if len(parsed) > 0 {
		cfg.Params = parsed
	}
	if cfg.Protocol == device.ProtocolOffline {
		cfg.Address, cfg.Port = "", 0
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if _, err := a.AddDevice(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", cfg.Name, cfg.Endpoint())
	return nil
}

func runDevicesRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.RemoveDevice(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}

func runRequest(cmd *cobra.Command, args []string) error {
	reqArgs, err := parseArgs(args[2:])
	if err != nil {
		return err
	}
	req, err := proto.ParseRequest(args[1], reqArgs)
	if err != nil {
		return err
	}
	wait, _ := cmd.Flags().GetDuration("wait")

	return withDevice(args[0], func(ctx context.Context, dev *device.Device) error {
		ctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		msg, err := await(ctx, dev, req)
		if err != nil {
			return err
		}
		frame, err := proto.EncodeMessage(msg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(frame))
		return nil
	})
}

func runDump(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	depth, _ := cmd.Flags().GetInt("depth")
	wait, _ := cmd.Flags().GetDuration("wait")
	req, err := proto.ParseRequest(proto.OpAccessible, proto.Args{
		"path":  path,
		"depth": fmt.Sprint(depth),
		"all":   "true",
	})
	if err != nil {
		return err
	}

	return withDevice(args[0], func(ctx context.Context, dev *device.Device) error {
		ctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		msg, err := await(ctx, dev, req)
		if err != nil {
			return err
		}
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		if err := dev.Dump(f, msg); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", dev.Name(), args[1])
		return nil
	})
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	wait, _ := cmd.Flags().GetDuration("wait")
	add, _ := cmd.Flags().GetBool("add")

	entries, err := discovery.DiscoverAll(wait)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROTOCOL\tADDRESS\tPORT\tHOST")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.Name, e.Protocol, e.Address, e.Port, e.Host)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !add || len(entries) == 0 {
		return nil
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if _, err := a.AddDevice(e.Config()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runStub(cmd *cobra.Command, args []string) error {
	stub, err := server.NewStub(server.StubOptions{
		Dump:      args[0],
		Mutable:   viper.GetBool("stub-mutable"),
		TCPAddr:   viper.GetString("stub-tcp-addr"),
		WSAddr:    viper.GetString("stub-ws-addr"),
		Advertise: viper.GetBool("stub-advertise"),
		Name:      viper.GetString("stub-name"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	done := make(chan error, 1)
	go func() { done <- stub.Start() }()

	select {
	case err := <-done:
		stub.Shutdown()
		return err
	case <-ctx.Done():
	}
	if err := stub.Shutdown(); err != nil {
		return err
	}
	return <-done
}

// withDevice connects the named device for the duration of fn.
func withDevice(name string, fn func(context.Context, *device.Device) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.Loop.Run(loopCtx)

	connectCtx, cancelConnect := context.WithTimeout(ctx, connectTimeout())
	defer cancelConnect()
	if err := a.ConnectDevice(connectCtx, name); err != nil {
		return err
	}
	dev, err := a.Device(name)
	if err != nil {
		return err
	}
	defer dev.DisconnectDevice()
	return fn(ctx, dev)
}

// await sends req and waits for its response or for the device to fail.
func await(ctx context.Context, dev *device.Device, req proto.Request) (proto.Message, error) {
	events := make(chan device.Event, 16)
	token := dev.Observe(device.ObserverFunc(func(ev device.Event) {
		select {
		case events <- ev:
		default:
		}
	}))
	defer dev.Unsubscribe(token)

	id, err := dev.Request(req)
	if err != nil {
		return proto.Message{}, err
	}
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case device.ResponseReceived:
				if ev.ID == id {
					return dev.GetResponse(id)
				}
			case device.ErrorOccurred:
				if err := dev.GetError(); err != nil {
					return proto.Message{}, err
				}
				return proto.Message{}, errors.New(ev.Error)
			case device.Disconnected:
				return proto.Message{}, fmt.Errorf("%s disconnected before answering", dev.Name())
			}
		case <-ctx.Done():
			return proto.Message{}, fmt.Errorf("waiting for response %d: %w", id, ctx.Err())
		}
	}
}

// parseArgs turns key=value words into request arguments.
func parseArgs(words []string) (proto.Args, error) {
	args := make(proto.Args, len(words))
	for _, word := range words {
		key, value, ok := strings.Cut(word, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", word)
		}
		args[key] = value
	}
	return args, nil
}
