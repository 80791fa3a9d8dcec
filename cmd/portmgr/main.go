// portmgr CLI
//
// Declarative serial/socket protocol workbench: frames live byte
// streams, parses structured messages, builds outgoing frames, and
// records traffic.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/api"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/config"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/logger"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/script"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/session"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/telemetry"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport/serial"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport/tcp"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport/websocket"
)

var (
	version   = "1.0.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "portmgr",
		Short:   "Declarative serial/socket protocol workbench",
		Long:    "portmgr frames raw byte streams into messages, parses and builds\nstructured frames, and records everything a device says.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "log in JSON format")

	rootCmd.AddCommand(
		newListenCmd(),
		newSendCmd(),
		newPortsCmd(),
		newPresetsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newTransport builds a transport from its config.
func newTransport(cfg transport.Config) (transport.Transport, error) {
	switch cfg.Type {
	case "serial":
		return serial.New(cfg)
	case "tcp":
		return tcp.New(cfg)
	case "websocket":
		return websocket.New(cfg)
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
	}
}

// newEngine builds the configured script engine.
func newEngine(cfg config.ScriptConfig) (script.Engine, error) {
	switch cfg.Engine {
	case "", "js":
		return script.NewJSEngine(), nil
	case "lua":
		return script.NewLuaEngine(), nil
	default:
		return nil, fmt.Errorf("unknown script engine %q", cfg.Engine)
	}
}

// newSinks builds the telemetry fan-out from config. The capture
// store is returned separately for the API's replay endpoint.
func newSinks(cfg config.TelemetryConfig) (telemetry.Sink, *telemetry.CaptureStore, error) {
	var sinks []telemetry.Sink
	if cfg.Log {
		sinks = append(sinks, telemetry.NewLogSink(nil))
	}

	var captures *telemetry.CaptureStore
	if cfg.Capture != "" {
		store, err := telemetry.NewCaptureStore(cfg.Capture)
		if err != nil {
			return nil, nil, fmt.Errorf("open capture store: %w", err)
		}
		captures = store
		sinks = append(sinks, store)
	}
	if cfg.MQTT != nil {
		sink, err := telemetry.NewMQTTSink(*cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mqtt sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	return telemetry.NewMultiSink(sinks...), captures, nil
}

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Open the configured ports and record their traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen()
		},
	}
}

func runListen() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	logger.SetGlobal(log)

	engine, err := newEngine(cfg.Script)
	if err != nil {
		return err
	}
	defer engine.Close()

	sink, captures, err := newSinks(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer sink.Close()

	manager := session.NewManager(engine, sink, log)
	defer manager.CloseAll()

	ctx := context.Background()
	for _, port := range cfg.Ports {
		proto, err := port.CompileProtocol()
		if err != nil {
			return fmt.Errorf("port %s: %w", port.Name, err)
		}
		sess, err := manager.OpenWithID(port.Name, port.Name, proto)
		if err != nil {
			return fmt.Errorf("port %s: %w", port.Name, err)
		}

		trans, err := newTransport(port.Transport)
		if err != nil {
			return fmt.Errorf("port %s: %w", port.Name, err)
		}
		sess.AttachTransport(trans)
		if err := trans.Connect(ctx); err != nil {
			return fmt.Errorf("port %s: %w", port.Name, err)
		}
		log.Info("port open", "name", port.Name,
			"transport", port.Transport.Type, "address", port.Transport.Address)
	}

	var statusServer *api.Server
	if cfg.Metrics.Enabled {
		statusServer = api.NewServer(cfg.Metrics.Listen, manager, captures)
		if err := statusServer.Start(); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}

	fmt.Println("portmgr is running. Press Ctrl+C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusServer.Stop(shutdownCtx); err != nil {
			fmt.Printf("Error stopping status server: %v\n", err)
		}
	}
	return nil
}

func newSendCmd() *cobra.Command {
	var (
		transportType string
		address       string
		hexData       string
		text          string
		preset        string
		wait          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one frame and print what comes back",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			switch {
			case hexData != "":
				b, err := hex.DecodeString(strings.ReplaceAll(hexData, " ", ""))
				if err != nil {
					return fmt.Errorf("bad hex: %w", err)
				}
				data = b
			case text != "":
				data = []byte(text)
			default:
				return fmt.Errorf("one of --hex or --text is required")
			}
			return runSend(transportType, address, preset, data, wait)
		},
	}
	cmd.Flags().StringVar(&transportType, "type", "serial", "transport type (serial, tcp, websocket)")
	cmd.Flags().StringVar(&address, "address", "", "port path, host:port, or ws:// URL")
	cmd.Flags().StringVar(&hexData, "hex", "", "payload as hex")
	cmd.Flags().StringVar(&text, "text", "", "payload as text (CR/LF not appended)")
	cmd.Flags().StringVar(&preset, "preset", "", "protocol preset for framing the response")
	cmd.Flags().DurationVar(&wait, "wait", time.Second, "how long to wait for a response")
	cmd.MarkFlagRequired("address")
	return cmd
}

func runSend(transportType, address, presetName string, data []byte, wait time.Duration) error {
	proto := session.Protocol{}
	if presetName != "" {
		p, err := config.Preset(presetName)
		if err != nil {
			return err
		}
		proto, err = p.Compile()
		if err != nil {
			return err
		}
	} else {
		compiled, err := (&config.ProtocolConfig{}).Compile()
		if err != nil {
			return err
		}
		proto = compiled
	}

	engine, err := newEngine(config.ScriptConfig{})
	if err != nil {
		return err
	}
	defer engine.Close()

	frames := make(chan telemetry.Event, 16)
	manager := session.NewManager(engine, sinkFunc(func(ev telemetry.Event) error {
		frames <- ev
		return nil
	}), nil)
	defer manager.CloseAll()

	sess, err := manager.Open(address, proto)
	if err != nil {
		return err
	}

	trans, err := newTransport(transport.Config{Type: transportType, Address: address})
	if err != nil {
		return err
	}
	sess.AttachTransport(trans)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := trans.Connect(ctx); err != nil {
		return err
	}

	if _, err := sess.Send(ctx, data); err != nil {
		return err
	}

	deadline := time.After(wait)
	for {
		select {
		case ev := <-frames:
			if ev.Direction == "inbound" {
				fmt.Printf("<- %s  (% X)\n", printable(ev.Data), ev.Data)
			}
		case <-deadline:
			return nil
		}
	}
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("No serial ports found.")
				return nil
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List built-in protocol presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.PresetNames() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// sinkFunc adapts a function to the telemetry.Sink interface.
type sinkFunc func(telemetry.Event) error

func (f sinkFunc) Record(ev telemetry.Event) error { return f(ev) }
func (f sinkFunc) Close() error                    { return nil }

// printable renders frame bytes for terminal output.
func printable(b []byte) string {
	s := make([]rune, 0, len(b))
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			s = append(s, rune(c))
		} else {
			s = append(s, '.')
		}
	}
	return string(s)
}
