package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/chaz8081/blereader/internal/ble/hostradio"
	"github.com/chaz8081/blereader/internal/ble/simradio"
	"github.com/chaz8081/blereader/internal/config"
	"github.com/chaz8081/blereader/internal/hotkey"
	"github.com/chaz8081/blereader/internal/permission"
	"github.com/chaz8081/blereader/internal/sink"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/blereader/config.yaml)")
	backend := flag.String("backend", "", "radio backend: host or sim (overrides config)")
	address := flag.String("connect", "", "connect to this address as soon as it is discovered")
	name := flag.String("name", "", "connect to the first peripheral with this name")
	jsonOut := flag.Bool("json", false, "emit JSON lines on stdout instead of hex")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
		} else {
			log.Printf("Wrote default config to %s", path)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *address != "" {
		cfg.Connect.Address = *address
	}
	if *name != "" {
		cfg.Connect.Name = *name
	}
	if *jsonOut {
		cfg.Output.Method = "json"
		cfg.Output.Path = ""
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(os.Stderr, cfg)

	perms, err := permissionSource(cfg)
	if err != nil {
		log.Fatalf("Failed to set up permissions: %v", err)
	}
	if c, ok := perms.(io.Closer); ok {
		defer c.Close()
	}

	opts, err := cfg.ManagerOptions()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	radio, closeRadio := openRadio(cfg, opts.Target)
	defer closeRadio()

	mgr, err := ble.New(radio, perms, opts)
	if err != nil {
		log.Fatalf("Failed to create BLE manager: %v", err)
	}
	mgr.Start()
	defer mgr.Close()

	out, err := sink.New(cfg.Output.Method, cfg.Output.Path)
	if err != nil {
		log.Fatalf("Failed to open output: %v", err)
	}
	defer out.Close()
	log.Printf("Output ready (method: %s)", cfg.Output.Method)

	notes, cancelNotes := mgr.Subscribe(32)
	defer cancelNotes()
	payloads, cancelPayloads := mgr.Payload().Subscribe()
	defer cancelPayloads()
	statuses, cancelStatuses := mgr.StatusValue().Subscribe()
	defer cancelStatuses()

	var keys <-chan hotkey.Event
	var listener *hotkey.Listener
	if cfg.Hotkey.Enabled {
		listener = hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.DisconnectKeys, cfg.Hotkey.Mode)
		keys = listener.Events()
		go listener.Start()
		log.Printf("Hotkey listener ready (%s, mode: %s)", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if listener == nil {
		if err := mgr.StartScan(); err != nil {
			log.Printf("ERROR: failed to start scan: %v", err)
		}
	}
	log.Println("Ready! Ctrl+C to quit.")

	sel := selector{address: cfg.Connect.Address, name: cfg.Connect.Name}
	for {
		select {
		case n, ok := <-notes:
			if !ok {
				return
			}
			if err := out.WriteEvent(n); err != nil {
				slog.Warn("output failed", "error", err)
			}
			switch n.Kind {
			case ble.EventDeviceFound:
				if sel.matches(n.Peripheral) && !sel.tried {
					sel.tried = true
					p := n.Peripheral
					if err := mgr.Connect(&p); err != nil {
						log.Printf("ERROR: connect to %s: %v", p, err)
					}
				}
			case ble.EventScanStopped:
				if listener != nil {
					listener.SetScanning(false)
				}
			case ble.EventDeviceDisconnected:
				// Allow the next scan to pick the device up again.
				sel.tried = false
			}

		case p, ok := <-payloads:
			if !ok {
				return
			}
			if err := out.WritePayload(p); err != nil {
				slog.Warn("output failed", "error", err)
			}

		case st, ok := <-statuses:
			if !ok {
				return
			}
			if st.Err != nil {
				log.Printf("Status: %s", st)
				sel.tried = false
			}

		case ev, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			handleHotkey(mgr, ev)

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			if err := mgr.Close(); err != nil {
				log.Printf("ERROR: shutdown: %v", err)
			}
			out.Close()
			closeRadio()
			log.Println("Goodbye!")
			// Exit directly to avoid gohook's C cleanup crash.
			// The OS reclaims the event hook on process exit.
			os.Exit(0)
		}
	}
}

func handleHotkey(mgr *ble.Manager, ev hotkey.Event) {
	var err error
	switch ev.Action {
	case hotkey.ActionStartScan:
		err = mgr.StartScan()
	case hotkey.ActionStopScan:
		err = mgr.StopScan()
	case hotkey.ActionDisconnect:
		err = mgr.Disconnect()
	}
	if err != nil {
		log.Printf("ERROR: %s: %v", ev.Action, err)
	}
}

// selector decides which discovered peripheral to connect to. Address wins
// over name; with neither, the first discovered device is used.
type selector struct {
	address string
	name    string
	tried   bool
}

func (s selector) matches(p ble.Peripheral) bool {
	switch {
	case s.address != "":
		return strings.EqualFold(s.address, p.Address)
	case s.name != "":
		return s.name == p.Name
	default:
		return true
	}
}

// permissionSource returns the configured runtime permission source.
func permissionSource(cfg *config.Config) (permission.Source, error) {
	if cfg.Permissions.Source == "bluez" {
		src, err := permission.NewBlueZ()
		if err != nil {
			return nil, fmt.Errorf("connecting to BlueZ: %w", err)
		}
		log.Println("Permissions from BlueZ")
		return src, nil
	}
	snap, err := cfg.Permissions.Snapshot()
	if err != nil {
		return nil, err
	}
	return permission.NewStore(snap), nil
}

// openRadio returns the configured radio. A host adapter that cannot be
// enabled leaves the manager without a radio, so scans and connects report
// ErrRadioUnavailable instead of the process exiting.
func openRadio(cfg *config.Config, target ble.Target) (ble.Radio, func()) {
	if cfg.Backend == "sim" {
		r := simradio.New(simradio.DefaultOptions(target))
		log.Println("Simulated radio ready")
		return r, func() { _ = r.Close() }
	}

	r, err := hostradio.Open()
	if err != nil {
		log.Printf("WARNING: Bluetooth unavailable: %v", err)
		return nil, func() {}
	}
	log.Println("Host Bluetooth adapter ready")
	return r, func() { _ = r.Close() }
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults (run with -init to write one)")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "=== blereader ===")
	fmt.Fprintf(w, "  Backend:  %s\n", cfg.Backend)
	fmt.Fprintf(w, "  Service:  %s\n", cfg.Target.Service)
	fmt.Fprintf(w, "  Char:     %s\n", cfg.Target.Characteristic)
	fmt.Fprintf(w, "  Scan:     %s\n", cfg.Scan.Timeout)
	fmt.Fprintf(w, "  Poll:     %s\n", cfg.Poll.Interval)
	if cfg.Hotkey.Enabled {
		fmt.Fprintf(w, "  Hotkey:   %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	}
	fmt.Fprintf(w, "  Output:   %s\n", cfg.Output.Method)
	fmt.Fprintf(w, "  Log:      %s\n", cfg.LogLevel)
	fmt.Fprintln(w, "=================")
}
