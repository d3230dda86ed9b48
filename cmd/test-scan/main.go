// Command test-scan is a manual test for BLE discovery.
// It scans for the given duration and prints every peripheral found.
//
// Usage:
//
//	go run ./cmd/test-scan [--backend host|sim] [--duration 10s] [--all]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/chaz8081/blereader/internal/ble/hostradio"
	"github.com/chaz8081/blereader/internal/ble/simradio"
	"github.com/chaz8081/blereader/internal/permission"
)

func main() {
	backend := flag.String("backend", "host", "radio backend: host or sim")
	duration := flag.Duration("duration", 10*time.Second, "how long to scan")
	all := flag.Bool("all", false, "include peripherals without a name")
	flag.Parse()

	var radio ble.Radio
	switch *backend {
	case "sim":
		r := simradio.New(simradio.DefaultOptions(ble.DefaultTarget()))
		defer r.Close()
		radio = r
	default:
		r, err := hostradio.Open()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()
		radio = r
	}

	opts := ble.DefaultOptions()
	opts.ScanTimeout = *duration
	opts.IncludeUnnamed = *all
	perms := permission.Fixed{
		Revision: permission.ScopedRevision,
		Granted:  permission.Set(0).With(permission.PermScan).With(permission.PermConnect),
	}
	mgr, err := ble.New(radio, perms, opts)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	mgr.Start()
	defer mgr.Close()

	events, cancel := mgr.Subscribe(32)
	defer cancel()

	fmt.Printf("Scanning for %s...\n", *duration)
	if err := mgr.StartScan(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	for n := range events {
		switch n.Kind {
		case ble.EventDeviceFound:
			fmt.Printf("  %-40s RSSI %d\n", n.Peripheral, n.Peripheral.RSSI)
		case ble.EventScanStopped:
			fmt.Printf("\nDone! %d peripheral(s) found.\n", len(mgr.Discovered()))
			return
		}
	}
}
