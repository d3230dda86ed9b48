// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press Ctrl+Shift+S (scan) or Ctrl+Shift+D (disconnect)
// to see events. Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode hold|toggle]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/blereader/internal/hotkey"
)

func main() {
	mode := flag.String("mode", "toggle", "hotkey mode: hold or toggle")
	flag.Parse()

	keys := []string{"ctrl", "shift", "s"}
	disconnect := []string{"ctrl", "shift", "d"}
	fmt.Printf("Listening for Ctrl+Shift+S in %q mode, Ctrl+Shift+D to disconnect...\n", *mode)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(keys, disconnect, *mode)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			switch ev.Action {
			case hotkey.ActionStartScan:
				fmt.Println(">>> START (scanning)")
			case hotkey.ActionStopScan:
				fmt.Println("<<< STOP  (scan stopped)")
			case hotkey.ActionDisconnect:
				fmt.Println("xxx DISCONNECT")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
