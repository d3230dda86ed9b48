// Command test-sink is a manual test for payload output.
// It waits 3 seconds, then writes a sample payload through the chosen
// sink. For type and paste, focus a text editor before the countdown
// finishes.
//
// Usage:
//
//	go run ./cmd/test-sink [--method print|json|type|paste]
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/chaz8081/blereader/internal/sink"
)

func main() {
	method := flag.String("method", "type", "output method: print, json, type or paste")
	flag.Parse()

	payload := ble.Payload{Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}, At: time.Now()}

	fmt.Printf("Will write %s using %q method in 3 seconds...\n", sink.Hex(payload.Data), *method)
	if *method == "type" || *method == "paste" {
		fmt.Println("Focus a text editor now!")
	}

	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	out, err := sink.New(*method, "")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer out.Close()

	if err := out.WritePayload(payload); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nDone!")
}
