package simradio

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/chaz8081/blereader/internal/permission"
)

func fastOptions() Options {
	opts := DefaultOptions(ble.DefaultTarget())
	opts.Latency = time.Millisecond
	opts.AdvertiseEvery = 5 * time.Millisecond
	opts.Peripherals[0].NotifyEvery = 5 * time.Millisecond
	return opts
}

func newManager(t *testing.T, r *Radio) *ble.Manager {
	t.Helper()
	opts := ble.DefaultOptions()
	opts.DiscoveryDelay = 5 * time.Millisecond
	opts.PollInterval = 20 * time.Millisecond
	opts.ScanTimeout = time.Minute
	perms := permission.Fixed{
		Revision: permission.ScopedRevision,
		Granted:  permission.Set(0).With(permission.PermScan).With(permission.PermConnect),
	}
	m, err := ble.New(r, perms, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.Start()
	t.Cleanup(func() {
		_ = m.Close()
		_ = r.Close()
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCounter(t *testing.T) {
	got := Counter(ble.DefaultCharacteristicUUID, 258)
	if len(got) != 4 || binary.BigEndian.Uint32(got) != 258 {
		t.Errorf("Counter(258) = %v", got)
	}
}

func TestEndToEnd(t *testing.T) {
	r := New(fastOptions())
	m := newManager(t, r)

	if err := m.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	var found []ble.Peripheral
	waitFor(t, "advertisement", func() bool {
		found = m.Discovered()
		return len(found) > 0
	})
	if len(found) != 1 || found[0].Name != "DataReader-Sim" {
		t.Fatalf("Discovered() = %+v, want the simulated peripheral once", found)
	}

	if err := m.Connect(&found[0]); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "active", func() bool { return m.Status().State == ble.StateActive })
	waitFor(t, "subscribed", m.Subscribed)

	ch, cancel := m.Payload().Subscribe()
	defer cancel()
	seen := map[uint32]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case p := <-ch:
			if len(p.Data) == 4 {
				seen[binary.BigEndian.Uint32(p.Data)] = true
			}
		case <-deadline:
			t.Fatalf("payloads seen = %v, want at least 3 distinct values", seen)
		}
	}

	r.Drop(found[0].Address)
	waitFor(t, "failed after drop", func() bool { return m.Status().State == ble.StateFailed })
	if !errors.Is(m.Status().Err, ble.ErrHardwareFailure) {
		t.Errorf("Err = %v, want ErrHardwareFailure", m.Status().Err)
	}
	if m.Polling() {
		t.Error("Polling() = true after drop")
	}
}

func TestUnreachablePeripheral(t *testing.T) {
	opts := fastOptions()
	opts.Peripherals[0].Unreachable = true
	r := New(opts)
	m := newManager(t, r)

	p := opts.Peripherals[0].Info
	if err := m.Connect(&p); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "failed", func() bool { return m.Status().State == ble.StateFailed })
}

func TestDisconnectThenReconnect(t *testing.T) {
	r := New(fastOptions())
	m := newManager(t, r)
	p := ble.Peripheral{Address: "aa:bb:cc:dd:ee:ff", Name: "DataReader-Sim"}

	for i := 0; i < 2; i++ {
		if err := m.Connect(&p); err != nil {
			t.Fatalf("Connect() #%d error = %v", i, err)
		}
		waitFor(t, "active", func() bool { return m.Status().State == ble.StateActive })
		if err := m.Disconnect(); err != nil {
			t.Fatalf("Disconnect() #%d error = %v", i, err)
		}
		if st := m.Status().State; st != ble.StateDisconnected {
			t.Fatalf("state after Disconnect() = %v", st)
		}
	}
}

func TestStartScanTwice(t *testing.T) {
	r := New(fastOptions())
	defer r.Close()
	if err := r.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	if err := r.StartScan(); err == nil {
		t.Error("second StartScan() should fail")
	}
	if err := r.StopScan(); err != nil {
		t.Errorf("StopScan() error = %v", err)
	}
	if err := r.StopScan(); err != nil {
		t.Errorf("second StopScan() error = %v", err)
	}
}
