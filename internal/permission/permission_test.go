package permission

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

func TestCanPerform(t *testing.T) {
	all := Set(0).With(PermScan).With(PermConnect).With(PermFineLocation)

	tests := []struct {
		name string
		op   Operation
		snap Snapshot
		want bool
	}{
		{"scoped scan granted", Scan, Snapshot{Revision: 31, Granted: Set(0).With(PermScan)}, true},
		{"scoped scan needs scan not location", Scan, Snapshot{Revision: 31, Granted: Set(0).With(PermFineLocation)}, false},
		{"legacy scan needs location", Scan, Snapshot{Revision: 30, Granted: Set(0).With(PermScan)}, false},
		{"legacy scan with location", Scan, Snapshot{Revision: 30, Granted: Set(0).With(PermFineLocation)}, true},
		{"scoped connect denied", Connect, Snapshot{Revision: 33, Granted: Set(0).With(PermScan)}, false},
		{"scoped connect granted", Connect, Snapshot{Revision: 33, Granted: Set(0).With(PermConnect)}, true},
		{"scoped read follows connect", Read, Snapshot{Revision: 31}, false},
		{"scoped write follows connect", Write, Snapshot{Revision: 31, Granted: Set(0).With(PermConnect)}, true},
		{"legacy connect needs nothing", Connect, Snapshot{Revision: 23}, true},
		{"legacy read needs nothing", Read, Snapshot{Revision: 23}, true},
		{"unknown operation", Operation(42), Snapshot{Revision: 31, Granted: all}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanPerform(tt.op, tt.snap); got != tt.want {
				t.Errorf("CanPerform(%v, %+v) = %v, want %v", tt.op, tt.snap, got, tt.want)
			}
		})
	}
}

func TestParsePermission(t *testing.T) {
	tests := []struct {
		input   string
		want    Permission
		wantErr bool
	}{
		{"scan", PermScan, false},
		{"CONNECT", PermConnect, false},
		{" fine_location ", PermFineLocation, false},
		{"location", PermFineLocation, false},
		{"admin", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePermission(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePermission(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePermission(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStoreGrantRevoke(t *testing.T) {
	s := NewStore(Snapshot{Revision: ScopedRevision})
	if CanPerform(Connect, s.Snapshot()) {
		t.Fatal("Connect should be denied before grant")
	}

	s.Grant(PermConnect)
	if !CanPerform(Connect, s.Snapshot()) {
		t.Fatal("Connect should be allowed after grant")
	}

	s.Revoke(PermConnect)
	if CanPerform(Connect, s.Snapshot()) {
		t.Fatal("Connect should be denied after revoke")
	}

	s.SetRevision(29)
	if !CanPerform(Connect, s.Snapshot()) {
		t.Error("Connect should need no permission on a legacy revision")
	}
}

func TestFixedSource(t *testing.T) {
	src := Fixed{Revision: 31, Granted: Set(0).With(PermScan)}
	snap := src.Snapshot()
	if !snap.Granted.Has(PermScan) || snap.Granted.Has(PermConnect) {
		t.Errorf("Fixed snapshot granted = %08b, want scan only", snap.Granted)
	}
}

func TestSnapshotFromObjects(t *testing.T) {
	withAdapter := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez": {"org.bluez.AgentManager1": {}},
		"/org/bluez/hci0": {
			"org.bluez.Adapter1": {"Powered": dbus.MakeVariant(true)},
		},
	}
	snap := snapshotFromObjects(withAdapter)
	if snap.Revision != ScopedRevision {
		t.Errorf("Revision = %d, want %d", snap.Revision, ScopedRevision)
	}
	if !CanPerform(Scan, snap) || !CanPerform(Connect, snap) {
		t.Errorf("adapter present should grant scan and connect, got %08b", snap.Granted)
	}

	noAdapter := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez": {"org.bluez.AgentManager1": {}},
	}
	if snap := snapshotFromObjects(noAdapter); snap.Granted != 0 {
		t.Errorf("no adapter should grant nothing, got %08b", snap.Granted)
	}
}

func TestIsAccessDenied(t *testing.T) {
	denied := dbus.Error{Name: dbusAccessDenied}
	if !isAccessDenied(fmt.Errorf("call: %w", denied)) {
		t.Error("wrapped AccessDenied should be detected")
	}
	if isAccessDenied(dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}) {
		t.Error("ServiceUnknown is not an access denial")
	}
	if isAccessDenied(errors.New("plain")) {
		t.Error("plain error is not an access denial")
	}
}

func TestBlueZSnapshotIsCached(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	b := newBlueZ(func(ctx context.Context) (managedObjects, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return managedObjects{
			"/org/bluez/hci0": {"org.bluez.Adapter1": {}},
		}, nil
	})
	b.wg.Add(1)
	go b.watch()
	defer b.Close()

	// A slow bus must never stall callers.
	start := time.Now()
	for i := 0; i < 100; i++ {
		if snap := b.Snapshot(); snap.Granted != 0 {
			t.Fatalf("Snapshot() before refresh = %08b, want nothing granted", snap.Granted)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("100 Snapshot() calls took %v", elapsed)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("bus queries = %d, want 0", n)
	}

	b.signals <- &dbus.Signal{Name: "org.freedesktop.DBus.ObjectManager.InterfacesAdded"}
	waitForQuery := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(waitForQuery) {
		time.Sleep(2 * time.Millisecond)
	}
	if snap := b.Snapshot(); snap.Granted != 0 {
		t.Errorf("Snapshot() during a pending query = %08b, want the cached value", snap.Granted)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for !CanPerform(Scan, b.Snapshot()) {
		if time.Now().After(deadline) {
			t.Fatal("snapshot not refreshed after bluez signal")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !CanPerform(Connect, b.Snapshot()) {
		t.Error("refreshed snapshot should grant connect")
	}
}

func TestBlueZRefreshFailureGrantsNothing(t *testing.T) {
	b := newBlueZ(func(context.Context) (managedObjects, error) {
		return nil, dbus.Error{Name: dbusAccessDenied}
	})
	b.snap.Store(&Snapshot{Revision: ScopedRevision, Granted: Set(0).With(PermScan)})
	b.refresh()
	if snap := b.Snapshot(); snap.Granted != 0 || snap.Revision != ScopedRevision {
		t.Errorf("Snapshot() after denied refresh = %+v", snap)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
