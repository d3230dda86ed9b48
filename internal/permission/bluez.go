package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus           = "org.bluez"
	bluezAdapterIface  = "org.bluez.Adapter1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"
	getManagedObjects  = objectManagerIface + ".GetManagedObjects"
	dbusAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZ derives snapshots from what the system bus lets this process see.
// Reaching org.bluez and finding at least one adapter grants scan and
// connect; a policy denial or a missing adapter grants nothing. BlueZ
// has no legacy permission model, so the revision is always scoped.
//
// The bus is queried once at start and again whenever org.bluez signals
// an object or property change. Snapshot only reads the cached result.
type BlueZ struct {
	conn    *dbus.Conn
	timeout time.Duration
	query   func(ctx context.Context) (managedObjects, error)

	snap    atomic.Pointer[Snapshot]
	signals chan *dbus.Signal
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewBlueZ connects to the system bus, takes the first snapshot and
// starts following org.bluez changes. Call Close to stop.
func NewBlueZ() (*BlueZ, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("permission: connect system bus: %w", err)
	}
	b := newBlueZ(func(ctx context.Context) (managedObjects, error) {
		var objects managedObjects
		err := conn.Object(bluezBus, "/").CallWithContext(ctx, getManagedObjects, 0).Store(&objects)
		return objects, err
	})
	b.conn = conn

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchSender(bluezBus), dbus.WithMatchInterface(objectManagerIface)},
		{dbus.WithMatchSender(bluezBus), dbus.WithMatchInterface(propertiesIface), dbus.WithMatchMember("PropertiesChanged")},
	}
	for _, m := range matches {
		if err := conn.AddMatchSignal(m...); err != nil {
			return nil, fmt.Errorf("permission: watch bluez: %w", err)
		}
	}
	conn.Signal(b.signals)

	b.refresh()
	b.wg.Add(1)
	go b.watch()
	return b, nil
}

// newBlueZ builds a BlueZ that nothing has refreshed yet: it grants
// nothing until the first refresh.
func newBlueZ(query func(ctx context.Context) (managedObjects, error)) *BlueZ {
	b := &BlueZ{
		timeout: 2 * time.Second,
		query:   query,
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
	}
	b.snap.Store(&Snapshot{Revision: ScopedRevision})
	return b
}

// Snapshot implements Source. It never touches the bus.
func (b *BlueZ) Snapshot() Snapshot {
	return *b.snap.Load()
}

// Close stops following bus signals. Safe to call more than once.
func (b *BlueZ) Close() error {
	b.once.Do(func() {
		if b.conn != nil {
			b.conn.RemoveSignal(b.signals)
		}
		close(b.done)
		b.wg.Wait()
	})
	return nil
}

// watch refreshes the snapshot after each burst of bluez signals.
func (b *BlueZ) watch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case _, ok := <-b.signals:
			if !ok {
				return
			}
			b.drain()
			b.refresh()
		}
	}
}

// drain discards queued signals; one refresh covers them all.
func (b *BlueZ) drain() {
	for {
		select {
		case <-b.signals:
		default:
			return
		}
	}
}

func (b *BlueZ) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	snap := Snapshot{Revision: ScopedRevision}
	objects, err := b.query(ctx)
	switch {
	case err == nil:
		snap = snapshotFromObjects(objects)
	case isAccessDenied(err):
		slog.Warn("[GATE] bluez access denied by bus policy", "error", err)
	default:
		slog.Warn("[GATE] bluez unreachable", "error", err)
	}
	b.snap.Store(&snap)
	slog.Debug("[GATE] bluez snapshot refreshed", "granted", snap.Granted)
}

// snapshotFromObjects grants scan and connect when any managed object
// implements the adapter interface.
func snapshotFromObjects(objects managedObjects) Snapshot {
	snap := Snapshot{Revision: ScopedRevision}
	for path, ifaces := range objects {
		props, ok := ifaces[bluezAdapterIface]
		if !ok {
			continue
		}
		if powered, ok := props["Powered"]; ok {
			slog.Debug("[GATE] bluez adapter", "path", path, "powered", powered.Value())
		}
		snap.Granted = snap.Granted.With(PermScan).With(PermConnect)
		return snap
	}
	return snap
}

func isAccessDenied(err error) bool {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name == dbusAccessDenied
	}
	var pe *dbus.Error
	if errors.As(err, &pe) {
		return pe.Name == dbusAccessDenied
	}
	return false
}

var _ Source = (*BlueZ)(nil)
