// Package permission decides whether a radio operation is currently
// authorized. The decision is a pure function of a capability snapshot
// supplied by the host; sources of snapshots live alongside it.
package permission

import (
	"fmt"
	"strings"
)

// Operation is a radio command that needs authorization.
type Operation int

const (
	Scan Operation = iota
	Connect
	Write
	Read
)

func (op Operation) String() string {
	switch op {
	case Scan:
		return "scan"
	case Connect:
		return "connect"
	case Write:
		return "write"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("operation(%d)", int(op))
	}
}

// Permission is a host permission category.
type Permission uint8

const (
	// PermScan authorizes discovery on scoped-permission hosts.
	PermScan Permission = 1 << iota
	// PermConnect authorizes connections and GATT traffic on scoped-permission hosts.
	PermConnect
	// PermFineLocation authorizes discovery on legacy hosts.
	PermFineLocation
)

func (p Permission) String() string {
	switch p {
	case PermScan:
		return "scan"
	case PermConnect:
		return "connect"
	case PermFineLocation:
		return "fine_location"
	default:
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
}

// ParsePermission converts a config name ("scan", "connect",
// "fine_location") to a Permission.
func ParsePermission(name string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "scan":
		return PermScan, nil
	case "connect":
		return PermConnect, nil
	case "fine_location", "location":
		return PermFineLocation, nil
	default:
		return 0, fmt.Errorf("permission: unknown permission %q", name)
	}
}

// Set is a bitmask of granted permissions.
type Set uint8

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool { return s&Set(p) != 0 }

// With returns the set with p added.
func (s Set) With(p Permission) Set { return s | Set(p) }

// Without returns the set with p removed.
func (s Set) Without(p Permission) Set { return s &^ Set(p) }

// ScopedRevision is the first host revision that splits Bluetooth access
// into dedicated scan and connect permissions.
const ScopedRevision = 31

// Snapshot is the host's authorization state at one instant.
type Snapshot struct {
	Revision int // host platform revision
	Granted  Set
}

// Required returns the permission op needs on a host at revision. The
// second result is false when the operation needs no runtime permission.
func Required(op Operation, revision int) (Permission, bool) {
	scoped := revision >= ScopedRevision
	switch op {
	case Scan:
		if scoped {
			return PermScan, true
		}
		return PermFineLocation, true
	case Connect, Write, Read:
		if scoped {
			return PermConnect, true
		}
		return 0, false
	default:
		// The zero permission is never part of a Set.
		return 0, true
	}
}

// CanPerform reports whether op is authorized by snap.
func CanPerform(op Operation, snap Snapshot) bool {
	perm, needed := Required(op, snap.Revision)
	if !needed {
		return true
	}
	return snap.Granted.Has(perm)
}

// Source supplies the current snapshot.
type Source interface {
	Snapshot() Snapshot
}
