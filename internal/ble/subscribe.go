package ble

import (
	"log/slog"
	"time"

	"github.com/chaz8081/blereader/internal/permission"
)

// enableNotifications subscribes to c and starts the polling backstop.
// Failures after the permission check are logged, not fatal: polling
// keeps data flowing even if the subscription never takes effect.
func (m *Manager) enableNotifications(s *session, c *Characteristic) {
	if !m.allowed(permission.Connect) {
		slog.Error("[BLE] permission revoked before subscribing")
		m.endSession(StateFailed, ErrPermissionRevoked, true)
		return
	}

	if err := s.link.SetNotify(c, true); err != nil {
		slog.Error("[BLE] failed to enable local notifications", "characteristic", c.UUID, "error", err)
	} else {
		slog.Info("[BLE] local notifications enabled", "characteristic", c.UUID)
	}

	m.writeCCCD(s, c)

	m.setStatus(StateActive, nil, s.peripheral)
	m.poll.start(s, c)
}

func (m *Manager) writeCCCD(s *session, c *Characteristic) {
	d := c.Descriptor(m.opts.Target.CCCD)
	if d == nil {
		slog.Warn("[BLE] CCCD descriptor not found, peripheral might notify anyway")
		return
	}
	if !m.allowed(permission.Write) {
		slog.Error("[BLE] permission denied to write descriptor")
		return
	}

	value := EnableNotificationValue
	if !c.Properties.Has(PropNotify) {
		value = EnableIndicationValue
	}
	if err := s.link.WriteDescriptor(d, value); err != nil {
		slog.Error("[BLE] failed to initiate descriptor write", "error", err)
		return
	}
	slog.Info("[BLE] writing CCCD to enable notifications")
}

func (m *Manager) onDescriptorWrite(e DescriptorWriteComplete) {
	if !m.owns(e.Link) {
		return
	}
	if e.Status != GATTSuccess {
		slog.Error("[BLE] descriptor write failed", "uuid", e.UUID, "status", e.Status)
		return
	}
	if e.UUID == m.opts.Target.CCCD {
		m.sess.subscribed = true
		slog.Info("[BLE] subscribed to notifications", "peripheral", m.sess.peripheral)
	}
}

func (m *Manager) onCharacteristicChanged(e CharacteristicChanged) {
	if !m.owns(e.Link) {
		return
	}
	if e.UUID != m.opts.Target.Characteristic {
		slog.Debug("[BLE] ignoring notification", "uuid", e.UUID)
		return
	}
	m.publishPayload(e.Value)
}

func (m *Manager) onCharacteristicRead(e CharacteristicReadComplete) {
	if !m.owns(e.Link) {
		return
	}
	if e.Status != GATTSuccess {
		slog.Error("[POLL] characteristic read failed", "uuid", e.UUID, "status", e.Status)
		return
	}
	if e.UUID != m.opts.Target.Characteristic {
		return
	}
	m.publishPayload(e.Value)
}

// publishPayload copies b so later radio buffer reuse cannot alter it.
func (m *Manager) publishPayload(b []byte) {
	data := make([]byte, len(b))
	copy(data, b)
	m.payload.Set(Payload{Data: data, At: time.Now()})
}
