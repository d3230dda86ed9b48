package ble

import (
	"log/slog"
	"time"

	"github.com/chaz8081/blereader/internal/permission"
)

// poller periodically reads the target characteristic. It runs alongside
// notifications; both feed the same payload value. Loop-owned.
type poller struct {
	m      *Manager
	active bool
	sess   *session
	char   *Characteristic
	gen    uint64 // bumped on start/stop; a tick from an older generation is dropped
	timer  *time.Timer
}

// Polling reports whether the polling loop is running.
func (m *Manager) Polling() bool {
	var active bool
	_ = m.do(func() error {
		active = m.poll.active
		return nil
	})
	return active
}

func (p *poller) start(s *session, c *Characteristic) {
	if p.active {
		return
	}
	slog.Info("[POLL] starting polling", "interval", p.m.opts.PollInterval)
	p.active = true
	p.sess = s
	p.char = c
	p.gen++
	p.schedule(0)
}

func (p *poller) schedule(d time.Duration) {
	gen := p.gen
	p.timer = p.m.after(d, func() {
		if p.active && p.gen == gen {
			p.tick()
		}
	})
}

func (p *poller) tick() {
	m := p.m
	if m.sess != p.sess || p.sess.link == nil {
		p.stop()
		return
	}
	if !m.allowed(permission.Read) {
		slog.Error("[POLL] polling stopped: read permission not granted")
		p.stop()
		return
	}

	if err := p.sess.link.ReadCharacteristic(p.char); err != nil {
		slog.Warn("[POLL] failed to initiate characteristic read", "error", err)
	} else {
		slog.Debug("[POLL] characteristic read initiated")
	}
	p.schedule(m.opts.PollInterval)
}

func (p *poller) stop() {
	if !p.active {
		return
	}
	slog.Info("[POLL] stopping polling")
	p.active = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.sess = nil
	p.char = nil
}
