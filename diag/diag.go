// Package diag is the SDK's diagnostic channel. Messages go to zerolog and are
// also fired as "dm.log" / "dm.error" events so embedding code can observe them.
package diag

import (
	"fmt"
	"sync/atomic"

	"github.com/raine/dailymotion-go/event"
	"github.com/rs/zerolog/log"
)

const (
	EventLog   = "dm.log"
	EventError = "dm.error"
)

// Diag writes developer-facing diagnostics. A nil *Diag logs to zerolog only.
type Diag struct {
	bus       *event.Bus
	component string
	enabled   *atomic.Bool
}

// New creates a diagnostic channel firing events on bus. When enabled is false
// Log messages are not written (errors always are).
func New(bus *event.Bus, enabled bool) *Diag {
	d := &Diag{bus: bus, component: "dailymotion", enabled: &atomic.Bool{}}
	d.enabled.Store(enabled)
	return d
}

// With returns a channel tagged with another component name. It shares the
// bus and the enabled switch with its parent.
func (d *Diag) With(component string) *Diag {
	if d == nil {
		return nil
	}
	return &Diag{bus: d.bus, component: component, enabled: d.enabled}
}

// SetEnabled toggles debug logging.
func (d *Diag) SetEnabled(enabled bool) {
	if d != nil {
		d.enabled.Store(enabled)
	}
}

// Log records a debug message.
func (d *Diag) Log(msg string) {
	if d == nil {
		log.Debug().Msg(msg)
		return
	}
	if d.enabled.Load() {
		log.Debug().Str("component", d.component).Msg(msg)
	}
	d.bus.Fire(EventLog, msg)
}

// Logf is Log with formatting.
func (d *Diag) Logf(format string, args ...any) {
	d.Log(fmt.Sprintf(format, args...))
}

// Error records an error message. Errors are written even when logging is
// disabled.
func (d *Diag) Error(msg string) {
	if d == nil {
		log.Error().Msg(msg)
		return
	}
	log.Error().Str("component", d.component).Msg(msg)
	d.bus.Fire(EventError, msg)
}

// Errorf is Error with formatting.
func (d *Diag) Errorf(format string, args ...any) {
	d.Error(fmt.Sprintf(format, args...))
}
