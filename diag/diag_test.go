package diag

import (
	"testing"

	"github.com/raine/dailymotion-go/event"
	"github.com/stretchr/testify/assert"
)

func TestLog_FiresEvent(t *testing.T) {
	bus := event.NewBus()
	var got []any
	bus.Subscribe(EventLog, func(p any) { got = append(got, p) })

	d := New(bus, false)
	d.Logf("invalid method %q", "put")

	assert.Equal(t, []any{`invalid method "put"`}, got)
}

func TestError_FiresEventFromChild(t *testing.T) {
	bus := event.NewBus()
	var got []any
	bus.Subscribe(EventError, func(p any) { got = append(got, p) })

	d := New(bus, true).With("api")
	d.Error("unmatched id 7")

	assert.Equal(t, []any{"unmatched id 7"}, got)
}

func TestNilDiag(t *testing.T) {
	var d *Diag
	assert.NotPanics(t, func() {
		d.Log("x")
		d.Errorf("y %d", 1)
		d.SetEnabled(true)
		assert.Nil(t, d.With("api"))
	})
}
