package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDispatchOrder(t *testing.T) {
	bus := NewEventBus()
	var got []string

	first, second := &struct{ n int }{1}, &struct{ n int }{2}
	assert.True(t, bus.Register(EventCodeResized, first, func(ctx EventContext) bool {
		got = append(got, "first")
		return false
	}))
	assert.True(t, bus.Register(EventCodeResized, second, func(ctx EventContext) bool {
		got = append(got, "second")
		re := ctx.Data.(*ResizeEvent)
		assert.Equal(t, uint32(640), re.Width)
		return true
	}))
	assert.False(t, bus.Register(EventCodeResized, first, func(EventContext) bool { return false }))

	handled := bus.Fire(EventContext{Type: EventCodeResized, Data: &ResizeEvent{Width: 640, Height: 480}})
	assert.True(t, handled)
	assert.Equal(t, []string{"first", "second"}, got)

	assert.True(t, bus.Unregister(EventCodeResized, second))
	assert.False(t, bus.Unregister(EventCodeResized, second))
	assert.False(t, bus.Fire(EventContext{Type: EventCodeResized, Data: &ResizeEvent{}}))
	assert.False(t, bus.Fire(EventContext{Type: EventCodeApplicationQuit}))
}

func TestFrameMetrics(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < 90; i++ {
		m.Update(1.0 / 60.0)
	}
	assert.InDelta(t, 16.666, m.FrameTime(), 0.01)
	assert.InDelta(t, 60, m.FPS(), 1)
}
