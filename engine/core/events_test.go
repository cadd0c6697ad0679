package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSystemRegister(t *testing.T) {
	es := NewEventSystem()
	listener := &struct{}{}
	noop := func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }

	assert.False(t, es.Register(EVENT_CODE_RESIZED, listener, nil))
	assert.True(t, es.Register(EVENT_CODE_RESIZED, listener, noop))
	assert.False(t, es.Register(EVENT_CODE_RESIZED, listener, noop), "duplicate listener")
	assert.True(t, es.Register(EVENT_CODE_RESIZED, nil, noop))
	assert.Equal(t, 2, es.Listeners(EVENT_CODE_RESIZED))

	assert.True(t, es.Unregister(EVENT_CODE_RESIZED, listener))
	assert.False(t, es.Unregister(EVENT_CODE_RESIZED, listener))
	assert.Equal(t, 1, es.Listeners(EVENT_CODE_RESIZED))

	es.Shutdown()
	assert.Zero(t, es.Listeners(EVENT_CODE_RESIZED))
}

func TestEventSystemFireStopsWhenHandled(t *testing.T) {
	es := NewEventSystem()
	var order []string
	first, second, third := "first", "second", "third"
	handler := func(handled bool) FnOnEvent {
		return func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool {
			order = append(order, *listener.(*string))
			assert.Equal(t, uint16(640), data.Data.U16[0])
			return handled
		}
	}
	require.True(t, es.Register(EVENT_CODE_RESIZED, &first, handler(false)))
	require.True(t, es.Register(EVENT_CODE_RESIZED, &second, handler(true)))
	require.True(t, es.Register(EVENT_CODE_RESIZED, &third, handler(false)))

	data := EventContext{}
	data.Data.U16[0] = 640
	assert.True(t, es.Fire(EVENT_CODE_RESIZED, nil, data))
	assert.Equal(t, []string{"first", "second"}, order)

	assert.False(t, es.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
}

func TestEventSystemListenerMayUnregisterItself(t *testing.T) {
	es := NewEventSystem()
	calls := 0
	var self FnOnEvent
	self = func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool {
		calls++
		es.Unregister(code, listener)
		return false
	}
	require.True(t, es.Register(EVENT_CODE_CONFIG_RELOADED, &calls, self))

	es.Fire(EVENT_CODE_CONFIG_RELOADED, nil, EventContext{})
	es.Fire(EVENT_CODE_CONFIG_RELOADED, nil, EventContext{})
	assert.Equal(t, 1, calls)
}

func TestIdentifierPool(t *testing.T) {
	p := NewIdentifierPool()
	owner := &struct{ name string }{"texture"}

	a := p.AcquireNewID(owner)
	b := p.AcquireNewID(nil)
	assert.Equal(t, uint64(1), a)
	assert.NotEqual(t, a, b)
	assert.Same(t, owner, p.Owner(a))
	assert.Equal(t, 2, p.Len())

	require.NoError(t, p.ReleaseID(a))
	assert.Error(t, p.ReleaseID(a))
	assert.Nil(t, p.Owner(a))
	assert.Greater(t, p.AcquireNewID(owner), b, "released ids are not reused")
}

func TestMetricsAverages(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	fps, ms := m.Frame()
	assert.InDelta(t, 10.0, ms, 1e-9)
	assert.Zero(t, fps, "less than a second has been recorded")

	for i := 0; i < 100; i++ {
		m.Update(0.010)
	}
	assert.Greater(t, m.FPS(), 90.0)
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
}
