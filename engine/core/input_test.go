package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupInput(t *testing.T) *EventSystem {
	t.Helper()
	es := NewEventSystem()
	require.NoError(t, InputInitialize(es))
	t.Cleanup(func() { _ = InputShutdown() })
	return es
}

func TestInputKeyTransitions(t *testing.T) {
	es := setupInput(t)
	var pressed, released []uint16
	es.Register(EVENT_CODE_KEY_PRESSED, nil, func(_ SystemEventCode, _ interface{}, _ interface{}, data EventContext) bool {
		pressed = append(pressed, data.Data.U16[0])
		return false
	})
	es.Register(EVENT_CODE_KEY_RELEASED, nil, func(_ SystemEventCode, _ interface{}, _ interface{}, data EventContext) bool {
		released = append(released, data.Data.U16[0])
		return false
	})

	require.NoError(t, InputProcessKey(KEY_W, true))
	require.NoError(t, InputProcessKey(KEY_W, true))
	assert.True(t, InputIsKeyDown(KEY_W))
	assert.True(t, InputWasKeyUp(KEY_W))
	assert.Equal(t, []uint16{uint16(KEY_W)}, pressed, "repeated press fires once")

	require.NoError(t, InputUpdate(0.016))
	require.NoError(t, InputProcessKey(KEY_W, false))
	assert.True(t, InputIsKeyUp(KEY_W))
	assert.True(t, InputWasKeyDown(KEY_W))
	assert.Equal(t, []uint16{uint16(KEY_W)}, released)
}

func TestInputMouse(t *testing.T) {
	es := setupInput(t)
	moves := 0
	var wheel int8
	es.Register(EVENT_CODE_MOUSE_MOVED, nil, func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		moves++
		return false
	})
	es.Register(EVENT_CODE_MOUSE_WHEEL, nil, func(_ SystemEventCode, _ interface{}, _ interface{}, data EventContext) bool {
		wheel = data.Data.I8[0]
		return false
	})

	require.NoError(t, InputProcessMouseMove(10, 20))
	require.NoError(t, InputProcessMouseMove(10, 20))
	x, y := InputGetMousePosition()
	assert.Equal(t, int32(10), x)
	assert.Equal(t, int32(20), y)
	assert.Equal(t, 1, moves)

	require.NoError(t, InputUpdate(0.016))
	require.NoError(t, InputProcessMouseMove(30, 40))
	px, py := InputGetPreviousMousePosition()
	assert.Equal(t, int32(10), px)
	assert.Equal(t, int32(20), py)

	require.NoError(t, InputProcessButton(BUTTON_LEFT, true))
	assert.True(t, InputIsButtonDown(BUTTON_LEFT))
	assert.True(t, InputWasButtonUp(BUTTON_LEFT))
	require.NoError(t, InputProcessButton(BUTTON_MAX_BUTTONS, true))

	require.NoError(t, InputProcessMouseWheel(-1))
	assert.Equal(t, int8(-1), wheel)
}

func TestInputIgnoredWhenShutdown(t *testing.T) {
	require.NoError(t, InputShutdown())
	require.NoError(t, InputProcessKey(KEY_A, true))
	assert.False(t, InputIsKeyDown(KEY_A))
	x, y := InputGetMousePosition()
	assert.Zero(t, x)
	assert.Zero(t, y)
}
