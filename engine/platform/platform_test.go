package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestTranslateKey(t *testing.T) {
	tests := []struct {
		key  glfw.Key
		want core.KeyCode
	}{
		{glfw.KeyA, core.KEY_A},
		{glfw.KeyZ, core.KEY_A + 25},
		{glfw.KeyF1, core.KEY_F1},
		{glfw.KeyF12, core.KEY_F1 + 11},
		{glfw.KeyKP0, core.KEY_NUMPAD0},
		{glfw.KeyKP9, core.KEY_NUMPAD0 + 9},
		{glfw.KeyEscape, core.KEY_ESCAPE},
		{glfw.KeySpace, core.KEY_SPACE},
		{glfw.KeyLeftShift, core.KEY_LSHIFT},
	}
	for _, tt := range tests {
		got, ok := translateKey(tt.key)
		assert.True(t, ok, "key %d", tt.key)
		assert.Equal(t, tt.want, got, "key %d", tt.key)
	}

	_, ok := translateKey(glfw.KeyUnknown)
	assert.False(t, ok)
}
