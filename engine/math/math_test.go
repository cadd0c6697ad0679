package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertMat4(t *testing.T, want, have Mat4) {
	t.Helper()
	for i := range want.Data {
		assert.InDelta(t, want.Data[i], have.Data[i], 1e-5, "element %d", i)
	}
}

func TestMat4Inverse(t *testing.T) {
	tr := NewMat4Translation(NewVec3(1, 2, 3)).Mul(NewMat4EulerXYZ(0.3, 0.2, 0.1))
	assertMat4(t, NewMat4Identity(), tr.Mul(tr.Inverse()))
	assertMat4(t, NewMat4Translation(NewVec3(-1, -2, -3)), NewMat4Translation(NewVec3(1, 2, 3)).Inverse())
}

func TestClampAndAlign(t *testing.T) {
	assert.Equal(t, 3, Clamp(7, 0, 3))
	assert.Equal(t, float32(-1), Clamp(float32(-4), -1, 1))
	assert.Equal(t, uint32(256), AlignUp(uint32(130), 256))
	assert.Equal(t, uint64(512), AlignUp(uint64(512), 256))
}

func TestMat4Bytes(t *testing.T) {
	b := NewMat4Identity().Bytes()
	assert.Len(t, b, 64)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b[0:4])
	assert.Equal(t, []byte{0, 0, 0, 0}, b[4:8])
}

func TestVec3(t *testing.T) {
	x := NewVec3(1, 0, 0)
	y := NewVec3(0, 1, 0)
	assert.Equal(t, NewVec3(0, 0, 1), x.Cross(y))
	assert.Equal(t, float32(0), x.Dot(y))
	assert.InDelta(t, 1.0, NewVec3(3, 4, 0).Normalized().Length(), 1e-6)
	assert.Equal(t, NewVec3Zero(), NewVec3Zero().Normalized())
}
