package testbed

import (
	"encoding/binary"
	stdmath "math"
	"testing"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCube(t *testing.T) {
	vertices, indices := generateCube(2, 4, 6, 1, 1)
	require.Len(t, vertices, 24)
	require.Len(t, indices, 36)

	for _, v := range vertices {
		assert.InDelta(t, 1, stdmath.Abs(float64(v.Position.X)), 1e-6)
		assert.InDelta(t, 2, stdmath.Abs(float64(v.Position.Y)), 1e-6)
		assert.InDelta(t, 3, stdmath.Abs(float64(v.Position.Z)), 1e-6)
		assert.InDelta(t, 1, v.Normal.Length(), 1e-6)
	}
	for _, i := range indices {
		assert.Less(t, int(i), len(vertices))
	}
}

func TestEncodeVertices(t *testing.T) {
	vertices, _ := generateCube(2, 2, 2, 1, 1)
	data := encodeVertices(vertices[:1])
	require.Len(t, data, vertexSize)
	x := stdmath.Float32frombits(binary.LittleEndian.Uint32(data[0:]))
	nz := stdmath.Float32frombits(binary.LittleEndian.Uint32(data[20:]))
	assert.Equal(t, float32(-1), x)
	assert.Equal(t, float32(1), nz)

	assert.Equal(t, []byte{1, 0, 2, 1}, encodeIndices([]uint16{1, 258}))
}

func TestCheckerboard(t *testing.T) {
	a, b := [4]byte{255, 0, 0, 255}, [4]byte{0, 0, 255, 255}
	pixels := checkerboard(4, 2, a, b)
	require.Len(t, pixels, 4*4*4)
	assert.Equal(t, a[:], pixels[0:4])
	assert.Equal(t, b[:], pixels[2*4:3*4])
	assert.Equal(t, b[:], pixels[(2*4)*4:(2*4)*4+4])
	assert.Equal(t, a[:], pixels[(2*4+2)*4:(2*4+2)*4+4])
}

func TestMinimapRect(t *testing.T) {
	r := minimapRect(1280, 720)
	assert.Equal(t, gpu.Extent2D{Width: 320, Height: 320}, r.Extent)
	assert.Equal(t, int32(1280-320-16), r.Offset.X)

	r = minimapRect(10, 2)
	assert.Equal(t, uint32(1), r.Extent.Width)
	assert.Equal(t, int32(0), r.Offset.X)
}

func TestSceneDrawsEveryCrateForEveryCamera(t *testing.T) {
	d := gputest.NewDevice()
	sc := gputest.NewSwapchain(d, gpu.Extent2D{Width: 128, Height: 96}, 2)
	pool, err := d.NewDescriptorPool(64, nil)
	require.NoError(t, err)
	opts := pipeline.DefaultOptions()
	opts.FramesInFlight = 2
	p, err := pipeline.New(d, sc, pool, opts)
	require.NoError(t, err)
	t.Cleanup(p.Destroy)

	rt, err := p.NewCameraTarget(worldCameraName, gpu.Extent2D{Width: 64, Height: 48})
	require.NoError(t, err)
	t.Cleanup(rt.Destroy)

	tex := albedo{width: 4, height: 4, pixels: checkerboard(4, 1, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2})}
	s, err := newScene(d, p, rt, tex, defaultCrates)
	require.NoError(t, err)
	defer s.destroy()

	require.Len(t, s.crates, len(defaultCrates))
	for _, c := range s.crates {
		assert.Equal(t, uint64(materialUniformSize), c.uniform.Size())
		assert.Equal(t, 2, c.material.Bindings().CountAllBindings())
	}

	packet := metadata.NewRenderPacket()
	s.draw(packet, worldCameraName, minimapCameraName)
	assert.Len(t, packet.Opaque[worldCameraName], len(defaultCrates))
	assert.Len(t, packet.Opaque[minimapCameraName], len(defaultCrates))
	assert.True(t, packet.Opaque[worldCameraName][0].Mesh.IsIndexed())
}

type failingFactory struct{}

func (failingFactory) CreateMaterial(name string, rt *target.CameraRenderTarget) (*metadata.Material, error) {
	return nil, assert.AnError
}

func TestSceneFailureReleasesResources(t *testing.T) {
	d := gputest.NewDevice()
	tex := albedo{width: 2, height: 2, pixels: make([]byte, 16)}
	_, err := newScene(d, failingFactory{}, nil, tex, defaultCrates)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSceneRejectsShortTexture(t *testing.T) {
	d := gputest.NewDevice()
	tex := albedo{width: 4, height: 4, pixels: make([]byte, 3)}
	_, err := newScene(d, failingFactory{}, nil, tex, nil)
	assert.ErrorContains(t, err, "crate albedo")
}
