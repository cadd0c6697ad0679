package assets

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spirv(words int) []byte {
	data := make([]byte, 4*words)
	binary.LittleEndian.PutUint32(data, spirvMagic)
	return data
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func newManager(t *testing.T, dir string) *AssetManager {
	t.Helper()
	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Initialize(dir))
	t.Cleanup(func() { am.Shutdown() })
	return am
}

func TestDetermineAssetType(t *testing.T) {
	assert.Equal(t, AssetTypeShader, determineAssetType("shaders/geometry.vert.spv"))
	assert.Equal(t, AssetTypeImage, determineAssetType("textures/crate.PNG"))
	assert.Equal(t, AssetTypeFont, determineAssetType("fonts/mono.fnt"))
	assert.Equal(t, AssetTypeNone, determineAssetType("notes.txt"))
}

func TestLoadShaders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "shaders"), 0o755))
	for _, name := range passes.ShaderModules {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "shaders", name+".spv"), spirv(5), 0o644))
	}
	am := newManager(t, dir)

	shaders, err := am.LoadShaders("shaders")
	require.NoError(t, err)
	assert.Len(t, shaders, len(passes.ShaderModules))
	assert.Len(t, shaders.Get(passes.ShaderLightingFrag), 20)

	info, ok := am.Info(filepath.Join("shaders", passes.ShaderUIFrag+".spv"))
	require.True(t, ok)
	assert.False(t, info.LastLoaded.IsZero())
}

func TestLoadShadersMissingModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, passes.ShaderGeometryVert+".spv"), spirv(5), 0o644))
	am := newManager(t, dir)

	_, err := am.LoadShaders(".")
	assert.ErrorContains(t, err, "asset not found")
}

func TestShaderLoaderRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.spv")
	require.NoError(t, os.WriteFile(path, []byte("not spirv"), 0o644))
	_, err := (&ShaderLoader{}).Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, make([]byte, 8), 0o644))
	_, err = (&ShaderLoader{}).Load(path)
	assert.ErrorContains(t, err, "magic")
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "crate.png"))
	am := newManager(t, dir)

	img, err := am.LoadImage("crate.png")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), img.Width)
	assert.Equal(t, uint32(2), img.Height)
	require.Len(t, img.Pixels, 16)
	assert.Equal(t, []byte{255, 0, 0, 255}, img.Pixels[0:4])
	assert.Equal(t, []byte{0, 0, 255, 255}, img.Pixels[12:16])
}

func TestToRGBA8Flip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 2))
	img.Set(0, 0, color.NRGBA{R: 10, A: 255})
	img.Set(0, 1, color.NRGBA{G: 20, A: 255})

	data := ToRGBA8(img, true)
	assert.Equal(t, []byte{0, 20, 0, 255, 10, 0, 0, 255}, data.Pixels)
}

func TestWatcherIndexesNewFiles(t *testing.T) {
	dir := t.TempDir()
	am := newManager(t, dir)
	assert.Equal(t, 0, am.Len())

	var changed atomic.Int32
	am.OnChanged(func(info AssetInfo) {
		if info.Type == AssetTypeShader {
			changed.Add(1)
		}
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.frag.spv"), spirv(2), 0o644))

	require.Eventually(t, func() bool {
		_, ok := am.Info("late.frag.spv")
		return ok && changed.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
}
