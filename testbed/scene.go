package testbed

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

// Size of the geometry material block: model matrix and diffuse colour.
const materialUniformSize = 64 + 16

// MaterialFactory creates geometry materials; the deferred pipeline is one.
type MaterialFactory interface {
	CreateMaterial(name string, rt *target.CameraRenderTarget) (*metadata.Material, error)
}

type crate struct {
	material *metadata.Material
	uniform  gpu.Buffer
}

/**
 * @brief A handful of textured crates sharing one cube mesh and one albedo
 * texture. Each crate owns a material whose uniform holds its placement,
 * written once at creation.
 */
type scene struct {
	device  gpu.Device
	cube    *metadata.Mesh
	texture gpu.Texture
	crates  []crate
}

type crateDesc struct {
	name     string
	position math.Vec3
	yaw      float32
	colour   math.Vec4
}

var defaultCrates = []crateDesc{
	{"crate", math.NewVec3(0, 0, 0), 0, math.NewVec4(1, 1, 1, 1)},
	{"crate-left", math.NewVec3(-4, 0, -2), math.DegToRad(30), math.NewVec4(1, 0.6, 0.6, 1)},
	{"crate-right", math.NewVec3(4, 1, -3), math.DegToRad(-20), math.NewVec4(0.6, 0.8, 1, 1)},
}

// albedo holds tightly packed RGBA8 texels.
type albedo struct {
	width, height uint32
	pixels        []byte
}

func newScene(device gpu.Device, factory MaterialFactory, rt *target.CameraRenderTarget, tex albedo, crates []crateDesc) (*scene, error) {
	s := &scene{device: device}
	vertices, indices := generateCube(2, 2, 2, 1, 1)
	var err error
	if s.cube, err = uploadMesh(device, "cube", vertices, indices); err != nil {
		return nil, err
	}

	s.texture, err = device.NewTexture(gpu.TextureDesc{
		Name:      "crate-albedo",
		Extent:    gpu.Extent2D{Width: tex.width, Height: tex.height},
		Format:    gpu.FormatR8G8B8A8Unorm,
		MipLevels: 1,
		Usage:     gpu.TextureUsageSampled | gpu.TextureUsageTransferDst,
	})
	if err != nil {
		s.destroy()
		return nil, err
	}
	if err := device.WriteTexture(s.texture, tex.pixels); err != nil {
		s.destroy()
		return nil, fmt.Errorf("upload crate albedo: %w", err)
	}

	for _, d := range crates {
		c, err := s.newCrate(factory, rt, d)
		if err != nil {
			s.destroy()
			return nil, err
		}
		s.crates = append(s.crates, c)
	}
	return s, nil
}

func (s *scene) newCrate(factory MaterialFactory, rt *target.CameraRenderTarget, d crateDesc) (crate, error) {
	mat, err := factory.CreateMaterial(d.name, rt)
	if err != nil {
		return crate{}, err
	}
	uniform, err := s.device.NewBuffer(materialUniformSize, gpu.BufferUsageUniform)
	if err != nil {
		return crate{}, err
	}
	model := math.NewMat4EulerY(d.yaw).Mul(math.NewMat4Translation(d.position))
	data := math.AppendFloat32s(model.Bytes(), d.colour.X, d.colour.Y, d.colour.Z, d.colour.W)
	if err := uniform.Write(0, data); err != nil {
		uniform.Destroy()
		return crate{}, err
	}
	if err := mat.Add(
		binding.NewUniformBufferBinding(passes.GeometrySetMaterial, passes.GeometryBindingMaterialUniform, uniform, 0, materialUniformSize),
		binding.NewTextureBinding(passes.GeometrySetMaterial, passes.GeometryBindingAlbedo, s.texture),
	); err != nil {
		uniform.Destroy()
		return crate{}, err
	}
	return crate{material: mat, uniform: uniform}, nil
}

// draw queues every crate for each of the named cameras.
func (s *scene) draw(packet *metadata.RenderPacket, cameras ...string) {
	for _, cam := range cameras {
		for _, c := range s.crates {
			packet.AddOpaque(cam, metadata.DrawCommand{Material: c.material, Mesh: s.cube})
		}
	}
}

// destroy releases the scene's buffers and texture; the caller guarantees the GPU is idle.
func (s *scene) destroy() {
	for _, c := range s.crates {
		c.material.Bindings().ReleaseDescriptorSets()
		c.uniform.Destroy()
	}
	s.crates = nil
	if s.texture != nil {
		s.texture.Destroy()
		s.texture = nil
	}
	destroyMesh(s.cube)
	s.cube = nil
}
