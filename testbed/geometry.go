package testbed

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

// Size in bytes of one encoded math.Vertex3D.
const vertexSize = 8 * 4

/**
 * @brief Builds an axis-aligned box centred on the origin, four vertices
 * per face so every face gets its own normal and full texture coordinates.
 */
func generateCube(width, height, depth, tileX, tileY float32) ([]math.Vertex3D, []uint16) {
	hw, hh, hd := width*0.5, height*0.5, depth*0.5
	type face struct {
		normal  math.Vec3
		corners [4]math.Vec3
	}
	faces := []face{
		// front
		{math.NewVec3(0, 0, 1), [4]math.Vec3{{X: -hw, Y: -hh, Z: hd}, {X: hw, Y: -hh, Z: hd}, {X: hw, Y: hh, Z: hd}, {X: -hw, Y: hh, Z: hd}}},
		// back
		{math.NewVec3(0, 0, -1), [4]math.Vec3{{X: hw, Y: -hh, Z: -hd}, {X: -hw, Y: -hh, Z: -hd}, {X: -hw, Y: hh, Z: -hd}, {X: hw, Y: hh, Z: -hd}}},
		// left
		{math.NewVec3(-1, 0, 0), [4]math.Vec3{{X: -hw, Y: -hh, Z: -hd}, {X: -hw, Y: -hh, Z: hd}, {X: -hw, Y: hh, Z: hd}, {X: -hw, Y: hh, Z: -hd}}},
		// right
		{math.NewVec3(1, 0, 0), [4]math.Vec3{{X: hw, Y: -hh, Z: hd}, {X: hw, Y: -hh, Z: -hd}, {X: hw, Y: hh, Z: -hd}, {X: hw, Y: hh, Z: hd}}},
		// bottom
		{math.NewVec3(0, -1, 0), [4]math.Vec3{{X: -hw, Y: -hh, Z: -hd}, {X: hw, Y: -hh, Z: -hd}, {X: hw, Y: -hh, Z: hd}, {X: -hw, Y: -hh, Z: hd}}},
		// top
		{math.NewVec3(0, 1, 0), [4]math.Vec3{{X: -hw, Y: hh, Z: hd}, {X: hw, Y: hh, Z: hd}, {X: hw, Y: hh, Z: -hd}, {X: -hw, Y: hh, Z: -hd}}},
	}
	uvs := [4]math.Vec2{{X: 0, Y: tileY}, {X: tileX, Y: tileY}, {X: tileX, Y: 0}, {X: 0, Y: 0}}

	vertices := make([]math.Vertex3D, 0, 24)
	indices := make([]uint16, 0, 36)
	for _, f := range faces {
		base := uint16(len(vertices))
		for i, c := range f.corners {
			vertices = append(vertices, math.Vertex3D{Position: c, Normal: f.normal, Texcoord: uvs[i]})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return vertices, indices
}

func encodeVertices(vertices []math.Vertex3D) []byte {
	out := make([]byte, 0, len(vertices)*vertexSize)
	for _, v := range vertices {
		out = math.AppendFloat32s(out,
			v.Position.X, v.Position.Y, v.Position.Z,
			v.Normal.X, v.Normal.Y, v.Normal.Z,
			v.Texcoord.X, v.Texcoord.Y)
	}
	return out
}

func encodeIndices(indices []uint16) []byte {
	out := make([]byte, 0, len(indices)*2)
	for _, i := range indices {
		out = binary.LittleEndian.AppendUint16(out, i)
	}
	return out
}

// uploadMesh copies the geometry into fresh host-visible vertex and index buffers.
func uploadMesh(device gpu.Device, name string, vertices []math.Vertex3D, indices []uint16) (*metadata.Mesh, error) {
	vdata := encodeVertices(vertices)
	vb, err := device.NewBuffer(uint64(len(vdata)), gpu.BufferUsageVertex)
	if err != nil {
		return nil, fmt.Errorf("mesh '%s' vertices: %w", name, err)
	}
	if err := vb.Write(0, vdata); err != nil {
		vb.Destroy()
		return nil, err
	}
	idata := encodeIndices(indices)
	ib, err := device.NewBuffer(uint64(len(idata)), gpu.BufferUsageIndex)
	if err != nil {
		vb.Destroy()
		return nil, fmt.Errorf("mesh '%s' indices: %w", name, err)
	}
	if err := ib.Write(0, idata); err != nil {
		vb.Destroy()
		ib.Destroy()
		return nil, err
	}
	return &metadata.Mesh{
		Name:         name,
		VertexBuffer: vb,
		VertexCount:  uint32(len(vertices)),
		IndexBuffer:  ib,
		IndexCount:   uint32(len(indices)),
		IndexType:    gpu.IndexTypeUint16,
	}, nil
}

func destroyMesh(m *metadata.Mesh) {
	if m == nil {
		return
	}
	if m.VertexBuffer != nil {
		m.VertexBuffer.Destroy()
	}
	if m.IndexBuffer != nil {
		m.IndexBuffer.Destroy()
	}
}

// checkerboard is the fallback albedo when no texture asset is present.
func checkerboard(size, cell uint32, a, b [4]byte) []byte {
	pixels := make([]byte, 0, size*size*4)
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			c := a
			if (x/cell+y/cell)%2 == 1 {
				c = b
			}
			pixels = append(pixels, c[:]...)
		}
	}
	return pixels
}
