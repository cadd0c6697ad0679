package metadata

import "github.com/spaghettifunk/umbra/engine/renderer/gpu"

/**
 * @brief GPU geometry ready to draw: a vertex buffer and an
 * optional index buffer.
 */
type Mesh struct {
	Name string
	/** @brief The vertex buffer and the byte offset of the first vertex. */
	VertexBuffer gpu.Buffer
	VertexOffset uint64
	VertexCount  uint32
	/** @brief The index buffer. Nil for non-indexed meshes. */
	IndexBuffer gpu.Buffer
	IndexOffset uint64
	IndexCount  uint32
	IndexType   gpu.IndexType
}

func (m *Mesh) IsIndexed() bool {
	return m.IndexBuffer != nil && m.IndexCount > 0
}

/**
 * @brief Draw arguments sourced from a GPU buffer.
 */
type IndirectDraw struct {
	Buffer    gpu.Buffer
	Offset    uint64
	DrawCount uint32
	Stride    uint32
}

/**
 * @brief One draw: a material, the geometry to draw with it and, when
 * Indirect is set, the buffer holding the draw arguments.
 */
type DrawCommand struct {
	Material *Material
	Mesh     *Mesh
	Indirect *IndirectDraw
}
