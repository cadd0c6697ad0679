package gputest

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type Op string

const (
	OpBegin               Op = "begin"
	OpEnd                 Op = "end"
	OpBeginRenderPass     Op = "begin_render_pass"
	OpNextSubpass         Op = "next_subpass"
	OpEndRenderPass       Op = "end_render_pass"
	OpExecuteCommands     Op = "execute_commands"
	OpBindPipeline        Op = "bind_pipeline"
	OpBindDescriptorSets  Op = "bind_descriptor_sets"
	OpBindVertexBuffers   Op = "bind_vertex_buffers"
	OpBindIndexBuffer     Op = "bind_index_buffer"
	OpSetViewport         Op = "set_viewport"
	OpSetScissor          Op = "set_scissor"
	OpDraw                Op = "draw"
	OpDrawIndexed         Op = "draw_indexed"
	OpDrawIndirect        Op = "draw_indirect"
	OpDrawIndexedIndirect Op = "draw_indexed_indirect"
	OpPipelineBarrier     Op = "pipeline_barrier"
)

// Command is one recorded call. Only the fields relevant to Op are set.
type Command struct {
	Op Op

	Inheritance *gpu.InheritanceInfo
	RenderPass  gpu.RenderPass
	Framebuffer gpu.Framebuffer
	ClearValues []gpu.ClearValue
	Contents    gpu.SubpassContents
	Secondaries []gpu.CommandBuffer

	Pipeline       gpu.Pipeline
	Layout         gpu.PipelineLayout
	FirstSet       uint32
	Sets           []gpu.DescriptorSet
	DynamicOffsets []uint32

	Buffer    gpu.Buffer
	Offset    uint64
	Count     uint32
	Viewport  gpu.Viewport
	Scissor   gpu.Rect2D
	Texture   gpu.Texture
	OldLayout gpu.ImageLayout
	NewLayout gpu.ImageLayout
}

type CommandBuffer struct {
	object
	level    gpu.CommandBufferLevel
	state    gpu.CommandBufferState
	commands []Command
}

func (c *CommandBuffer) Level() gpu.CommandBufferLevel { return c.level }
func (c *CommandBuffer) State() gpu.CommandBufferState { return c.state }

// Commands returns the calls recorded since the last Begin or Reset.
func (c *CommandBuffer) Commands() []Command { return c.commands }

// Ops returns the op of every recorded command, in order.
func (c *CommandBuffer) Ops() []Op {
	ops := make([]Op, len(c.commands))
	for i, cmd := range c.commands {
		ops[i] = cmd.Op
	}
	return ops
}

// Count returns how many commands with op were recorded.
func (c *CommandBuffer) Count(op Op) int {
	n := 0
	for _, cmd := range c.commands {
		if cmd.Op == op {
			n++
		}
	}
	return n
}

// Find returns every recorded command with op.
func (c *CommandBuffer) Find(op Op) []Command {
	out := []Command{}
	for _, cmd := range c.commands {
		if cmd.Op == op {
			out = append(out, cmd)
		}
	}
	return out
}

func (c *CommandBuffer) record(cmd Command) {
	c.commands = append(c.commands, cmd)
}

func (c *CommandBuffer) Begin(inheritance *gpu.InheritanceInfo) error {
	if c.state != gpu.COMMAND_BUFFER_STATE_READY && c.state != gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("%w: begin in state %s", core.ErrInvalidCommandBufferState, c.state)
	}
	c.commands = nil
	c.record(Command{Op: OpBegin, Inheritance: inheritance})
	if inheritance != nil {
		c.state = gpu.COMMAND_BUFFER_STATE_IN_RENDER_PASS
	} else {
		c.state = gpu.COMMAND_BUFFER_STATE_RECORDING
	}
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.state.IsRecording() {
		return fmt.Errorf("%w: end in state %s", core.ErrInvalidCommandBufferState, c.state)
	}
	c.record(Command{Op: OpEnd})
	c.state = gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (c *CommandBuffer) Reset() error {
	if c.state == gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return fmt.Errorf("%w: reset of a freed command buffer", core.ErrInvalidCommandBufferState)
	}
	c.commands = nil
	c.state = gpu.COMMAND_BUFFER_STATE_READY
	return nil
}

// MarkSubmitted moves an ended buffer to the submitted state.
func (c *CommandBuffer) MarkSubmitted() error {
	if c.state != gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("%w: submit in state %s", core.ErrInvalidCommandBufferState, c.state)
	}
	c.state = gpu.COMMAND_BUFFER_STATE_SUBMITTED
	return nil
}

func (c *CommandBuffer) BeginRenderPass(pass gpu.RenderPass, fb gpu.Framebuffer, area gpu.Rect2D, clearValues []gpu.ClearValue, contents gpu.SubpassContents) {
	c.record(Command{
		Op:          OpBeginRenderPass,
		RenderPass:  pass,
		Framebuffer: fb,
		Scissor:     area,
		ClearValues: append([]gpu.ClearValue(nil), clearValues...),
		Contents:    contents,
	})
	c.state = gpu.COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (c *CommandBuffer) NextSubpass(contents gpu.SubpassContents) {
	c.record(Command{Op: OpNextSubpass, Contents: contents})
}

func (c *CommandBuffer) EndRenderPass() {
	c.record(Command{Op: OpEndRenderPass})
	c.state = gpu.COMMAND_BUFFER_STATE_RECORDING
}

func (c *CommandBuffer) ExecuteCommands(secondaries []gpu.CommandBuffer) {
	c.record(Command{Op: OpExecuteCommands, Secondaries: append([]gpu.CommandBuffer(nil), secondaries...)})
}

func (c *CommandBuffer) BindPipeline(pipeline gpu.Pipeline) {
	c.record(Command{Op: OpBindPipeline, Pipeline: pipeline})
}

func (c *CommandBuffer) BindDescriptorSets(layout gpu.PipelineLayout, firstSet uint32, sets []gpu.DescriptorSet, dynamicOffsets []uint32) {
	c.record(Command{
		Op:             OpBindDescriptorSets,
		Layout:         layout,
		FirstSet:       firstSet,
		Sets:           append([]gpu.DescriptorSet(nil), sets...),
		DynamicOffsets: append([]uint32(nil), dynamicOffsets...),
	})
}

func (c *CommandBuffer) BindVertexBuffers(firstBinding uint32, buffers []gpu.Buffer, offsets []uint64) {
	cmd := Command{Op: OpBindVertexBuffers, Count: uint32(len(buffers))}
	if len(buffers) > 0 {
		cmd.Buffer = buffers[0]
		cmd.Offset = offsets[0]
	}
	c.record(cmd)
}

func (c *CommandBuffer) BindIndexBuffer(buffer gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	c.record(Command{Op: OpBindIndexBuffer, Buffer: buffer, Offset: offset})
}

func (c *CommandBuffer) SetViewport(viewport gpu.Viewport) {
	c.record(Command{Op: OpSetViewport, Viewport: viewport})
}

func (c *CommandBuffer) SetScissor(scissor gpu.Rect2D) {
	c.record(Command{Op: OpSetScissor, Scissor: scissor})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record(Command{Op: OpDraw, Count: vertexCount})
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record(Command{Op: OpDrawIndexed, Count: indexCount})
}

func (c *CommandBuffer) DrawIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	c.record(Command{Op: OpDrawIndirect, Buffer: buffer, Offset: offset, Count: drawCount})
}

func (c *CommandBuffer) DrawIndexedIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	c.record(Command{Op: OpDrawIndexedIndirect, Buffer: buffer, Offset: offset, Count: drawCount})
}

func (c *CommandBuffer) PipelineBarrier(texture gpu.Texture, baseMip, mipCount uint32, oldLayout, newLayout gpu.ImageLayout) {
	c.record(Command{Op: OpPipelineBarrier, Texture: texture, OldLayout: oldLayout, NewLayout: newLayout, Count: mipCount})
}
